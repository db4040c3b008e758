package utils

import "time"

// Redis keys shared across components
const (
	CampaignPauseSetKey       = "campaigns:paused"
	ProgressSequenceKeyPrefix = "progress:seq:"
	ProgressChannelPrefix     = "progress:"
	ProgressSequenceTTL       = 7 * 24 * time.Hour
)

// HTTP constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Ingestion defaults
const (
	DefaultProgressCheckpoint = 500
	DefaultMaxRows            = 1_000_000
)

// Queue defaults
const (
	DefaultLeaseWindow = 2 * time.Minute
	DefaultMaxAttempts = 5
	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffMax  = 30 * time.Minute
	DefaultDeliverySLA = 6 * time.Hour
)

// Date layouts accepted for renewal dates in uploaded files. Parsing is
// explicit; an unparsable value is a row-level error, never a default.
var RenewalDateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"01-02-2006",
	"2006/01/02",
}
