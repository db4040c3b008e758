package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/welleazyhts/Renewal-Backend/utils"
	"gorm.io/gorm"
)

// PolicyHolder is the customer/policy dataset campaign audiences are
// resolved against. Rows are upserted from validated upload rows.
type PolicyHolder struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	PolicyNumber string         `gorm:"size:64;not null;uniqueIndex:uk_policy_holders_policy_number" json:"policy_number"`
	FullName     string         `gorm:"size:255;not null" json:"full_name"`
	Email        *string        `gorm:"size:255;index:idx_policy_holders_email" json:"email,omitempty"`
	Phone        *string        `gorm:"size:20;index:idx_policy_holders_phone" json:"phone,omitempty"`
	WhatsApp     *string        `gorm:"size:20" json:"whatsapp,omitempty"`
	PolicyType   string         `gorm:"size:64;index:idx_policy_holders_policy_type" json:"policy_type"`
	City         *string        `gorm:"size:128;index:idx_policy_holders_city" json:"city,omitempty"`
	RenewalDate  time.Time      `gorm:"not null;index:idx_policy_holders_renewal_date" json:"renewal_date"`
	PremiumAmount *float64      `json:"premium_amount,omitempty"`
	Segments     pq.StringArray `gorm:"type:text[]" json:"segments,omitempty"`
	CreatedAt    time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

// TableName returns the table name for the model
func (PolicyHolder) TableName() string {
	return "policy_holders"
}

// BeforeUpdate is called before updating a record
func (p *PolicyHolder) BeforeUpdate(tx *gorm.DB) error {
	p.UpdatedAt = utils.UTCNow()
	return nil
}

// ContactFor returns the contact address usable for the given channel,
// or empty when the holder cannot be reached on it.
func (p *PolicyHolder) ContactFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return utils.FromPtr(p.Email)
	case ChannelSMS:
		return utils.FromPtr(p.Phone)
	case ChannelWhatsApp:
		if w := utils.FromPtr(p.WhatsApp); w != "" {
			return w
		}
		return utils.FromPtr(p.Phone)
	default:
		return ""
	}
}

// PolicyHolderFilter represents segmentation criteria for audience resolution
type PolicyHolderFilter struct {
	ID                 *uint           `json:"id,omitempty"`
	PolicyNumber       *string         `json:"policy_number,omitempty"`
	PolicyTypes        []string        `json:"policy_types,omitempty"`
	Cities             []string        `json:"cities,omitempty"`
	Segments           *pq.StringArray `json:"segments,omitempty"`
	RenewalDateAfter   *time.Time      `json:"renewal_date_after,omitempty"`
	RenewalDateBefore  *time.Time      `json:"renewal_date_before,omitempty"`
}
