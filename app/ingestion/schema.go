// Package ingestion validates bulk policy holder files row by row and
// normalizes them into the policy holder dataset.
package ingestion

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/welleazyhts/Renewal-Backend/models"
	"github.com/welleazyhts/Renewal-Backend/utils"
)

// Canonical column names recognized in upload headers
const (
	ColPolicyNumber  = "policy_number"
	ColFullName      = "full_name"
	ColEmail         = "email"
	ColPhone         = "phone"
	ColWhatsApp      = "whatsapp"
	ColPolicyType    = "policy_type"
	ColCity          = "city"
	ColRenewalDate   = "renewal_date"
	ColPremiumAmount = "premium_amount"
	ColSegments      = "segments"
)

// Row error codes persisted on failed rows
const (
	ErrCodeMissingRequired = "missing_required"
	ErrCodeInvalidEmail    = "invalid_email"
	ErrCodeInvalidPhone    = "invalid_phone"
	ErrCodeInvalidDate     = "invalid_date"
	ErrCodeInvalidAmount   = "invalid_amount"
	ErrCodeNoContact       = "no_contact"
	ErrCodeDuplicateInFile = "duplicate_in_file"
)

var (
	cellValidator = validator.New()
	phonePattern  = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// requiredColumns must all be present in the header row. Contact
// columns are checked separately: at least one of email/phone/whatsapp
// must exist.
var requiredColumns = []string{ColPolicyNumber, ColFullName, ColRenewalDate}

var contactColumns = []string{ColEmail, ColPhone, ColWhatsApp}

// RowError describes why a single row failed validation
type RowError struct {
	Code   string
	Field  string
	Detail string
}

// NormalizedRow is the cleaned form of one valid input row
type NormalizedRow struct {
	PolicyNumber  string    `json:"policy_number"`
	FullName      string    `json:"full_name"`
	Email         *string   `json:"email,omitempty"`
	Phone         *string   `json:"phone,omitempty"`
	WhatsApp      *string   `json:"whatsapp,omitempty"`
	PolicyType    string    `json:"policy_type"`
	City          *string   `json:"city,omitempty"`
	RenewalDate   time.Time `json:"renewal_date"`
	PremiumAmount *float64  `json:"premium_amount,omitempty"`
	Segments      []string  `json:"segments,omitempty"`
}

// ToPolicyHolder converts the normalized row into the dataset entity
func (n *NormalizedRow) ToPolicyHolder() *models.PolicyHolder {
	return &models.PolicyHolder{
		PolicyNumber:  n.PolicyNumber,
		FullName:      n.FullName,
		Email:         n.Email,
		Phone:         n.Phone,
		WhatsApp:      n.WhatsApp,
		PolicyType:    n.PolicyType,
		City:          n.City,
		RenewalDate:   n.RenewalDate,
		PremiumAmount: n.PremiumAmount,
		Segments:      pq.StringArray(n.Segments),
	}
}

// MarshalRaw serializes the raw cell map for the row result record
func MarshalRaw(raw map[string]string) json.RawMessage {
	b, err := json.Marshal(raw)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// canonicalColumn normalizes a header cell to its canonical column name
func canonicalColumn(header string) string {
	c := strings.ToLower(strings.TrimSpace(header))
	c = strings.ReplaceAll(c, " ", "_")
	c = strings.ReplaceAll(c, "-", "_")
	switch c {
	case "policy_no", "policy_num", "policyno":
		return ColPolicyNumber
	case "name", "customer_name", "holder_name":
		return ColFullName
	case "email_address", "email_id":
		return ColEmail
	case "mobile", "mobile_number", "phone_number", "contact_number":
		return ColPhone
	case "whatsapp_number", "wa_number":
		return ColWhatsApp
	case "renewal", "renewal_dt", "expiry_date":
		return ColRenewalDate
	case "premium", "amount":
		return ColPremiumAmount
	case "segment", "tags":
		return ColSegments
	default:
		return c
	}
}

// headerIndex maps canonical column names to their positions. Returns
// the list of missing required columns.
func headerIndex(header []string) (map[string]int, []string) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		col := canonicalColumn(h)
		if col == "" {
			continue
		}
		if _, seen := index[col]; !seen {
			index[col] = i
		}
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	hasContact := false
	for _, col := range contactColumns {
		if _, ok := index[col]; ok {
			hasContact = true
			break
		}
	}
	if !hasContact {
		missing = append(missing, "email|phone|whatsapp")
	}
	return index, missing
}

// validateRow validates and normalizes one data row. seen tracks policy
// numbers already accepted within this file.
func validateRow(index map[string]int, record []string, seen map[string]struct{}) (*NormalizedRow, *RowError) {
	cell := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	policyNumber := cell(ColPolicyNumber)
	if policyNumber == "" {
		return nil, &RowError{Code: ErrCodeMissingRequired, Field: ColPolicyNumber, Detail: "policy number is empty"}
	}
	if _, dup := seen[policyNumber]; dup {
		return nil, &RowError{Code: ErrCodeDuplicateInFile, Field: ColPolicyNumber, Detail: "policy number repeats within the file"}
	}

	fullName := cell(ColFullName)
	if fullName == "" {
		return nil, &RowError{Code: ErrCodeMissingRequired, Field: ColFullName, Detail: "full name is empty"}
	}

	row := &NormalizedRow{
		PolicyNumber: policyNumber,
		FullName:     fullName,
		PolicyType:   cell(ColPolicyType),
	}

	if email := cell(ColEmail); email != "" {
		if err := cellValidator.Var(email, "email"); err != nil {
			return nil, &RowError{Code: ErrCodeInvalidEmail, Field: ColEmail, Detail: "email format is invalid"}
		}
		row.Email = utils.ToPtr(strings.ToLower(email))
	}
	if phone := normalizePhone(cell(ColPhone)); phone != "" {
		if !phonePattern.MatchString(phone) {
			return nil, &RowError{Code: ErrCodeInvalidPhone, Field: ColPhone, Detail: "phone format is invalid"}
		}
		row.Phone = utils.ToPtr(phone)
	} else if cell(ColPhone) != "" {
		return nil, &RowError{Code: ErrCodeInvalidPhone, Field: ColPhone, Detail: "phone format is invalid"}
	}
	if wa := normalizePhone(cell(ColWhatsApp)); wa != "" {
		if !phonePattern.MatchString(wa) {
			return nil, &RowError{Code: ErrCodeInvalidPhone, Field: ColWhatsApp, Detail: "whatsapp number format is invalid"}
		}
		row.WhatsApp = utils.ToPtr(wa)
	}
	if row.Email == nil && row.Phone == nil && row.WhatsApp == nil {
		return nil, &RowError{Code: ErrCodeNoContact, Field: "contact", Detail: "row has no usable contact"}
	}

	rd := cell(ColRenewalDate)
	if rd == "" {
		return nil, &RowError{Code: ErrCodeMissingRequired, Field: ColRenewalDate, Detail: "renewal date is empty"}
	}
	parsed, ok := parseRenewalDate(rd)
	if !ok {
		return nil, &RowError{Code: ErrCodeInvalidDate, Field: ColRenewalDate, Detail: "renewal date is not in a recognized format"}
	}
	row.RenewalDate = parsed

	if amount := cell(ColPremiumAmount); amount != "" {
		f, err := strconv.ParseFloat(strings.ReplaceAll(amount, ",", ""), 64)
		if err != nil || f < 0 {
			return nil, &RowError{Code: ErrCodeInvalidAmount, Field: ColPremiumAmount, Detail: "premium amount is not a valid number"}
		}
		row.PremiumAmount = utils.ToPtr(f)
	}

	if segments := cell(ColSegments); segments != "" {
		row.Segments = splitSegments(segments)
	}

	if city := cell(ColCity); city != "" {
		row.City = utils.ToPtr(city)
	}

	seen[policyNumber] = struct{}{}
	return row, nil
}

func normalizePhone(raw string) string {
	if raw == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		} else if r == ' ' || r == '-' || r == '(' || r == ')' {
			continue
		} else {
			return raw
		}
	}
	return b.String()
}

func parseRenewalDate(raw string) (time.Time, bool) {
	for _, layout := range utils.RenewalDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func splitSegments(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '|' || r == ';'
	})
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
