package services

import (
	"fmt"
	"strings"

	"github.com/welleazyhts/Renewal-Backend/models"
	"github.com/welleazyhts/Renewal-Backend/utils"
)

// RenderTemplate substitutes {{placeholder}} tokens in the campaign
// template body with the policy holder's fields. Unknown placeholders
// are left in place so a typo shows up in review sends instead of
// silently vanishing.
func RenderTemplate(body string, holder *models.PolicyHolder) string {
	replacements := map[string]string{
		"name":           holder.FullName,
		"full_name":      holder.FullName,
		"policy_number":  holder.PolicyNumber,
		"policy_type":    holder.PolicyType,
		"city":           utils.FromPtr(holder.City),
		"renewal_date":   holder.RenewalDate.Format("02 Jan 2006"),
		"premium_amount": formatPremium(holder.PremiumAmount),
	}

	out := body
	for token, value := range replacements {
		out = strings.ReplaceAll(out, "{{"+token+"}}", value)
	}
	return out
}

func formatPremium(amount *float64) string {
	if amount == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *amount)
}
