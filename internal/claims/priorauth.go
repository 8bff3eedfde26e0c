// Package claims: prior-authorization validity.
package claims

import (
	"math"
	"time"
)

// PAStatus is the determination state of a prior-authorization request.
type PAStatus string

const (
	PAPending     PAStatus = "pending"
	PAApproved    PAStatus = "approved"
	PADenied      PAStatus = "denied"
	PAPendingInfo PAStatus = "pending_info"
)

// PriorAuthorization is a payer prior-authorization determination.
type PriorAuthorization struct {
	ID                  string     `json:"id"`
	Status              PAStatus   `json:"status"`
	AuthorizationNumber string     `json:"authorization_number,omitempty"`
	AuthorizedQuantity  float64    `json:"authorized_quantity,omitempty"`
	AuthorizedRefills   int        `json:"authorized_refills,omitempty"`
	ExpirationDate      *time.Time `json:"expiration_date,omitempty"`
}

// IsPriorAuthValid reports whether a PA covers a claim right now: approved,
// and either open-ended or not yet expired. Validity flips to false exactly
// at the expiration instant.
func IsPriorAuthValid(pa PriorAuthorization, now time.Time) bool {
	if pa.Status != PAApproved {
		return false
	}
	if pa.ExpirationDate == nil {
		return true
	}
	return now.Before(*pa.ExpirationDate)
}

// DaysUntilPAExpiration returns the whole days until the PA expires,
// floored at zero once expired, or nil when no expiration is set.
func DaysUntilPAExpiration(pa PriorAuthorization, now time.Time) *int {
	if pa.ExpirationDate == nil {
		return nil
	}
	days := int(math.Ceil(pa.ExpirationDate.Sub(now).Hours() / 24))
	if days < 0 {
		days = 0
	}
	return &days
}
