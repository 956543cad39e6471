package models

import "time"

type TimeCardStatus string

const (
	TimeCardPending  TimeCardStatus = "pending"
	TimeCardActive   TimeCardStatus = "active"
	TimeCardUsed     TimeCardStatus = "used"
	TimeCardExpired  TimeCardStatus = "expired"
	TimeCardRefunded TimeCardStatus = "refunded"
)

// TimeCard is one grant of purchased minutes.
// PaymentReference is unique: one successful payment maps to exactly one card.
type TimeCard struct {
	ID               string         `gorm:"primaryKey;size:36" json:"id"`
	UserID           string         `gorm:"not null;size:255;index" json:"user_id"`
	TierID           string         `gorm:"not null;size:64" json:"tier_id"`
	ActivationCode   string         `gorm:"not null;size:14;uniqueIndex" json:"activation_code"`
	TotalMinutes     int            `gorm:"not null" json:"total_minutes"`
	RemainingMinutes int            `gorm:"not null" json:"remaining_minutes"`
	Status           TimeCardStatus `gorm:"not null;size:16;index;default:'pending'" json:"status"`
	PaymentReference string         `gorm:"not null;size:255;uniqueIndex" json:"payment_reference"`
	ActivatedAt      *time.Time     `json:"activated_at"`
	ExpiresAt        *time.Time     `gorm:"index" json:"expires_at"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

// UsableAt reports whether the card can be debited at the given instant.
func (c *TimeCard) UsableAt(now time.Time) bool {
	if c.Status != TimeCardActive || c.RemainingMinutes <= 0 {
		return false
	}
	return c.ExpiresAt == nil || c.ExpiresAt.After(now)
}

// CardDebit is the audit line written for every card touched by a debit.
type CardDebit struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"not null;size:255;index" json:"user_id"`
	CardID    string    `gorm:"not null;size:36;index" json:"card_id"`
	SessionID string    `gorm:"not null;size:36;index" json:"session_id"`
	Minutes   int       `gorm:"not null" json:"minutes"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

// DebitResult describes what a FIFO debit actually took from the ledger.
type DebitResult struct {
	Requested int         `json:"requested"`
	Deducted  int         `json:"deducted"`
	Complete  bool        `json:"complete"`
	Entries   []CardDebit `json:"entries,omitempty"`
}

// Shortfall is the part of the request that no card could cover.
func (r DebitResult) Shortfall() int {
	return r.Requested - r.Deducted
}

type CreatePendingCardParams struct {
	UserID           string
	TierID           string
	PaymentReference string
}

type ActivateCardParams struct {
	// CardRef is either the card id or its activation code.
	CardRef string
	UserID  string
}
