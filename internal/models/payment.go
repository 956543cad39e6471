package models

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment is the history row for a payment processor confirmation.
type Payment struct {
	ID               string        `gorm:"primaryKey;size:36" json:"id"`
	UserID           string        `gorm:"not null;size:255;index" json:"user_id"`
	TierID           string        `gorm:"size:64;default:''" json:"tier_id"`
	PaymentReference string        `gorm:"not null;size:255;uniqueIndex" json:"payment_reference"`
	Amount           int64         `gorm:"not null;default:0" json:"amount"`
	Currency         string        `gorm:"not null;size:3;default:'usd'" json:"currency"`
	Status           PaymentStatus `gorm:"not null;size:16" json:"status"`
	TimeCardID       *string       `gorm:"size:36" json:"time_card_id"`
	CreatedAt        time.Time     `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// PaymentConfirmation is what the payment collaborator hands the core.
type PaymentConfirmation struct {
	PaymentReference string
	UserID           string
	TierID           string
	Amount           int64
	Currency         string
}
