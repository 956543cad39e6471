package models

import "time"

// PricingTier is a purchasable minute package. Price is in minor currency units.
type PricingTier struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	Name         string    `gorm:"not null;size:255" json:"name"`
	Description  string    `gorm:"type:text;default:''" json:"description,omitzero"`
	Minutes      int       `gorm:"not null" json:"minutes"`
	BonusMinutes int       `gorm:"not null;default:0" json:"bonus_minutes"`
	Price        int64     `gorm:"not null" json:"price"`
	Currency     string    `gorm:"not null;size:3;default:'usd'" json:"currency"`
	Active       bool      `gorm:"not null;index" json:"active"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// TotalMinutes is what a card bought from this tier is worth.
func (t PricingTier) TotalMinutes() int {
	return t.Minutes + t.BonusMinutes
}

func (t PricingTier) Validate() error {
	if t.ID == "" {
		return NewValidationError("tier id is required", nil)
	}
	if t.Minutes <= 0 {
		return NewValidationError("tier minutes must be greater than 0", nil)
	}
	if t.BonusMinutes < 0 {
		return NewValidationError("tier bonus minutes must not be negative", nil)
	}
	if t.Price <= 0 {
		return NewValidationError("tier price must be greater than 0", nil)
	}
	return nil
}
