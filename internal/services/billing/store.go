package billing

import (
	"errors"
	"fmt"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var onOpenKeyConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "open_key"}},
	DoNothing: true,
}

func lockSession(tx *gorm.DB, id string) (*models.BillingSession, error) {
	var session models.BillingSession
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock billing session: %w", err)
	}
	return &session, nil
}

func findSession(db *gorm.DB, id string) (*models.BillingSession, error) {
	var session models.BillingSession
	err := db.Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing session: %w", err)
	}
	return &session, nil
}
