// Package balance derives a user's spendable minutes from the ledger.
package balance

import (
	"context"
	"fmt"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/ledger"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func NewService(db *gorm.DB, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{db: db, now: now}
}

// GetBalance sums the usable cards at the current instant. Cards past their
// expiry are excluded whether or not the sweep has flipped them yet.
func (s *Service) GetBalance(ctx context.Context, userID string) (models.Balance, error) {
	return s.balanceAt(s.db.WithContext(ctx), userID, s.now().UTC())
}

// GetBalanceTx reads the balance inside an existing transaction.
func (s *Service) GetBalanceTx(tx *gorm.DB, userID string, now time.Time) (models.Balance, error) {
	return s.balanceAt(tx, userID, now)
}

func (s *Service) balanceAt(db *gorm.DB, userID string, now time.Time) (models.Balance, error) {
	var cards []models.TimeCard
	if err := ledger.UsableCards(db.Model(&models.TimeCard{}), userID, now).
		Select("remaining_minutes", "expires_at").
		Find(&cards).Error; err != nil {
		return models.Balance{}, fmt.Errorf("failed to compute balance for user %s: %w", userID, err)
	}

	// Summed in Go: MIN over timestamps comes back as text on sqlite.
	total := 0
	var next *time.Time
	for _, c := range cards {
		total += c.RemainingMinutes
		if c.ExpiresAt != nil && (next == nil || c.ExpiresAt.Before(*next)) {
			at := c.ExpiresAt.UTC()
			next = &at
		}
	}
	return models.NewBalance(userID, total, len(cards), next), nil
}

// HasMinutes is the pre-flight check consulted before a call is allowed to start.
func (s *Service) HasMinutes(ctx context.Context, userID string) (bool, error) {
	b, err := s.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return b.TotalMinutes > 0, nil
}

// CleanupExpired flips active cards whose validity window has closed to
// expired. It is housekeeping only; balance reads never depend on it.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	result := s.db.WithContext(ctx).Model(&models.TimeCard{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.TimeCardActive, now).
		Updates(map[string]any{
			"status":     models.TimeCardExpired,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to expire time cards: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		fiberlog.Infof("expired %d time cards", result.RowsAffected)
	}
	return result.RowsAffected, nil
}
