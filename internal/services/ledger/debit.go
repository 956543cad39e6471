package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// fifoOrder drains the card closest to expiring first. Cards without an
// expiry go last; ties fall back to purchase order.
const fifoOrder = "CASE WHEN expires_at IS NULL THEN 1 ELSE 0 END, expires_at ASC, created_at ASC, id ASC"

// UsableCards scopes a query to cards that can be spent at now. Expiry is
// evaluated here rather than trusted to the sweep.
func UsableCards(db *gorm.DB, userID string, now time.Time) *gorm.DB {
	return db.Where("user_id = ? AND status = ? AND remaining_minutes > 0 AND (expires_at IS NULL OR expires_at > ?)",
		userID, models.TimeCardActive, now)
}

// Debit runs DebitTx in its own transaction.
func (s *Service) Debit(ctx context.Context, userID string, minutes int, sessionID string) (models.DebitResult, error) {
	var result models.DebitResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.DebitTx(tx, userID, minutes, sessionID, s.clock())
		return err
	})
	return result, err
}

// DebitTx deducts minutes from the user's usable cards in FIFO-by-expiry
// order inside the caller's transaction. It takes what is available and
// reports the rest as a shortfall; remaining_minutes never goes below zero.
//
// Selected cards are row-locked. Each update is also conditioned on the
// remaining_minutes value that was read, so stores without row locks fail
// with ErrConcurrentDebit instead of over-debiting.
func (s *Service) DebitTx(tx *gorm.DB, userID string, minutes int, sessionID string, now time.Time) (models.DebitResult, error) {
	if minutes < 0 {
		return models.DebitResult{}, models.NewValidationError("minutes to debit must not be negative", nil)
	}
	result := models.DebitResult{Requested: minutes}
	if minutes == 0 {
		result.Complete = true
		return result, nil
	}

	var cards []models.TimeCard
	if err := UsableCards(tx.Clauses(clause.Locking{Strength: "UPDATE"}), userID, now).
		Order(fifoOrder).
		Find(&cards).Error; err != nil {
		return models.DebitResult{}, fmt.Errorf("failed to lock time cards: %w", err)
	}

	owed := minutes
	for i := range cards {
		if owed == 0 {
			break
		}
		card := &cards[i]
		take := min(card.RemainingMinutes, owed)
		remaining := card.RemainingMinutes - take

		status := card.Status
		if remaining == 0 {
			status = models.TimeCardUsed
		}

		update := tx.Model(&models.TimeCard{}).
			Where("id = ? AND status = ? AND remaining_minutes = ?", card.ID, models.TimeCardActive, card.RemainingMinutes).
			Updates(map[string]any{
				"remaining_minutes": remaining,
				"status":            status,
				"updated_at":        now,
			})
		if update.Error != nil {
			return models.DebitResult{}, fmt.Errorf("failed to debit time card %s: %w", card.ID, update.Error)
		}
		if update.RowsAffected == 0 {
			return models.DebitResult{}, fmt.Errorf("%w: card %s", ErrConcurrentDebit, card.ID)
		}

		entry := models.CardDebit{
			ID:        generateID(),
			UserID:    userID,
			CardID:    card.ID,
			SessionID: sessionID,
			Minutes:   take,
			CreatedAt: now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return models.DebitResult{}, fmt.Errorf("failed to record card debit: %w", err)
		}

		result.Entries = append(result.Entries, entry)
		result.Deducted += take
		owed -= take
	}

	result.Complete = owed == 0
	return result, nil
}
