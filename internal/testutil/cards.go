package testutil

import (
	"strings"
	"testing"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// CardOption tweaks a card before SeedCard inserts it.
type CardOption func(*models.TimeCard)

func ExpiringAt(t time.Time) CardOption {
	return func(c *models.TimeCard) {
		at := t.UTC()
		c.ExpiresAt = &at
	}
}

func WithStatus(status models.TimeCardStatus) CardOption {
	return func(c *models.TimeCard) {
		c.Status = status
	}
}

func FromTier(tierID string) CardOption {
	return func(c *models.TimeCard) {
		c.TierID = tierID
	}
}

func CreatedAt(t time.Time) CardOption {
	return func(c *models.TimeCard) {
		c.CreatedAt = t.UTC()
		c.UpdatedAt = t.UTC()
	}
}

// SeedCard inserts an active card holding minutes that never expires unless
// an option says otherwise.
func SeedCard(t *testing.T, db *gorm.DB, userID string, minutes int, opts ...CardOption) models.TimeCard {
	t.Helper()

	id := uuid.New().String()
	raw := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	now := time.Now().UTC()
	card := models.TimeCard{
		ID:               id,
		UserID:           userID,
		TierID:           "seed",
		ActivationCode:   raw[0:4] + "-" + raw[4:8] + "-" + raw[8:12],
		TotalMinutes:     minutes,
		RemainingMinutes: minutes,
		Status:           models.TimeCardActive,
		PaymentReference: "pi_seed_" + id,
		ActivatedAt:      &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, opt := range opts {
		opt(&card)
	}

	require.NoError(t, db.Create(&card).Error)
	return card
}

// ReloadCard fetches the current row for card.
func ReloadCard(t *testing.T, db *gorm.DB, id string) models.TimeCard {
	t.Helper()

	var card models.TimeCard
	require.NoError(t, db.Where("id = ?", id).First(&card).Error)
	return card
}
