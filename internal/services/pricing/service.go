// Package pricing serves the catalog of purchasable minute packages.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrTierNotFound = errors.New("pricing tier not found")

// DefaultTiers is the catalog a fresh install starts with.
var DefaultTiers = []models.PricingTier{
	{ID: "starter_1h", Name: "Starter", Description: "1 hour of conversation", Minutes: 60, Price: 999, Currency: "usd", Active: true},
	{ID: "basic_5h", Name: "Basic", Description: "5 hours plus 30 bonus minutes", Minutes: 300, BonusMinutes: 30, Price: 4499, Currency: "usd", Active: true},
	{ID: "premium_10h", Name: "Premium", Description: "10 hours plus 2 bonus hours", Minutes: 600, BonusMinutes: 120, Price: 7999, Currency: "usd", Active: true},
	{ID: "pro_25h", Name: "Pro", Description: "25 hours plus 5 bonus hours", Minutes: 1500, BonusMinutes: 300, Price: 17999, Currency: "usd", Active: true},
	{ID: "enterprise_50h", Name: "Enterprise", Description: "50 hours plus 10 bonus hours", Minutes: 3000, BonusMinutes: 600, Price: 29999, Currency: "usd", Active: true},
}

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ListActiveTiers returns purchasable tiers, smallest first. A storage failure
// yields an empty list so the purchase page still renders.
func (s *Service) ListActiveTiers(ctx context.Context) []models.PricingTier {
	var tiers []models.PricingTier
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("minutes ASC").
		Order("id ASC").
		Find(&tiers).Error
	if err != nil {
		fiberlog.Errorf("failed to list pricing tiers: %v", err)
		return []models.PricingTier{}
	}
	return tiers
}

// GetTier looks a tier up by id regardless of its active flag; cards already
// bought from a retired tier still resolve.
func (s *Service) GetTier(ctx context.Context, id string) (*models.PricingTier, error) {
	var tier models.PricingTier
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&tier).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTierNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pricing tier %s: %w", id, err)
	}
	return &tier, nil
}

// Upsert creates a tier or replaces its mutable fields. Once a card or a
// payment references a tier, only name, description and active may change;
// the minutes and price a buyer was quoted stay frozen.
func (s *Service) Upsert(ctx context.Context, tier models.PricingTier) (*models.PricingTier, error) {
	if err := tier.Validate(); err != nil {
		return nil, err
	}
	if tier.Currency == "" {
		tier.Currency = "usd"
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.PricingTier
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", tier.ID).First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to load pricing tier %s: %w", tier.ID, err)
		}
		if err == nil && !sameTerms(existing, tier) {
			inUse, err := referenced(tx, tier.ID)
			if err != nil {
				return err
			}
			if inUse {
				return models.NewConflictError("TIER_IN_USE",
					fmt.Sprintf("pricing tier %s has purchases; only name, description and active can change", tier.ID))
			}
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "minutes", "bonus_minutes", "price", "currency", "active", "updated_at"}),
		}).Create(&tier).Error
	})
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to upsert pricing tier %s: %w", tier.ID, err)
	}
	return &tier, nil
}

func sameTerms(a, b models.PricingTier) bool {
	return a.Minutes == b.Minutes &&
		a.BonusMinutes == b.BonusMinutes &&
		a.Price == b.Price &&
		strings.EqualFold(a.Currency, b.Currency)
}

// referenced reports whether any card or payment row points at the tier.
// Pending payment rows count: they carry the quote of an unfinished checkout.
func referenced(tx *gorm.DB, tierID string) (bool, error) {
	for _, model := range []any{&models.TimeCard{}, &models.Payment{}} {
		var count int64
		if err := tx.Model(model).Where("tier_id = ?", tierID).Limit(1).Count(&count).Error; err != nil {
			return false, fmt.Errorf("failed to check references to pricing tier %s: %w", tierID, err)
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Deactivate hides a tier from the catalog without touching cards bought from it.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&models.PricingTier{}).
		Where("id = ?", id).
		Update("active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate pricing tier %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTierNotFound
	}
	return nil
}

// SeedDefaults inserts DefaultTiers that are missing. Existing rows are left
// alone so admin edits survive restarts.
func (s *Service) SeedDefaults(ctx context.Context) error {
	tiers := make([]models.PricingTier, len(DefaultTiers))
	copy(tiers, DefaultTiers)

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&tiers).Error
	if err != nil {
		return fmt.Errorf("failed to seed pricing tiers: %w", err)
	}
	return nil
}
