// Package ledger is the authoritative store of time cards: creation from
// confirmed payments, activation, refunds and the FIFO-by-expiry debit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/metrics"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/pricing"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCardNotFound = errors.New("time card not found")
	// ErrConcurrentDebit means a card changed between select and update.
	// The enclosing transaction is rolled back and the caller may retry.
	ErrConcurrentDebit = errors.New("time card modified concurrently")
)

// TierSource resolves pricing tiers at card creation time.
type TierSource interface {
	GetTier(ctx context.Context, id string) (*models.PricingTier, error)
}

type Service struct {
	db      *gorm.DB
	tiers   TierSource
	cfg     models.BillingConfig
	now     func() time.Time
	metrics *metrics.Billing
}

type Option func(*Service)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithMetrics(m *metrics.Billing) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(db *gorm.DB, tiers TierSource, cfg models.BillingConfig, opts ...Option) *Service {
	s := &Service{
		db:    db,
		tiers: tiers,
		cfg:   cfg,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// CreatePendingCard creates the card for a successful payment. The payment
// reference is unique in storage, so a replay returns the existing card with
// the Duplicate outcome instead of creating a second one.
func (s *Service) CreatePendingCard(ctx context.Context, params models.CreatePendingCardParams) (models.CardResult, error) {
	if params.UserID == "" || params.TierID == "" || params.PaymentReference == "" {
		return models.CardResult{}, models.NewValidationError("user_id, tier_id and payment_reference are required", nil)
	}

	if existing, err := s.cardByPayment(ctx, s.db, params.PaymentReference); err == nil {
		s.metrics.CardCreated(string(models.CardDuplicate))
		return models.CardResult{Card: existing, Outcome: models.CardDuplicate}, nil
	} else if !errors.Is(err, ErrCardNotFound) {
		return models.CardResult{}, err
	}

	tier, err := s.tiers.GetTier(ctx, params.TierID)
	if errors.Is(err, pricing.ErrTierNotFound) {
		return models.CardResult{}, models.NewValidationError(fmt.Sprintf("unknown pricing tier %q", params.TierID), err)
	}
	if err != nil {
		return models.CardResult{}, err
	}

	code, err := generateActivationCode()
	if err != nil {
		return models.CardResult{}, err
	}

	now := s.clock()
	card := models.TimeCard{
		ID:               generateID(),
		UserID:           params.UserID,
		TierID:           tier.ID,
		ActivationCode:   code,
		TotalMinutes:     tier.TotalMinutes(),
		RemainingMinutes: tier.TotalMinutes(),
		Status:           models.TimeCardPending,
		PaymentReference: params.PaymentReference,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_reference"}}, DoNothing: true}).
		Create(&card)
	if result.Error != nil {
		return models.CardResult{}, fmt.Errorf("failed to create time card: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		// Lost the race against a concurrent delivery of the same payment.
		existing, err := s.cardByPayment(ctx, s.db, params.PaymentReference)
		if err != nil {
			return models.CardResult{}, err
		}
		if existing.UserID != params.UserID {
			fiberlog.Warnf("payment %s replayed for user %s but card belongs to %s", params.PaymentReference, params.UserID, existing.UserID)
		}
		s.metrics.CardCreated(string(models.CardDuplicate))
		return models.CardResult{Card: existing, Outcome: models.CardDuplicate}, nil
	}

	s.metrics.CardCreated(string(models.CardCreated))
	fiberlog.Infof("created pending time card %s (%d min) for user %s from payment %s", card.ID, card.TotalMinutes, card.UserID, card.PaymentReference)
	return models.CardResult{Card: &card, Outcome: models.CardCreated}, nil
}

// OnPaymentConfirmed is the entry point for the payment collaborator. It is
// safe under at-least-once delivery. With auto_activate set, a card that is
// still pending is activated for the paying user.
func (s *Service) OnPaymentConfirmed(ctx context.Context, conf models.PaymentConfirmation) (models.CardResult, error) {
	res, err := s.CreatePendingCard(ctx, models.CreatePendingCardParams{
		UserID:           conf.UserID,
		TierID:           conf.TierID,
		PaymentReference: conf.PaymentReference,
	})
	if err != nil {
		return res, err
	}

	if !s.cfg.AutoActivate || res.Card.Status != models.TimeCardPending {
		return res, nil
	}

	act, err := s.ActivateCard(ctx, models.ActivateCardParams{CardRef: res.Card.ID, UserID: conf.UserID})
	if err != nil {
		return res, err
	}
	if act.Card != nil {
		res.Card = act.Card
	}
	if !act.Succeeded() {
		fiberlog.Warnf("auto-activation of card %s returned %s", res.Card.ID, act.Outcome)
	}
	return res, nil
}

// ActivateCard starts a pending card's validity clock. The card is found by
// id or activation code. Every expected refusal is reported as an outcome.
func (s *Service) ActivateCard(ctx context.Context, params models.ActivateCardParams) (models.ActivationResult, error) {
	ref := normalizeCardRef(params.CardRef)
	if ref == "" || params.UserID == "" {
		return models.ActivationResult{}, models.NewValidationError("card reference and user_id are required", nil)
	}

	var result models.ActivationResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card models.TimeCard
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? OR activation_code = ?", ref, ref).
			First(&card).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result = models.ActivationResult{Outcome: models.ActivationNotFound}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock time card: %w", err)
		}

		if card.UserID != params.UserID {
			result = models.ActivationResult{Outcome: models.ActivationNotOwned}
			return nil
		}

		now := s.clock()
		switch card.Status {
		case models.TimeCardRefunded:
			result = models.ActivationResult{Card: &card, Outcome: models.ActivationRefunded}
			return nil
		case models.TimeCardExpired:
			result = models.ActivationResult{Card: &card, Outcome: models.ActivationExpired}
			return nil
		case models.TimeCardActive, models.TimeCardUsed:
			result = models.ActivationResult{Card: &card, Outcome: models.ActivationAlreadyActive}
			return nil
		}

		if pe := s.cfg.PendingExpiry(); pe > 0 && !card.CreatedAt.Add(pe).After(now) {
			if err := tx.Model(&card).Where("status = ?", models.TimeCardPending).
				Updates(map[string]any{"status": models.TimeCardExpired, "updated_at": now}).Error; err != nil {
				return fmt.Errorf("failed to expire pending card: %w", err)
			}
			card.Status = models.TimeCardExpired
			result = models.ActivationResult{Card: &card, Outcome: models.ActivationExpired}
			return nil
		}

		expiresAt := now.Add(s.cfg.ValidityPeriod())
		update := tx.Model(&models.TimeCard{}).
			Where("id = ? AND status = ?", card.ID, models.TimeCardPending).
			Updates(map[string]any{
				"status":            models.TimeCardActive,
				"activated_at":      now,
				"expires_at":        expiresAt,
				"remaining_minutes": card.TotalMinutes,
				"updated_at":        now,
			})
		if update.Error != nil {
			return fmt.Errorf("failed to activate time card: %w", update.Error)
		}
		if update.RowsAffected == 0 {
			if err := tx.Where("id = ?", card.ID).First(&card).Error; err != nil {
				return fmt.Errorf("failed to reload time card: %w", err)
			}
			result = models.ActivationResult{Card: &card, Outcome: models.ActivationAlreadyActive}
			return nil
		}

		card.Status = models.TimeCardActive
		card.ActivatedAt = &now
		card.ExpiresAt = &expiresAt
		card.RemainingMinutes = card.TotalMinutes
		card.UpdatedAt = now
		result = models.ActivationResult{Card: &card, Outcome: models.ActivationActivated}
		return nil
	})
	if err != nil {
		return models.ActivationResult{}, err
	}

	s.metrics.CardActivation(string(result.Outcome))
	if result.Outcome == models.ActivationActivated {
		fiberlog.Infof("activated time card %s for user %s, expires %s", result.Card.ID, result.Card.UserID, result.Card.ExpiresAt.Format(time.RFC3339))
	}
	return result, nil
}

// ApplyRefund marks a card refunded. Refunding twice is a no-op.
func (s *Service) ApplyRefund(ctx context.Context, cardID string) (models.RefundResult, error) {
	var result models.RefundResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card models.TimeCard
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", cardID).
			First(&card).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCardNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock time card: %w", err)
		}

		if card.Status == models.TimeCardRefunded {
			result = models.RefundResult{Card: &card, Outcome: models.RefundAlreadyRefunded}
			return nil
		}

		now := s.clock()
		if err := tx.Model(&card).Updates(map[string]any{
			"status":     models.TimeCardRefunded,
			"updated_at": now,
		}).Error; err != nil {
			return fmt.Errorf("failed to refund time card: %w", err)
		}
		card.Status = models.TimeCardRefunded
		result = models.RefundResult{Card: &card, Outcome: models.RefundApplied}
		return nil
	})
	if err != nil {
		return models.RefundResult{}, err
	}

	if result.Outcome == models.RefundApplied {
		fiberlog.Infof("refunded time card %s for user %s with %d minutes left", result.Card.ID, result.Card.UserID, result.Card.RemainingMinutes)
	}
	return result, nil
}

// ApplyRefundByPayment refunds the card created for a payment.
func (s *Service) ApplyRefundByPayment(ctx context.Context, paymentReference string) (models.RefundResult, error) {
	card, err := s.cardByPayment(ctx, s.db, paymentReference)
	if err != nil {
		return models.RefundResult{}, err
	}
	return s.ApplyRefund(ctx, card.ID)
}

func (s *Service) GetCard(ctx context.Context, cardID string) (*models.TimeCard, error) {
	var card models.TimeCard
	err := s.db.WithContext(ctx).Where("id = ?", cardID).First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get time card: %w", err)
	}
	return &card, nil
}

// ListCards returns every card the user owns, newest first.
func (s *Service) ListCards(ctx context.Context, userID string) ([]models.TimeCard, error) {
	var cards []models.TimeCard
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&cards).Error; err != nil {
		return nil, fmt.Errorf("failed to list time cards: %w", err)
	}
	return cards, nil
}

func (s *Service) cardByPayment(ctx context.Context, db *gorm.DB, paymentReference string) (*models.TimeCard, error) {
	var card models.TimeCard
	err := db.WithContext(ctx).Where("payment_reference = ?", paymentReference).First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get time card by payment: %w", err)
	}
	return &card, nil
}
