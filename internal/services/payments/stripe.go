// Package payments connects Stripe to the time card ledger: purchase
// intents on the way out, webhook confirmations and refunds on the way in.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/ledger"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/metrics"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/pricing"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	metadataUserID = "user_id"
	metadataTierID = "tier_id"
)

var ErrInvalidSignature = errors.New("failed to verify webhook signature")

// IntentCreator creates a PaymentIntent; the default calls the Stripe API.
type IntentCreator func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)

type StripeService struct {
	db            *gorm.DB
	webhookSecret string
	currency      string
	ledger        *ledger.Service
	tiers         *pricing.Service
	createIntent  IntentCreator
	metrics       *metrics.Billing
}

type Option func(*StripeService)

func WithIntentCreator(fn IntentCreator) Option {
	return func(s *StripeService) { s.createIntent = fn }
}

func WithMetrics(m *metrics.Billing) Option {
	return func(s *StripeService) { s.metrics = m }
}

func NewStripeService(cfg models.StripeConfig, db *gorm.DB, ledgerSvc *ledger.Service, tiers *pricing.Service, opts ...Option) *StripeService {
	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)

	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	s := &StripeService{
		db:            db,
		webhookSecret: cfg.WebhookSecret,
		currency:      currency,
		ledger:        ledgerSvc,
		tiers:         tiers,
		createIntent:  sc.PaymentIntents.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type PurchaseIntent struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	TierID          string `json:"tier_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Minutes         int    `json:"minutes"`
}

// CreatePurchaseIntent starts a purchase of tierID for userID. The card is
// created later, when Stripe confirms the payment through the webhook.
func (s *StripeService) CreatePurchaseIntent(ctx context.Context, userID, tierID string) (*PurchaseIntent, error) {
	tier, err := s.tiers.GetTier(ctx, tierID)
	if errors.Is(err, pricing.ErrTierNotFound) {
		return nil, models.NewValidationError(fmt.Sprintf("unknown pricing tier %q", tierID), err)
	}
	if err != nil {
		return nil, err
	}
	if !tier.Active {
		return nil, models.NewValidationError(fmt.Sprintf("pricing tier %q is no longer sold", tierID), nil)
	}

	currency := tier.Currency
	if currency == "" {
		currency = s.currency
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(tier.Price),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Description: stripe.String(fmt.Sprintf("%s (%d minutes)", tier.Name, tier.TotalMinutes())),
	}
	params.Context = ctx
	params.AddMetadata(metadataUserID, userID)
	params.AddMetadata(metadataTierID, tier.ID)

	pi, err := s.createIntent(params)
	if err != nil {
		return nil, models.NewInternalError("failed to create payment intent", err)
	}

	// The pending row pins the tier's terms until Stripe confirms the payment.
	if err := s.recordPayment(ctx, models.Payment{
		UserID:           userID,
		TierID:           tier.ID,
		PaymentReference: pi.ID,
		Amount:           tier.Price,
		Currency:         currency,
		Status:           models.PaymentPending,
	}); err != nil {
		return nil, models.NewInternalError("failed to record purchase", err)
	}

	fiberlog.Infof("created payment intent %s for user %s, tier %s", pi.ID, userID, tier.ID)
	return &PurchaseIntent{
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		TierID:          tier.ID,
		Amount:          tier.Price,
		Currency:        currency,
		Minutes:         tier.TotalMinutes(),
	}, nil
}

// HandleWebhook verifies and applies a Stripe event. A nil error means the
// event is done with and Stripe may stop redelivering it; that includes
// events that are malformed beyond repair.
func (s *StripeService) HandleWebhook(ctx context.Context, payload []byte, signature string) (string, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.metrics.WebhookEvent("stripe", "unknown", "rejected")
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	eventType := string(event.Type)
	switch eventType {
	case "payment_intent.succeeded":
		err = s.handlePaymentIntentSucceeded(ctx, event)
	case "payment_intent.payment_failed":
		err = s.handlePaymentIntentFailed(ctx, event)
	case "charge.refunded":
		err = s.handleChargeRefunded(ctx, event)
	default:
		fiberlog.Debugf("ignoring stripe event %s (%s)", event.ID, eventType)
		s.metrics.WebhookEvent("stripe", eventType, "ignored")
		return eventType, nil
	}

	if err != nil {
		s.metrics.WebhookEvent("stripe", eventType, "error")
		return eventType, err
	}
	s.metrics.WebhookEvent("stripe", eventType, "ok")
	return eventType, nil
}

func (s *StripeService) handlePaymentIntentSucceeded(ctx context.Context, event stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		fiberlog.Errorf("stripe event %s: unreadable payment intent: %v", event.ID, err)
		return nil
	}

	userID, tierID := pi.Metadata[metadataUserID], pi.Metadata[metadataTierID]
	if userID == "" || tierID == "" {
		fiberlog.Warnf("payment intent %s has no user_id/tier_id metadata; not a time card purchase", pi.ID)
		return nil
	}

	res, err := s.ledger.OnPaymentConfirmed(ctx, models.PaymentConfirmation{
		PaymentReference: pi.ID,
		UserID:           userID,
		TierID:           tierID,
		Amount:           pi.Amount,
		Currency:         string(pi.Currency),
	})
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) && appErr.Type == models.ErrorTypeValidation {
			fiberlog.Errorf("payment intent %s cannot become a time card: %v", pi.ID, err)
			return nil
		}
		return err
	}

	return s.recordPayment(ctx, models.Payment{
		UserID:           userID,
		TierID:           tierID,
		PaymentReference: pi.ID,
		Amount:           pi.Amount,
		Currency:         string(pi.Currency),
		Status:           models.PaymentSucceeded,
		TimeCardID:       &res.Card.ID,
	})
}

func (s *StripeService) handlePaymentIntentFailed(ctx context.Context, event stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		fiberlog.Errorf("stripe event %s: unreadable payment intent: %v", event.ID, err)
		return nil
	}

	userID := pi.Metadata[metadataUserID]
	if userID == "" {
		return nil
	}
	reason := ""
	if pi.LastPaymentError != nil {
		reason = pi.LastPaymentError.Msg
	}
	fiberlog.Infof("payment intent %s for user %s failed: %s", pi.ID, userID, reason)

	return s.recordPayment(ctx, models.Payment{
		UserID:           userID,
		TierID:           pi.Metadata[metadataTierID],
		PaymentReference: pi.ID,
		Amount:           pi.Amount,
		Currency:         string(pi.Currency),
		Status:           models.PaymentFailed,
	})
}

func (s *StripeService) handleChargeRefunded(ctx context.Context, event stripe.Event) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		fiberlog.Errorf("stripe event %s: unreadable charge: %v", event.ID, err)
		return nil
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		return nil
	}
	if !charge.Refunded {
		fiberlog.Infof("charge %s partially refunded (%d of %d); card left active", charge.ID, charge.AmountRefunded, charge.Amount)
		return nil
	}

	ref := charge.PaymentIntent.ID
	res, err := s.ledger.ApplyRefundByPayment(ctx, ref)
	if errors.Is(err, ledger.ErrCardNotFound) {
		fiberlog.Warnf("refund for payment %s has no time card", ref)
		return nil
	}
	if err != nil {
		return err
	}
	fiberlog.Infof("refund for payment %s: card %s %s", ref, res.Card.ID, res.Outcome)

	if err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("payment_reference = ?", ref).
		Update("status", models.PaymentRefunded).Error; err != nil {
		return fmt.Errorf("failed to mark payment %s refunded: %w", ref, err)
	}
	return nil
}

// paymentTransitions lists, per incoming status, the stored statuses it may
// replace. Refunded is terminal and a failure never replaces a success.
var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentSucceeded: {models.PaymentPending, models.PaymentFailed, models.PaymentSucceeded},
	models.PaymentFailed:    {models.PaymentPending},
}

// recordPayment inserts the history row for p, or moves an existing row for
// the same payment reference forward when paymentTransitions allows it.
func (s *StripeService) recordPayment(ctx context.Context, p models.Payment) error {
	p.ID = uuid.New().String()
	db := s.db.WithContext(ctx)

	created := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_reference"}},
		DoNothing: true,
	}).Create(&p)
	if created.Error != nil {
		return fmt.Errorf("failed to record payment %s: %w", p.PaymentReference, created.Error)
	}
	from := paymentTransitions[p.Status]
	if created.RowsAffected == 1 || len(from) == 0 {
		return nil
	}

	updates := map[string]any{
		"status":     p.Status,
		"amount":     p.Amount,
		"currency":   p.Currency,
		"updated_at": time.Now().UTC(),
	}
	if p.TimeCardID != nil {
		updates["time_card_id"] = *p.TimeCardID
	}
	if err := db.Model(&models.Payment{}).
		Where("payment_reference = ? AND status IN ?", p.PaymentReference, from).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update payment %s: %w", p.PaymentReference, err)
	}
	return nil
}

// ListPayments returns the user's payment history, newest first.
func (s *StripeService) ListPayments(ctx context.Context, userID string) ([]models.Payment, error) {
	var payments []models.Payment
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}
