package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/ledger"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/pricing"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test_secret"

type fixture struct {
	db      *gorm.DB
	ledger  *ledger.Service
	stripe  *StripeService
	intents []*stripe.PaymentIntentParams
}

func newFixture(t *testing.T, autoActivate bool) *fixture {
	t.Helper()

	db := testutil.NewDB(t).DB
	tiers := pricing.NewService(db)
	require.NoError(t, tiers.SeedDefaults(context.Background()))

	cfg := models.DefaultBillingConfig()
	cfg.AutoActivate = autoActivate

	f := &fixture{db: db, ledger: ledger.NewService(db, tiers, cfg)}
	f.stripe = NewStripeService(
		models.StripeConfig{SecretKey: "sk_test_x", WebhookSecret: testWebhookSecret},
		db, f.ledger, tiers,
		WithIntentCreator(func(p *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			f.intents = append(f.intents, p)
			return &stripe.PaymentIntent{ID: fmt.Sprintf("pi_%d", len(f.intents)), ClientSecret: "secret_x"}, nil
		}),
	)
	return f
}

func signed(t *testing.T, eventType, object string) ([]byte, string) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{"id":"evt_test","object":"event","type":%q,"data":{"object":%s}}`, eventType, object))
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return sp.Payload, sp.Header
}

func succeededIntent(id, userID, tierID string) string {
	return fmt.Sprintf(`{"id":%q,"object":"payment_intent","amount":999,"currency":"usd","status":"succeeded","metadata":{"user_id":%q,"tier_id":%q}}`, id, userID, tierID)
}

func TestCreatePurchaseIntent(t *testing.T) {
	f := newFixture(t, false)

	intent, err := f.stripe.CreatePurchaseIntent(context.Background(), "user-1", "premium_10h")
	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.PaymentIntentID)
	assert.Equal(t, "secret_x", intent.ClientSecret)
	assert.Equal(t, int64(7999), intent.Amount)
	assert.Equal(t, 720, intent.Minutes)

	require.Len(t, f.intents, 1)
	params := f.intents[0]
	assert.Equal(t, int64(7999), *params.Amount)
	assert.Equal(t, "usd", *params.Currency)
	assert.Equal(t, "user-1", params.Metadata["user_id"])
	assert.Equal(t, "premium_10h", params.Metadata["tier_id"])

	history, err := f.stripe.ListPayments(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.PaymentPending, history[0].Status)
	assert.Equal(t, "premium_10h", history[0].TierID)
	assert.Equal(t, int64(7999), history[0].Amount)
}

func TestPendingPaymentMovesToSucceeded(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	intent, err := f.stripe.CreatePurchaseIntent(ctx, "user-1", "starter_1h")
	require.NoError(t, err)

	failed := fmt.Sprintf(`{"id":%q,"object":"payment_intent","amount":999,"currency":"usd","metadata":{"user_id":"user-1","tier_id":"starter_1h"}}`, intent.PaymentIntentID)
	payload, header := signed(t, "payment_intent.payment_failed", failed)
	_, err = f.stripe.HandleWebhook(ctx, payload, header)
	require.NoError(t, err)

	history, err := f.stripe.ListPayments(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.PaymentFailed, history[0].Status)

	payload, header = signed(t, "payment_intent.succeeded", succeededIntent(intent.PaymentIntentID, "user-1", "starter_1h"))
	_, err = f.stripe.HandleWebhook(ctx, payload, header)
	require.NoError(t, err)

	history, err = f.stripe.ListPayments(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.PaymentSucceeded, history[0].Status)
	require.NotNil(t, history[0].TimeCardID)
}

func TestCreatePurchaseIntentRejectsUnknownOrRetiredTier(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.stripe.CreatePurchaseIntent(ctx, "user-1", "gold")
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.ErrorTypeValidation, appErr.Type)

	require.NoError(t, pricing.NewService(f.db).Deactivate(ctx, "starter_1h"))
	_, err = f.stripe.CreatePurchaseIntent(ctx, "user-1", "starter_1h")
	require.ErrorAs(t, err, &appErr)
	assert.Empty(t, f.intents)
}

func TestCreatePurchaseIntentStripeFailure(t *testing.T) {
	f := newFixture(t, false)
	f.stripe.createIntent = func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		return nil, errors.New("card network down")
	}

	_, err := f.stripe.CreatePurchaseIntent(context.Background(), "user-1", "starter_1h")
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.ErrorTypeInternal, appErr.Type)
}

func TestWebhookPaymentSucceededCreatesOneCard(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	payload, header := signed(t, "payment_intent.succeeded", succeededIntent("pi_abc", "user-1", "starter_1h"))

	for i := 0; i < 3; i++ {
		eventType, err := f.stripe.HandleWebhook(ctx, payload, header)
		require.NoError(t, err)
		assert.Equal(t, "payment_intent.succeeded", eventType)
	}

	cards, err := f.ledger.ListCards(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "pi_abc", cards[0].PaymentReference)
	assert.Equal(t, models.TimeCardPending, cards[0].Status)
	assert.Equal(t, 60, cards[0].TotalMinutes)

	payments, err := f.stripe.ListPayments(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentSucceeded, payments[0].Status)
	require.NotNil(t, payments[0].TimeCardID)
	assert.Equal(t, cards[0].ID, *payments[0].TimeCardID)
}

func TestWebhookAutoActivates(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	payload, header := signed(t, "payment_intent.succeeded", succeededIntent("pi_auto", "user-1", "basic_5h"))

	_, err := f.stripe.HandleWebhook(ctx, payload, header)
	require.NoError(t, err)

	cards, err := f.ledger.ListCards(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, models.TimeCardActive, cards[0].Status)
}

func TestWebhookIgnoresForeignIntents(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	payload, header := signed(t, "payment_intent.succeeded", `{"id":"pi_other","object":"payment_intent","amount":100,"metadata":{}}`)
	_, err := f.stripe.HandleWebhook(ctx, payload, header)
	require.NoError(t, err)

	payload, header = signed(t, "payment_intent.succeeded", succeededIntent("pi_badtier", "user-1", "gold"))
	_, err = f.stripe.HandleWebhook(ctx, payload, header)
	require.NoError(t, err)

	payload, header = signed(t, "customer.created", `{"id":"cus_1","object":"customer"}`)
	eventType, err := f.stripe.HandleWebhook(ctx, payload, header)
	require.NoError(t, err)
	assert.Equal(t, "customer.created", eventType)

	var count int64
	require.NoError(t, f.db.Model(&models.TimeCard{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t, false)
	payload, _ := signed(t, "payment_intent.succeeded", succeededIntent("pi_abc", "user-1", "starter_1h"))

	_, err := f.stripe.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestWebhookFailedPaymentDoesNotOverwriteSuccess(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	payload, header := signed(t, "payment_intent.succeeded", succeededIntent("pi_mixed", "user-1", "starter_1h"))
	_, err := f.stripe.HandleWebhook(ctx, payload, header)
	require.NoError(t, err)

	failed := `{"id":"pi_mixed","object":"payment_intent","amount":999,"currency":"usd","metadata":{"user_id":"user-1","tier_id":"starter_1h"},"last_payment_error":{"message":"card declined"}}`
	payload, header = signed(t, "payment_intent.payment_failed", failed)
	_, err = f.stripe.HandleWebhook(ctx, payload, header)
	require.NoError(t, err)

	payments, err := f.stripe.ListPayments(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentSucceeded, payments[0].Status)
}

func TestWebhookChargeRefunded(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	payload, header := signed(t, "payment_intent.succeeded", succeededIntent("pi_ref", "user-1", "starter_1h"))
	_, err := f.stripe.HandleWebhook(ctx, payload, header)
	require.NoError(t, err)

	partial := `{"id":"ch_1","object":"charge","payment_intent":"pi_ref","amount":999,"amount_refunded":100,"refunded":false}`
	payload, header = signed(t, "charge.refunded", partial)
	_, err = f.stripe.HandleWebhook(ctx, payload, header)
	require.NoError(t, err)

	cards, err := f.ledger.ListCards(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.TimeCardActive, cards[0].Status)

	full := `{"id":"ch_1","object":"charge","payment_intent":"pi_ref","amount":999,"amount_refunded":999,"refunded":true}`
	payload, header = signed(t, "charge.refunded", full)
	for i := 0; i < 2; i++ {
		_, err = f.stripe.HandleWebhook(ctx, payload, header)
		require.NoError(t, err)
	}

	cards, err = f.ledger.ListCards(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.TimeCardRefunded, cards[0].Status)

	payments, err := f.stripe.ListPayments(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, payments[0].Status)

	// A redelivered success must not resurrect a refunded payment.
	payload, header = signed(t, "payment_intent.succeeded", succeededIntent("pi_ref", "user-1", "starter_1h"))
	_, err = f.stripe.HandleWebhook(ctx, payload, header)
	require.NoError(t, err)

	payments, err = f.stripe.ListPayments(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentRefunded, payments[0].Status)
	cards, err = f.ledger.ListCards(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, models.TimeCardRefunded, cards[0].Status)

	orphan := `{"id":"ch_2","object":"charge","payment_intent":"pi_unknown","amount":5,"amount_refunded":5,"refunded":true}`
	payload, header = signed(t, "charge.refunded", orphan)
	_, err = f.stripe.HandleWebhook(ctx, payload, header)
	require.NoError(t, err)
}
