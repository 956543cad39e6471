package builder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuildsValidDefaults(t *testing.T) {
	cfg := New().
		WithDatabase(models.DatabaseConfig{Type: models.SQLite, FilePath: "billing.db"}).
		Build()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, models.DefaultValidityPeriodDays, cfg.Billing.ValidityPeriodDays)
	assert.Equal(t, models.DefaultMinimumBilledMinutes, cfg.Billing.MinimumBilledMinutes)
	require.NoError(t, cfg.Validate())
}

func TestBillingOptions(t *testing.T) {
	b := New().
		WithDatabase(models.DatabaseConfig{Type: models.SQLite, FilePath: "billing.db"}).
		ValidityPeriodDays(90).
		MinimumBilledMinutes(0).
		AutoActivate(true).
		SweepSchedule("@every 5m").
		WithStripe("sk_test_x", "whsec_x").
		WithVoiceWebhook("whsec_voice").
		WithAuth(models.AuthConfig{JWTSecret: "secret"}).
		WithAnalytics(models.DatabaseConfig{Host: "localhost", Port: 9000}).
		WithRateLimit(10, time.Minute).
		WithTimeout(5 * time.Second)

	cfg := b.Build()
	assert.Equal(t, 90, cfg.Billing.ValidityPeriodDays)
	assert.Equal(t, 0, cfg.Billing.MinimumBilledMinutes)
	assert.True(t, cfg.Billing.AutoActivate)
	assert.Equal(t, "usd", cfg.Stripe.Currency)
	assert.Equal(t, "admin", cfg.Auth.AdminRole)
	assert.Equal(t, models.ClickHouse, cfg.Analytics.Database.Type)
	require.NoError(t, cfg.Validate())

	key, secret, ok := b.GetStripeConfig()
	assert.True(t, ok)
	assert.Equal(t, "sk_test_x", key)
	assert.Equal(t, "whsec_x", secret)

	require.NotNil(t, b.GetRateLimitConfig())
	assert.Equal(t, 10, b.GetRateLimitConfig().Max)
	assert.Equal(t, 5*time.Second, b.GetTimeoutConfig().Timeout)
}

func TestInvalidScheduleFailsValidation(t *testing.T) {
	cfg := New().
		WithDatabase(models.DatabaseConfig{Type: models.SQLite, FilePath: "billing.db"}).
		SweepSchedule("every now and then").
		Build()
	assert.Error(t, cfg.Validate())
}

func TestFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("TEST_STRIPE_WEBHOOK_SECRET", "whsec_from_env")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
  allowed_origins: "*"
database:
  type: sqlite
  file_path: billing.db
stripe:
  secret_key: sk_test_x
  webhook_secret: ${TEST_STRIPE_WEBHOOK_SECRET}
billing:
  validity_period_days: 180
`), 0o600))

	b, err := FromYAML(path, nil)
	require.NoError(t, err)

	cfg := b.Build()
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 180, cfg.Billing.ValidityPeriodDays)
	assert.Equal(t, "whsec_from_env", cfg.Stripe.WebhookSecret)
	require.NoError(t, cfg.Validate())
}
