package builder

import "github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"

// WithBilling replaces the whole billing policy.
func (b *Builder) WithBilling(cfg models.BillingConfig) *Builder {
	b.cfg.Billing = cfg
	return b
}

func (b *Builder) ValidityPeriodDays(days int) *Builder {
	b.cfg.Billing.ValidityPeriodDays = days
	return b
}

func (b *Builder) MinimumBilledMinutes(minutes int) *Builder {
	b.cfg.Billing.MinimumBilledMinutes = minutes
	return b
}

func (b *Builder) AutoActivate(enabled bool) *Builder {
	b.cfg.Billing.AutoActivate = enabled
	return b
}

func (b *Builder) SweepSchedule(schedule string) *Builder {
	b.cfg.Billing.SweepSchedule = schedule
	return b
}

func (b *Builder) WithStripe(secretKey, webhookSecret string) *Builder {
	b.cfg.Stripe = &models.StripeConfig{
		SecretKey:     secretKey,
		WebhookSecret: webhookSecret,
	}
	return b
}

func (b *Builder) GetStripeConfig() (secretKey, webhookSecret string, configured bool) {
	if b.cfg.Stripe != nil {
		return b.cfg.Stripe.SecretKey, b.cfg.Stripe.WebhookSecret, true
	}
	return "", "", false
}

func (b *Builder) WithVoiceWebhook(secret string) *Builder {
	b.cfg.Voice = &models.VoiceConfig{WebhookSecret: secret}
	return b
}

func (b *Builder) WithAuth(cfg models.AuthConfig) *Builder {
	b.cfg.Auth = &cfg
	return b
}
