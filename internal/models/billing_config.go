package models

import "time"

// BillingConfig holds the time-card and session billing policy.
type BillingConfig struct {
	ValidityPeriodDays         int    `json:"validity_period_days" yaml:"validity_period_days"`
	MinimumBilledMinutes       int    `json:"minimum_billed_minutes" yaml:"minimum_billed_minutes"`
	PendingExpiryDays          int    `json:"pending_expiry_days,omitzero" yaml:"pending_expiry_days"`
	AutoActivate               bool   `json:"auto_activate" yaml:"auto_activate"`
	LowBalanceThresholdMinutes int    `json:"low_balance_threshold_minutes" yaml:"low_balance_threshold_minutes"`
	MaxSessionMinutes          int    `json:"max_session_minutes" yaml:"max_session_minutes"`
	SweepSchedule              string `json:"sweep_schedule" yaml:"sweep_schedule"`
}

const (
	DefaultValidityPeriodDays         = 365
	DefaultMinimumBilledMinutes       = 1
	DefaultLowBalanceThresholdMinutes = 30
	DefaultMaxSessionMinutes          = 240
	DefaultSweepSchedule              = "@every 15m"
)

// DefaultBillingConfig returns the policy used when the config file omits the billing section.
func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		ValidityPeriodDays:         DefaultValidityPeriodDays,
		MinimumBilledMinutes:       DefaultMinimumBilledMinutes,
		LowBalanceThresholdMinutes: DefaultLowBalanceThresholdMinutes,
		MaxSessionMinutes:          DefaultMaxSessionMinutes,
		SweepSchedule:              DefaultSweepSchedule,
	}
}

func (c BillingConfig) ValidityPeriod() time.Duration {
	return time.Duration(c.ValidityPeriodDays) * 24 * time.Hour
}

// PendingExpiry is zero when pending cards never expire before activation.
func (c BillingConfig) PendingExpiry() time.Duration {
	return time.Duration(c.PendingExpiryDays) * 24 * time.Hour
}

func (c BillingConfig) MaxSessionDuration() time.Duration {
	return time.Duration(c.MaxSessionMinutes) * time.Minute
}

type StripeConfig struct {
	SecretKey     string `json:"secret_key" yaml:"secret_key"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
	Currency      string `json:"currency,omitzero" yaml:"currency"`
}
