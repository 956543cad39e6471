package pkg

import "github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"

type (
	ServerConfig    = models.ServerConfig
	DatabaseConfig  = models.DatabaseConfig
	RedisConfig     = models.RedisConfig
	AnalyticsConfig = models.AnalyticsConfig
	BillingConfig   = models.BillingConfig
	StripeConfig    = models.StripeConfig
	VoiceConfig     = models.VoiceConfig
	AuthConfig      = models.AuthConfig
	RateLimitConfig = models.RateLimitConfig
	TimeoutConfig   = models.TimeoutConfig
)
