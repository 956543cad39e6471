package builder

import "github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"

func (b *Builder) WithDatabase(cfg models.DatabaseConfig) *Builder {
	b.cfg.Database = &cfg
	return b
}

// WithRedis enables low-balance notification throttling.
func (b *Builder) WithRedis(url string) *Builder {
	b.cfg.Redis = &models.RedisConfig{URL: url}
	return b
}

// WithAnalytics mirrors closed sessions into a ClickHouse database.
func (b *Builder) WithAnalytics(cfg models.DatabaseConfig) *Builder {
	cfg.Type = models.ClickHouse
	b.cfg.Analytics = &models.AnalyticsConfig{Enabled: true, Database: cfg}
	return b
}
