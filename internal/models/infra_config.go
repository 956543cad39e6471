package models

// RedisConfig holds the connection settings for the shared redis instance.
type RedisConfig struct {
	URL      string `json:"url" yaml:"url"`
	PoolSize int    `json:"pool_size,omitzero" yaml:"pool_size"`
}

// AnalyticsConfig points at the ClickHouse database that receives closed billing sessions.
type AnalyticsConfig struct {
	Enabled  bool           `json:"enabled" yaml:"enabled"`
	Database DatabaseConfig `json:"database" yaml:"database"`
}
