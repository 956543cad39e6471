package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/models"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server    models.ServerConfig     `yaml:"server"`
	Database  *models.DatabaseConfig  `yaml:"database,omitempty"`
	Redis     *models.RedisConfig     `yaml:"redis,omitempty"`
	Analytics *models.AnalyticsConfig `yaml:"analytics,omitempty"`
	Stripe    *models.StripeConfig    `yaml:"stripe,omitempty"`
	Voice     *models.VoiceConfig     `yaml:"voice,omitempty"`
	Auth      *models.AuthConfig      `yaml:"auth,omitempty"`
	Billing   models.BillingConfig    `yaml:"billing"`
}

// LoadFromFile loads configuration from a YAML file with environment variable substitution
func LoadFromFile(configPath string) (*Config, error) {
	// Validate and clean the file path to prevent directory traversal
	cleanPath := filepath.Clean(configPath)

	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid config path: path traversal not allowed")
	}

	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("invalid config file: only .yaml and .yml files are allowed")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML config content, substituting environment variables and
// filling billing defaults for omitted fields.
func Parse(data []byte) (*Config, error) {
	content := substituteEnvVars(string(data))

	config := Config{Billing: models.DefaultBillingConfig()}
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// LoadEnvFiles loads environment variables from .env files in order of precedence
// Loads files in the order provided (first has highest priority)
func LoadEnvFiles(envFiles []string) {
	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err == nil {
				fmt.Printf("Loaded environment variables from %s\n", envFile)
			}
		}
	}
}

// New creates a new Config instance by loading from the specified config file path
func New(configPath string) (*Config, error) {
	return LoadFromFile(configPath)
}

// substituteEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default} patterns with environment variables
func substituteEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::(-[^}]*))?\}`)

	return re.ReplaceAllStringFunc(content, func(match string) string {
		submatches := re.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""

		if len(submatches) > 2 && submatches[2] != "" {
			defaultValue = strings.TrimPrefix(submatches[2], "-")
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}

// ApplyDefaults fills zero values that have a sensible default.
// MinimumBilledMinutes is left alone: zero is a valid policy.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Billing.ValidityPeriodDays == 0 {
		c.Billing.ValidityPeriodDays = models.DefaultValidityPeriodDays
	}
	if c.Billing.LowBalanceThresholdMinutes == 0 {
		c.Billing.LowBalanceThresholdMinutes = models.DefaultLowBalanceThresholdMinutes
	}
	if c.Billing.MaxSessionMinutes == 0 {
		c.Billing.MaxSessionMinutes = models.DefaultMaxSessionMinutes
	}
	if c.Billing.SweepSchedule == "" {
		c.Billing.SweepSchedule = models.DefaultSweepSchedule
	}
	if c.Stripe != nil && c.Stripe.Currency == "" {
		c.Stripe.Currency = "usd"
	}
	if c.Auth != nil && c.Auth.AdminRole == "" {
		c.Auth.AdminRole = "admin"
	}
}

// GetNormalizedLogLevel returns the log level in lowercase for consistent comparison
func (c *Config) GetNormalizedLogLevel() string {
	return strings.ToLower(c.Server.LogLevel)
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate checks if all required configuration values are set
func (c *Config) Validate() error {
	var missing []string

	if c.Server.Port == "" {
		missing = append(missing, "server.port")
	}
	if c.Server.AllowedOrigins == "" {
		missing = append(missing, "server.allowed_origins")
	}
	if c.Database == nil {
		missing = append(missing, "database")
	}
	if c.Stripe != nil && c.Stripe.WebhookSecret == "" {
		missing = append(missing, "stripe.webhook_secret")
	}
	if c.Voice != nil && c.Voice.WebhookSecret == "" {
		missing = append(missing, "voice.webhook_secret")
	}
	if c.Auth != nil && c.Auth.JWTSecret == "" {
		missing = append(missing, "auth.jwt_secret")
	}
	if c.Analytics != nil && c.Analytics.Enabled && c.Analytics.Database.Type != models.ClickHouse {
		return fmt.Errorf("analytics.database.type must be %q", models.ClickHouse)
	}

	if len(missing) > 0 {
		return &ValidationError{MissingFields: missing}
	}

	return ValidateBilling(c.Billing)
}

// ValidateBilling rejects billing policies the engine cannot honour.
func ValidateBilling(b models.BillingConfig) error {
	if b.ValidityPeriodDays <= 0 {
		return fmt.Errorf("billing.validity_period_days must be greater than 0")
	}
	if b.MinimumBilledMinutes < 0 {
		return fmt.Errorf("billing.minimum_billed_minutes must not be negative")
	}
	if b.PendingExpiryDays < 0 {
		return fmt.Errorf("billing.pending_expiry_days must not be negative")
	}
	if b.LowBalanceThresholdMinutes < 0 {
		return fmt.Errorf("billing.low_balance_threshold_minutes must not be negative")
	}
	if b.MaxSessionMinutes <= 0 {
		return fmt.Errorf("billing.max_session_minutes must be greater than 0")
	}
	if _, err := cron.ParseStandard(b.SweepSchedule); err != nil {
		return fmt.Errorf("billing.sweep_schedule is invalid: %w", err)
	}
	return nil
}

type ValidationError struct {
	MissingFields []string
}

func (e *ValidationError) Error() string {
	return "missing required configuration fields: " + strings.Join(e.MissingFields, ", ")
}
