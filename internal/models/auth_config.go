package models

// AuthConfig configures bearer-token verification for user and admin routes.
// Tokens are HS256 JWTs signed with the auth provider's shared secret.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string `json:"issuer,omitzero" yaml:"issuer"`
	Audience  string `json:"audience,omitzero" yaml:"audience"`
	AdminRole string `json:"admin_role,omitzero" yaml:"admin_role"`
}

// VoiceConfig configures the voice-platform event relay.
type VoiceConfig struct {
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
}
