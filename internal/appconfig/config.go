package appconfig

import (
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	Meet          MeetConfig    `mapstructure:"meet" yaml:"meet"`
	Auth          AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Pins          PinsConfig    `mapstructure:"pins" yaml:"pins"`
	Store         StoreConfig   `mapstructure:"store" yaml:"store"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
	Prefs         PrefsConfig   `mapstructure:"prefs" yaml:"prefs"`
	Logging       LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// MeetConfig identifies the conferencing pages the coordinator overlays.
type MeetConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
}

// AuthConfig configures the identity gate and its provider.
type AuthConfig struct {
	// AllowedDomain restricts sign-in to one email domain. Empty admits
	// every account.
	AllowedDomain string `mapstructure:"allowed_domain" yaml:"allowed_domain"`
	// Provider selects the identity provider: "local" or "token".
	Provider string `mapstructure:"provider" yaml:"provider"`
	// TokenSecret verifies broker-issued tokens for the token provider.
	TokenSecret string `mapstructure:"token_secret" yaml:"token_secret"`
	// TokenIssuer, when set, is required in broker token claims.
	TokenIssuer string `mapstructure:"token_issuer" yaml:"token_issuer"`
	// UserFile backs the local provider.
	UserFile string `mapstructure:"user_file" yaml:"user_file"`
	// RequireTOTP makes the local provider demand a TOTP code.
	RequireTOTP bool       `mapstructure:"require_totp" yaml:"require_totp"`
	SeedUsers   []SeedUser `mapstructure:"seed_users" yaml:"seed_users"`
}

// SeedUser seeds a user record in the local user store.
type SeedUser struct {
	UID          string `mapstructure:"uid" yaml:"uid"`
	Email        string `mapstructure:"email" yaml:"email"`
	DisplayName  string `mapstructure:"display_name" yaml:"display_name"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash"`
	TOTPSecret   string `mapstructure:"totp_secret" yaml:"totp_secret"`
}

// PinsConfig bounds pin lifetimes, one value per pin category.
type PinsConfig struct {
	TTLSeconds       int `mapstructure:"ttl_seconds" yaml:"ttl_seconds"`
	DirectTTLSeconds int `mapstructure:"direct_ttl_seconds" yaml:"direct_ttl_seconds"`
}

// StoreConfig selects and configures the shared store engine.
type StoreConfig struct {
	// Engine is "memory" or "postgres".
	Engine      string `mapstructure:"engine" yaml:"engine"`
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
}

// HTTPConfig configures the HTTP surface transport.
type HTTPConfig struct {
	Addr            string `mapstructure:"addr" yaml:"addr"`
	SessionCookie   string `mapstructure:"session_cookie" yaml:"session_cookie"`
	SessionTTLHours int    `mapstructure:"session_ttl_hours" yaml:"session_ttl_hours"`
	SessionFile     string `mapstructure:"session_file" yaml:"session_file"`
	BaseURL         string `mapstructure:"base_url" yaml:"base_url"`
	BasePath        string `mapstructure:"base_path" yaml:"base_path"`
	// LoginRatePerMinute caps login attempts per client address.
	LoginRatePerMinute int `mapstructure:"login_rate_per_minute" yaml:"login_rate_per_minute"`
}

// PrefsConfig locates the persisted surface preferences.
type PrefsConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// LoggingConfig controls request logging behavior.
type LoggingConfig struct {
	DisableRequestLogs bool `mapstructure:"disable_request_logs" yaml:"disable_request_logs"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	stateDir := filepath.Join(home, ".pinwire")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Meet: MeetConfig{
			Host: "meet.example.com",
		},
		Auth: AuthConfig{
			AllowedDomain: "",
			Provider:      "local",
			UserFile:      filepath.Join(stateDir, "users.json"),
			RequireTOTP:   false,
		},
		Pins: PinsConfig{
			TTLSeconds:       300,
			DirectTTLSeconds: 30,
		},
		Store: StoreConfig{
			Engine: "memory",
		},
		HTTP: HTTPConfig{
			Addr:               ":27491",
			SessionCookie:      "pinwire_session",
			SessionTTLHours:    720,
			SessionFile:        filepath.Join(stateDir, "state", "sessions.json"),
			LoginRatePerMinute: 30,
		},
		Prefs: PrefsConfig{
			File: filepath.Join(stateDir, "state", "prefs.json"),
		},
		Logging: LoggingConfig{
			DisableRequestLogs: false,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pinwire", "config.yaml"), nil
}
