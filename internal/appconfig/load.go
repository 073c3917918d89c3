package appconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("meet.host", cfg.Meet.Host)
	v.SetDefault("auth.allowed_domain", cfg.Auth.AllowedDomain)
	v.SetDefault("auth.provider", cfg.Auth.Provider)
	v.SetDefault("auth.token_secret", cfg.Auth.TokenSecret)
	v.SetDefault("auth.token_issuer", cfg.Auth.TokenIssuer)
	v.SetDefault("auth.user_file", cfg.Auth.UserFile)
	v.SetDefault("auth.require_totp", cfg.Auth.RequireTOTP)
	v.SetDefault("auth.seed_users", cfg.Auth.SeedUsers)
	v.SetDefault("pins.ttl_seconds", cfg.Pins.TTLSeconds)
	v.SetDefault("pins.direct_ttl_seconds", cfg.Pins.DirectTTLSeconds)
	v.SetDefault("store.engine", cfg.Store.Engine)
	v.SetDefault("store.database_url", cfg.Store.DatabaseURL)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.session_cookie", cfg.HTTP.SessionCookie)
	v.SetDefault("http.session_ttl_hours", cfg.HTTP.SessionTTLHours)
	v.SetDefault("http.session_file", cfg.HTTP.SessionFile)
	v.SetDefault("http.base_url", cfg.HTTP.BaseURL)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("http.login_rate_per_minute", cfg.HTTP.LoginRatePerMinute)
	v.SetDefault("prefs.file", cfg.Prefs.File)
	v.SetDefault("logging.disable_request_logs", cfg.Logging.DisableRequestLogs)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		switch v.GetString("auth.provider") {
		case "local":
			if !v.IsSet("auth.user_file") {
				return Config{}, fmt.Errorf("auth.user_file is required for the local provider")
			}
		case "token":
			if strings.TrimSpace(v.GetString("auth.token_secret")) == "" {
				return Config{}, fmt.Errorf("auth.token_secret is required for the token provider")
			}
		default:
			return Config{}, fmt.Errorf("unsupported auth.provider %q", v.GetString("auth.provider"))
		}
		switch v.GetString("store.engine") {
		case "memory":
		case "postgres":
			if strings.TrimSpace(v.GetString("store.database_url")) == "" {
				return Config{}, fmt.Errorf("store.database_url is required for the postgres engine")
			}
		default:
			return Config{}, fmt.Errorf("unsupported store.engine %q", v.GetString("store.engine"))
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateHTTPConfig(cfg.HTTP); err != nil {
		return Config{}, err
	}
	if err := validatePinsConfig(cfg.Pins); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateHTTPConfig(cfg HTTPConfig) error {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("http.base_url must include scheme and host (e.g. https://example.com)")
		}
	}
	basePath := strings.TrimSpace(cfg.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("http.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("http.base_path must not include query or fragment")
		}
	}
	return nil
}

func validatePinsConfig(cfg PinsConfig) error {
	if cfg.TTLSeconds <= 0 {
		return fmt.Errorf("pins.ttl_seconds must be positive")
	}
	if cfg.DirectTTLSeconds <= 0 {
		return fmt.Errorf("pins.direct_ttl_seconds must be positive")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Auth.UserFile = expandEnv(cfg.Auth.UserFile)
	cfg.Auth.TokenSecret = expandEnv(cfg.Auth.TokenSecret)
	cfg.Store.DatabaseURL = expandEnv(cfg.Store.DatabaseURL)
	cfg.HTTP.SessionFile = expandEnv(cfg.HTTP.SessionFile)
	cfg.Prefs.File = expandEnv(cfg.Prefs.File)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
