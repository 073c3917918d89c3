package schema

import (
	"fmt"
	"strings"
)

// NormalizeServiceConfig fills defaults and validates the service config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if strings.TrimSpace(cfg.MeetHost) == "" {
		cfg.MeetHost = DefaultMeetHost
	}
	cfg.MeetHost = strings.ToLower(strings.TrimSpace(cfg.MeetHost))
	cfg.AllowedDomain = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(cfg.AllowedDomain, "@")))
	if cfg.PinTTL == 0 {
		cfg.PinTTL = DefaultPinTTL
	}
	if cfg.DirectPinTTL == 0 {
		cfg.DirectPinTTL = DefaultDirectPinTTL
	}
	if cfg.PinTTL < 0 || cfg.DirectPinTTL < 0 {
		return ServiceConfig{}, fmt.Errorf("pin ttl must be positive")
	}
	if cfg.DispatchDepth <= 0 {
		cfg.DispatchDepth = DefaultDispatchDepth
	}
	return cfg, nil
}

// MatchesDomain reports whether the email belongs to the allowed domain.
// An empty domain admits every address.
func MatchesDomain(email, domain string) bool {
	if strings.TrimSpace(domain) == "" {
		return true
	}
	normalized := strings.ToLower(strings.TrimSpace(email))
	return strings.HasSuffix(normalized, "@"+strings.ToLower(strings.TrimPrefix(domain, "@")))
}
