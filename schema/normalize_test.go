package schema

import (
	"testing"
	"time"
)

func TestNormalizeServiceConfigDefaults(t *testing.T) {
	cfg, err := NormalizeServiceConfig(ServiceConfig{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.MeetHost != DefaultMeetHost {
		t.Fatalf("meet host = %q", cfg.MeetHost)
	}
	if cfg.PinTTL != DefaultPinTTL || cfg.DirectPinTTL != DefaultDirectPinTTL {
		t.Fatalf("ttl defaults = %v/%v", cfg.PinTTL, cfg.DirectPinTTL)
	}
	if cfg.DispatchDepth != DefaultDispatchDepth {
		t.Fatalf("dispatch depth = %d", cfg.DispatchDepth)
	}
}

func TestNormalizeServiceConfigDomain(t *testing.T) {
	cfg, err := NormalizeServiceConfig(ServiceConfig{AllowedDomain: "@Allowed.Com "})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.AllowedDomain != "allowed.com" {
		t.Fatalf("allowed domain = %q", cfg.AllowedDomain)
	}
}

func TestNormalizeServiceConfigRejectsNegativeTTL(t *testing.T) {
	if _, err := NormalizeServiceConfig(ServiceConfig{PinTTL: -time.Second}); err == nil {
		t.Fatal("negative ttl accepted")
	}
}

func TestMatchesDomain(t *testing.T) {
	if !MatchesDomain("user@allowed.com", "allowed.com") {
		t.Fatal("allowed account rejected")
	}
	if MatchesDomain("user@other.com", "allowed.com") {
		t.Fatal("foreign account accepted")
	}
	if !MatchesDomain("anyone@anywhere.io", "") {
		t.Fatal("empty allow-list should admit everyone")
	}
	if !MatchesDomain("User@Allowed.COM", "@allowed.com") {
		t.Fatal("case-insensitive match failed")
	}
}
