package config

import (
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("defaults must load clean: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.DispatchRetries != 60 || cfg.DispatchInterval != 10*time.Second {
		t.Errorf("dispatch defaults wrong: %d %v", cfg.DispatchRetries, cfg.DispatchInterval)
	}
	if cfg.MaxPassengers != 6 {
		t.Errorf("MaxPassengers = %d", cfg.MaxPassengers)
	}
	if cfg.SweepInterval != 15*time.Minute || cfg.SearchingMaxAge != time.Hour {
		t.Errorf("sweep defaults wrong: %v %v", cfg.SweepInterval, cfg.SearchingMaxAge)
	}
	if cfg.KafkaTopic != "rider-locations" || cfg.RedisGeoKey != "riders_geo" {
		t.Errorf("stream defaults wrong: %q %q", cfg.KafkaTopic, cfg.RedisGeoKey)
	}
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("MATCH_RADIUS_KM", "7.5")
	t.Setenv("DISPATCH_RETRIES", "3")
	t.Setenv("DISPATCH_INTERVAL", "2s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" || cfg.MatchRadiusKm != 7.5 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.DispatchRetries != 3 || cfg.DispatchInterval != 2*time.Second {
		t.Errorf("dispatch overrides not applied: %d %v", cfg.DispatchRetries, cfg.DispatchInterval)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "k1:9092" || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("broker list not split: %v", cfg.KafkaBrokers)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level not normalized: %q", cfg.LogLevel)
	}
}

func TestLoadServerConfigRejectsBadValues(t *testing.T) {
	t.Setenv("DISPATCH_RETRIES", "0")
	t.Setenv("MATCH_RADIUS_KM", "-1")
	t.Setenv("SWEEP_INTERVAL", "not-a-duration")

	if _, err := LoadServerConfig(); err == nil {
		t.Fatalf("invalid values must be rejected")
	}
}
