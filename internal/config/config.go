package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures every tunable parameter of the coordinator process.
// Values load from environment variables with defaults that let the binary
// run locally against the in-memory store with no setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	PGDSN          string
	RunMigrations  bool
	MigrationsPath string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	FareEndpoint string

	// Dispatch policy.
	MatchRadiusKm    float64 // 0 disables the distance filter
	DispatchRetries  int
	DispatchInterval time.Duration

	// Accept policy.
	MaxAcceptDistanceKm float64 // 0 disables the accept distance check
	MaxPassengers       int

	// Sweeper policy.
	SweepInterval   time.Duration
	SearchingMaxAge time.Duration
	ActiveMaxAge    time.Duration
	TimeoutMaxAge   time.Duration

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		MigrationsPath:   "file://migrations",
		RedisGeoKey:      "riders_geo",
		KafkaTopic:       "rider-locations",
		MatchRadiusKm:    0,
		DispatchRetries:  60,
		DispatchInterval: 10 * time.Second,
		MaxPassengers:    6,
		SweepInterval:    15 * time.Minute,
		SearchingMaxAge:  time.Hour,
		ActiveMaxAge:     24 * time.Hour,
		TimeoutMaxAge:    24 * time.Hour,
		LogLevel:         "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")
	setStringFromEnv(&cfg.MigrationsPath, "MIGRATIONS_PATH")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.FareEndpoint = strings.TrimSpace(os.Getenv("FARE_ENDPOINT"))

	setFloatFromEnv(&cfg.MatchRadiusKm, "MATCH_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.DispatchRetries, "DISPATCH_RETRIES", &errs)
	setDurationFromEnv(&cfg.DispatchInterval, "DISPATCH_INTERVAL", &errs)

	setFloatFromEnv(&cfg.MaxAcceptDistanceKm, "MAX_ACCEPT_DISTANCE_KM", &errs)
	setIntFromEnv(&cfg.MaxPassengers, "MAX_PASSENGERS", &errs)

	setDurationFromEnv(&cfg.SweepInterval, "SWEEP_INTERVAL", &errs)
	setDurationFromEnv(&cfg.SearchingMaxAge, "SEARCHING_MAX_AGE", &errs)
	setDurationFromEnv(&cfg.ActiveMaxAge, "ACTIVE_MAX_AGE", &errs)
	setDurationFromEnv(&cfg.TimeoutMaxAge, "TIMEOUT_MAX_AGE", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.DispatchRetries <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_RETRIES must be > 0"))
	}
	if cfg.MaxPassengers <= 0 {
		errs = append(errs, fmt.Errorf("MAX_PASSENGERS must be > 0"))
	}
	if cfg.MatchRadiusKm < 0 {
		errs = append(errs, fmt.Errorf("MATCH_RADIUS_KM must be >= 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
