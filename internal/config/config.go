package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LeventeLantos/social-dispatch/internal/credentials"
	"github.com/LeventeLantos/social-dispatch/internal/model"
	"github.com/LeventeLantos/social-dispatch/internal/provider"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Redis       RedisConfig
	Delivery    DeliveryConfig
	Credentials []model.Credentials
	Retry       RetryConfig
	Tracing     TracingConfig
	LogLevel    slog.Level
}

type ServerConfig struct {
	Address string
}

type StoreConfig struct {
	Driver      string
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type DeliveryConfig struct {
	Timeout    time.Duration
	APIVersion string
}

type RetryConfig struct {
	Enabled     bool
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	StuckAfter  time.Duration
}

type TracingConfig struct {
	Enabled      bool
	Exporter     string
	OTLPEndpoint string
	SampleRate   float64
}

// LoadAll reads the configuration from the environment. Every problem found
// is reported in the returned error, not only the first.
func LoadAll() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{Address: getEnv("SERVER_ADDRESS", ":8080")},
		Store:  StoreConfig{Driver: strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres))},
	}

	switch cfg.Store.Driver {
	case DriverPostgres:
		url, err := requireEnv("POSTGRES_URL")
		collect(err)
		cfg.Store.PostgresURL = url
	case DriverMemory:
	default:
		collect(fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, cfg.Store.Driver))
	}

	redisCfg, err := loadRedisConfig()
	collect(err)
	cfg.Redis = redisCfg

	timeout, err := getEnvInt("DELIVERY_TIMEOUT_SECONDS", 15)
	collect(err)
	cfg.Delivery = DeliveryConfig{
		Timeout:    time.Duration(timeout) * time.Second,
		APIVersion: getEnv("GRAPH_API_VERSION", provider.DefaultAPIVersion),
	}

	creds, err := loadCredentials(cfg.Delivery.APIVersion)
	collect(err)
	cfg.Credentials = creds

	retryCfg, err := loadRetryConfig()
	collect(err)
	cfg.Retry = retryCfg

	tracingCfg, err := loadTracingConfig()
	collect(err)
	cfg.Tracing = tracingCfg

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	collect(err)
	cfg.LogLevel = level

	collect(validate(cfg))

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err1 := getEnvInt("REDIS_DB", 0)
	ttl, err2 := getEnvInt("REDIS_TTL_SECONDS", 86400)

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, joinErrors([]error{err1, err2})
}

func loadRetryConfig() (RetryConfig, error) {
	enabled, err1 := getEnvBool("AUTO_RETRY_ENABLED", false)
	interval, err2 := getEnvInt("AUTO_RETRY_INTERVAL_SECONDS", 120)
	batch, err3 := getEnvInt("AUTO_RETRY_BATCH_SIZE", 10)
	maxAttempts, err4 := getEnvInt("AUTO_RETRY_MAX_ATTEMPTS", 3)
	stuck, err5 := getEnvInt("STUCK_SENDING_AFTER_SECONDS", 300)

	return RetryConfig{
		Enabled:     enabled,
		Interval:    time.Duration(interval) * time.Second,
		BatchSize:   batch,
		MaxAttempts: maxAttempts,
		StuckAfter:  time.Duration(stuck) * time.Second,
	}, joinErrors([]error{err1, err2, err3, err4, err5})
}

func loadTracingConfig() (TracingConfig, error) {
	enabled, err1 := getEnvBool("TRACING_ENABLED", false)
	rate, err2 := getEnvFloat("TRACING_SAMPLE_RATE", 1.0)

	return TracingConfig{
		Enabled:      enabled,
		Exporter:     strings.ToLower(getEnv("TRACING_EXPORTER", "stdout")),
		OTLPEndpoint: getEnv("OTLP_ENDPOINT", "localhost:4318"),
		SampleRate:   rate,
	}, joinErrors([]error{err1, err2})
}

var platformEnvPrefix = map[model.Platform]string{
	model.WhatsApp:  "WHATSAPP",
	model.Facebook:  "FACEBOOK",
	model.Instagram: "INSTAGRAM",
}

// loadCredentials merges CREDENTIALS_FILE with per platform variables.
// A platform configured in the environment replaces its file entry.
func loadCredentials(apiVersion string) ([]model.Credentials, error) {
	byPlatform := make(map[model.Platform]model.Credentials)

	if path := os.Getenv("CREDENTIALS_FILE"); path != "" {
		fromFile, err := credentials.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("CREDENTIALS_FILE: %w", err)
		}
		for _, c := range fromFile {
			byPlatform[c.Platform] = c
		}
	}

	var errs []error
	for _, p := range model.Platforms {
		prefix := platformEnvPrefix[p]
		token := os.Getenv(prefix + "_ACCESS_TOKEN")
		if token == "" {
			continue
		}

		enabled, err := getEnvBool(prefix+"_ENABLED", true)
		if err != nil {
			errs = append(errs, err)
		}
		byPlatform[p] = model.Credentials{
			Platform:      p,
			Enabled:       enabled,
			BaseURL:       os.Getenv(prefix + "_BASE_URL"),
			APIVersion:    os.Getenv(prefix + "_API_VERSION"),
			AccessToken:   token,
			PhoneNumberID: os.Getenv(prefix + "_PHONE_NUMBER_ID"),
			PageID:        os.Getenv(prefix + "_PAGE_ID"),
		}
	}

	out := make([]model.Credentials, 0, len(byPlatform))
	for _, p := range model.Platforms {
		c, ok := byPlatform[p]
		if !ok {
			continue
		}
		if c.APIVersion == "" {
			c.APIVersion = apiVersion
		}
		out = append(out, c)
	}
	return out, joinErrors(errs)
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.Delivery.Timeout <= 0 {
		errs = append(errs, errors.New("DELIVERY_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Retry.Interval <= 0 {
		errs = append(errs, errors.New("AUTO_RETRY_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Retry.BatchSize <= 0 {
		errs = append(errs, errors.New("AUTO_RETRY_BATCH_SIZE must be > 0"))
	}
	if cfg.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("AUTO_RETRY_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.Retry.StuckAfter < 0 {
		errs = append(errs, errors.New("STUCK_SENDING_AFTER_SECONDS must be >= 0"))
	}
	if cfg.Tracing.Exporter != "stdout" && cfg.Tracing.Exporter != "otlp" {
		errs = append(errs, fmt.Errorf("TRACING_EXPORTER must be stdout or otlp, got %q", cfg.Tracing.Exporter))
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("TRACING_SAMPLE_RATE must be within [0, 1]"))
	}
	return joinErrors(errs)
}

func parseLevel(raw string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", raw)
	}
	return l, nil
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %s", key, v)
	}
	return b, nil
}

func getEnvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("invalid float for env %s: %s", key, v)
	}
	return f, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
