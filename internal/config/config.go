// Package config builds the guard configuration once at startup from
// defaults, an optional .env file, environment variables and an optional
// YAML file of rate-limit presets. Components receive the resulting values
// through their constructors and never read the environment themselves.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jedoz/abuseguard/internal/duplicate"
	"github.com/jedoz/abuseguard/internal/guard"
	"github.com/jedoz/abuseguard/internal/moderation"
	"github.com/jedoz/abuseguard/internal/policy"
	"github.com/jedoz/abuseguard/internal/ratelimit"
	"github.com/jedoz/abuseguard/internal/shadowban"
)

// Config is the full guard configuration.
type Config struct {
	ListenAddr      string
	RedisAddr       string
	DatabaseURL     string
	NATSURL         string
	DatabaseMigrate bool

	RateLimit RateLimitConfig
	Duplicate duplicate.Config
	Spam      SpamConfig
	Blacklist BlacklistConfig
	Shadowban shadowban.Config
	Captcha   CaptchaConfig
	Retention RetentionConfig

	// DeviceHeader is the header the device id is read from.
	DeviceHeader string

	// TrustedProxies may set X-Forwarded-For. Empty means the header is
	// ignored.
	TrustedProxies []netip.Prefix
}

// RateLimitConfig holds the limiter presets and its store failure policy.
type RateLimitConfig struct {
	Presets      ratelimit.Presets
	OnStoreError policy.FailurePolicy
}

// SpamConfig holds the spam thresholds and hard-block keywords.
type SpamConfig struct {
	Thresholds moderation.Thresholds
	Keywords   []string
}

// BlacklistConfig holds the blacklist store failure policy and the TTL of
// the Redis lookup cache. A zero CacheTTL disables the cache.
type BlacklistConfig struct {
	OnStoreError policy.FailurePolicy
	CacheTTL     time.Duration
}

// CaptchaConfig toggles the captcha guard.
type CaptchaConfig struct {
	Enabled bool
	OnError policy.FailurePolicy
}

// RetentionConfig controls fingerprint pruning.
type RetentionConfig struct {
	Fingerprints  time.Duration
	PruneInterval time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:  ":8080",
		RedisAddr:   "localhost:6379",
		DatabaseURL: "postgres://localhost:5432/abuseguard?sslmode=disable",
		NATSURL:     "nats://localhost:4222",
		RateLimit: RateLimitConfig{
			Presets:      ratelimit.DefaultPresets(),
			OnStoreError: policy.FailOpen,
		},
		Duplicate: duplicate.DefaultConfig(),
		Spam: SpamConfig{
			Thresholds: moderation.DefaultThresholds(),
		},
		Blacklist: BlacklistConfig{OnStoreError: policy.FailOpen, CacheTTL: 30 * time.Second},
		Shadowban: shadowban.DefaultConfig(),
		Captcha:   CaptchaConfig{Enabled: false, OnError: policy.FailClosed},
		Retention: RetentionConfig{
			Fingerprints:  30 * 24 * time.Hour,
			PruneInterval: 6 * time.Hour,
		},

		DeviceHeader: guard.DefaultDeviceHeader,
	}
}

// Load reads .env (if present), then the environment, then the presets file
// named by RATE_LIMIT_PRESETS_FILE, and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] .env: %v", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv. Malformed values are logged and
// replaced by their defaults.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	e := env{get: getenv}

	cfg.ListenAddr = e.str("LISTEN_ADDR", cfg.ListenAddr)
	cfg.RedisAddr = e.str("REDIS_ADDR", cfg.RedisAddr)
	cfg.DatabaseURL = e.str("DATABASE_URL", cfg.DatabaseURL)
	cfg.NATSURL = e.str("NATS_URL", cfg.NATSURL)
	cfg.DatabaseMigrate = e.boolean("DATABASE_MIGRATE", cfg.DatabaseMigrate)

	cfg.RateLimit.OnStoreError = e.failurePolicy("RATE_LIMIT_ON_STORE_ERROR", cfg.RateLimit.OnStoreError)

	cfg.Duplicate.Threshold = e.float("DUPLICATE_SIMILARITY_THRESHOLD", cfg.Duplicate.Threshold)
	if raw := e.get("DUPLICATE_ACTION"); raw != "" {
		if a, err := duplicate.ParseAction(raw); err == nil {
			cfg.Duplicate.Action = a
		} else {
			log.Printf("[config] invalid DUPLICATE_ACTION=%q, using %s", raw, cfg.Duplicate.Action)
		}
	}
	if days := e.integer("DUPLICATE_LOOKBACK_DAYS", 0); days > 0 {
		cfg.Duplicate.Lookback = time.Duration(days) * 24 * time.Hour
	}
	cfg.Duplicate.MaxCandidates = e.integer("DUPLICATE_MAX_CANDIDATES", cfg.Duplicate.MaxCandidates)
	cfg.Duplicate.OnStoreError = e.failurePolicy("DUPLICATE_ON_STORE_ERROR", cfg.Duplicate.OnStoreError)

	cfg.Spam.Thresholds.Block = e.integer("SPAM_BLOCK_THRESHOLD", cfg.Spam.Thresholds.Block)
	cfg.Spam.Thresholds.Review = e.integer("SPAM_REVIEW_THRESHOLD", cfg.Spam.Thresholds.Review)
	cfg.Spam.Keywords = splitList(e.get("SPAM_KEYWORDS_DEFAULT"))

	cfg.Blacklist.OnStoreError = e.failurePolicy("BLACKLIST_ON_STORE_ERROR", cfg.Blacklist.OnStoreError)
	if secs := e.integer("BLACKLIST_CACHE_TTL_SECONDS", -1); secs >= 0 {
		cfg.Blacklist.CacheTTL = time.Duration(secs) * time.Second
	}

	cfg.Shadowban.HideFromPublic = e.boolean("SHADOWBAN_HIDE_FROM_PUBLIC", cfg.Shadowban.HideFromPublic)
	cfg.Shadowban.OnStoreError = e.failurePolicy("SHADOWBAN_ON_STORE_ERROR", cfg.Shadowban.OnStoreError)

	cfg.Captcha.Enabled = e.boolean("CAPTCHA_ENABLED", cfg.Captcha.Enabled)
	cfg.Captcha.OnError = e.failurePolicy("CAPTCHA_ON_ERROR", cfg.Captcha.OnError)

	if days := e.integer("FINGERPRINT_RETENTION_DAYS", 0); days > 0 {
		cfg.Retention.Fingerprints = time.Duration(days) * 24 * time.Hour
	}
	if mins := e.integer("FINGERPRINT_PRUNE_INTERVAL_MINUTES", 0); mins > 0 {
		cfg.Retention.PruneInterval = time.Duration(mins) * time.Minute
	}

	cfg.DeviceHeader = strings.ToLower(e.str("SECURITY_DEVICE_HEADER", cfg.DeviceHeader))

	if raw := e.get("TRUSTED_PROXIES"); raw != "" {
		proxies, err := guard.ParseTrustedProxies(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: TRUSTED_PROXIES: %w", err)
		}
		cfg.TrustedProxies = proxies
	}

	if path := e.get("RATE_LIMIT_PRESETS_FILE"); path != "" {
		overrides, err := LoadPresets(path)
		if err != nil {
			return Config{}, err
		}
		cfg.RateLimit.Presets = cfg.RateLimit.Presets.Merge(overrides)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// presetsFile is the YAML layout of RATE_LIMIT_PRESETS_FILE:
//
//	presets:
//	  login:
//	    window_seconds: 120
//	    max: 10
type presetsFile struct {
	Presets ratelimit.Presets `yaml:"presets"`
}

// LoadPresets reads rate-limit preset overrides from a YAML file. Entries
// with a non-positive window or max are dropped with a log line.
func LoadPresets(path string) (ratelimit.Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read presets: %w", err)
	}
	var f presetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse presets %s: %w", path, err)
	}
	out := make(ratelimit.Presets, len(f.Presets))
	for scope, p := range f.Presets {
		if !p.Valid() {
			log.Printf("[config] ignoring invalid preset %q: window=%ds max=%d", scope, p.WindowSeconds, p.Max)
			continue
		}
		out[scope] = p
	}
	return out, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if err := c.Spam.Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}
	if t := c.Duplicate.Threshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("config: duplicate threshold %v not in (0,1]", t))
	}
	if c.DeviceHeader == "" {
		errs = append(errs, errors.New("config: empty device header"))
	}
	for scope, p := range c.RateLimit.Presets {
		if !p.Valid() {
			errs = append(errs, fmt.Errorf("config: invalid rate limit preset %q", scope))
		}
	}
	return errors.Join(errs...)
}

// env reads typed values, falling back to the default on malformed input.
type env struct {
	get func(string) string
}

func (e env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e env) boolean(key string, def bool) bool {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, raw, def)
		return def
	}
	return v
}

func (e env) integer(key string, def int) int {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, raw, def)
		return def
	}
	return v
}

func (e env) float(key string, def float64) float64 {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 || v > 1 {
		log.Printf("[config] invalid %s=%q, using %v", key, raw, def)
		return def
	}
	return v
}

func (e env) failurePolicy(key string, def policy.FailurePolicy) policy.FailurePolicy {
	raw := e.get(key)
	if raw == "" {
		return def
	}
	p, ok := policy.ParseFailurePolicy(raw, def)
	if !ok {
		log.Printf("[config] invalid %s=%q, using %s", key, raw, def)
	}
	return p
}

// splitList splits a comma list, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
