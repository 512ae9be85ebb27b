// Package config loads server settings. Values are layered, later layers
// winning: built-in defaults, an optional YAML file, ABSENCES_* environment
// variables, then command-line flags.
package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Environments
const (
	Development = "development"
	Production  = "production"
)

// Config is the complete server configuration.
type Config struct {
	Environment string `yaml:"environment"`
	Addr        string `yaml:"addr"`
	DBPath      string `yaml:"db_path"`
	StaticDir   string `yaml:"static_dir"`

	// SiteURL is the public base URL of the app. Emailed links and the
	// default post-recovery redirect are built from it.
	SiteURL string `yaml:"site_url"`

	Auth  AuthConfig  `yaml:"auth"`
	Shell ShellConfig `yaml:"shell"`
	Email EmailConfig `yaml:"email"`
	HTTP  HTTPConfig  `yaml:"http"`
	Admin AdminConfig `yaml:"admin"`
}

// AuthConfig configures the identity provider.
type AuthConfig struct {
	// DeliveryMode is implicit or pkce.
	DeliveryMode string `yaml:"delivery_mode"`
	// SigningKey is hex encoded, at least 32 bytes.
	SigningKey        string        `yaml:"signing_key"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl"`
	RecoveryTokenTTL  time.Duration `yaml:"recovery_token_ttl"`
	ExchangeCodeTTL   time.Duration `yaml:"exchange_code_ttl"`
	ResetInterval     time.Duration `yaml:"reset_interval"`
	MinPasswordLength int           `yaml:"min_password_length"`
	AllowedRedirects  []string      `yaml:"allowed_redirects"`
}

// ShellConfig configures page sessions.
type ShellConfig struct {
	SettleDelay     time.Duration `yaml:"settle_delay"`
	ErrorScrubDelay time.Duration `yaml:"error_scrub_delay"`
	// TabIdleTimeout is how long a page session may go unpolled before it
	// is closed.
	TabIdleTimeout time.Duration `yaml:"tab_idle_timeout"`
}

// EmailConfig configures recovery email delivery. With no ResendKey mail
// is logged instead of sent.
type EmailConfig struct {
	ResendKey string `yaml:"resend_key"`
	From      string `yaml:"from"`
	ReplyTo   string `yaml:"reply_to"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	// CSRFKey is hex encoded, exactly 32 bytes.
	CSRFKey            string        `yaml:"csrf_key"`
	RateLimitPerSecond int           `yaml:"rate_limit_per_second"`
	SlowRequest        time.Duration `yaml:"slow_request"`
	SlowQuery          time.Duration `yaml:"slow_query"`
}

// AdminConfig is the account seeded into an empty database.
type AdminConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Environment: Development,
		Addr:        ":8080",
		DBPath:      "absences.db",
		StaticDir:   "static",
		SiteURL:     "http://localhost:8080/",
		Auth: AuthConfig{
			DeliveryMode:      "implicit",
			AccessTokenTTL:    time.Hour,
			RecoveryTokenTTL:  time.Hour,
			ExchangeCodeTTL:   5 * time.Minute,
			ResetInterval:     60 * time.Second,
			MinPasswordLength: 6,
		},
		Shell: ShellConfig{
			SettleDelay:     500 * time.Millisecond,
			ErrorScrubDelay: 5 * time.Second,
			TabIdleTimeout:  2 * time.Minute,
		},
		Email: EmailConfig{
			From: "Absences <noreply@absences.local>",
		},
		HTTP: HTTPConfig{
			RateLimitPerSecond: 10,
			SlowRequest:        200 * time.Millisecond,
			SlowQuery:          50 * time.Millisecond,
		},
		Admin: AdminConfig{
			Email: "admin@absences.local",
		},
	}
}

// LoadFile overlays a YAML file onto cfg. Unknown keys are rejected.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Lookup reads one environment variable.
type Lookup func(key string) (string, bool)

// ApplyEnv overlays ABSENCES_* variables onto cfg.
func ApplyEnv(cfg *Config, lookup Lookup) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("ABSENCES_ENV", &cfg.Environment)
	str("ABSENCES_ADDR", &cfg.Addr)
	str("ABSENCES_DB", &cfg.DBPath)
	str("ABSENCES_STATIC_DIR", &cfg.StaticDir)
	str("ABSENCES_SITE_URL", &cfg.SiteURL)

	str("ABSENCES_DELIVERY_MODE", &cfg.Auth.DeliveryMode)
	str("ABSENCES_SIGNING_KEY", &cfg.Auth.SigningKey)
	dur("ABSENCES_ACCESS_TOKEN_TTL", &cfg.Auth.AccessTokenTTL)
	dur("ABSENCES_RECOVERY_TOKEN_TTL", &cfg.Auth.RecoveryTokenTTL)
	dur("ABSENCES_EXCHANGE_CODE_TTL", &cfg.Auth.ExchangeCodeTTL)
	dur("ABSENCES_RESET_INTERVAL", &cfg.Auth.ResetInterval)
	num("ABSENCES_MIN_PASSWORD_LENGTH", &cfg.Auth.MinPasswordLength)
	if v, ok := lookup("ABSENCES_ALLOWED_REDIRECTS"); ok && v != "" {
		cfg.Auth.AllowedRedirects = splitList(v)
	}

	dur("ABSENCES_SETTLE_DELAY", &cfg.Shell.SettleDelay)
	dur("ABSENCES_ERROR_SCRUB_DELAY", &cfg.Shell.ErrorScrubDelay)
	dur("ABSENCES_TAB_IDLE_TIMEOUT", &cfg.Shell.TabIdleTimeout)

	str("ABSENCES_RESEND_KEY", &cfg.Email.ResendKey)
	str("ABSENCES_RESEND_FROM", &cfg.Email.From)
	str("ABSENCES_REPLY_TO", &cfg.Email.ReplyTo)

	str("ABSENCES_CSRF_KEY", &cfg.HTTP.CSRFKey)
	num("ABSENCES_RATE_LIMIT", &cfg.HTTP.RateLimitPerSecond)
	dur("ABSENCES_SLOW_REQUEST", &cfg.HTTP.SlowRequest)
	dur("ABSENCES_SLOW_QUERY", &cfg.HTTP.SlowQuery)

	str("ABSENCES_ADMIN_EMAIL", &cfg.Admin.Email)
	str("ABSENCES_ADMIN_PASSWORD", &cfg.Admin.Password)

	return errors.Join(errs...)
}

// flagBinding copies a flag onto the config when it was set explicitly.
type flagBinding struct {
	name  string
	apply func(cfg *Config)
}

// Flags holds the command-line layer.
type Flags struct {
	set        *pflag.FlagSet
	configPath string
	bindings   []flagBinding
}

// NewFlags registers the server's flags on a new flag set.
func NewFlags(name string) *Flags {
	f := &Flags{set: pflag.NewFlagSet(name, pflag.ContinueOnError)}
	d := Default()
	f.set.StringVar(&f.configPath, "config", "", "YAML config file (also ABSENCES_CONFIG)")

	f.str("env", d.Environment, "development or production", func(c *Config) *string { return &c.Environment })
	f.str("addr", d.Addr, "listen address", func(c *Config) *string { return &c.Addr })
	f.str("db", d.DBPath, "SQLite database path", func(c *Config) *string { return &c.DBPath })
	f.str("static-dir", d.StaticDir, "directory served at /", func(c *Config) *string { return &c.StaticDir })
	f.str("site-url", d.SiteURL, "public base URL", func(c *Config) *string { return &c.SiteURL })
	f.str("delivery-mode", d.Auth.DeliveryMode, "recovery credential delivery: implicit or pkce",
		func(c *Config) *string { return &c.Auth.DeliveryMode })
	f.num("min-password-length", d.Auth.MinPasswordLength, "shortest accepted password",
		func(c *Config) *int { return &c.Auth.MinPasswordLength })
	f.dur("settle-delay", d.Shell.SettleDelay, "wait before leaving the loading view on a recovery visit",
		func(c *Config) *time.Duration { return &c.Shell.SettleDelay })
	f.dur("error-scrub-delay", d.Shell.ErrorScrubDelay, "how long a recovery error stays in the address bar",
		func(c *Config) *time.Duration { return &c.Shell.ErrorScrubDelay })
	f.num("rate-limit", d.HTTP.RateLimitPerSecond, "requests per second per client IP",
		func(c *Config) *int { return &c.HTTP.RateLimitPerSecond })
	return f
}

func (f *Flags) str(name, def, usage string, field func(*Config) *string) {
	v := f.set.String(name, def, usage)
	f.bindings = append(f.bindings, flagBinding{name, func(c *Config) { *field(c) = *v }})
}

func (f *Flags) num(name string, def int, usage string, field func(*Config) *int) {
	v := f.set.Int(name, def, usage)
	f.bindings = append(f.bindings, flagBinding{name, func(c *Config) { *field(c) = *v }})
}

func (f *Flags) dur(name string, def time.Duration, usage string, field func(*Config) *time.Duration) {
	v := f.set.Duration(name, def, usage)
	f.bindings = append(f.bindings, flagBinding{name, func(c *Config) { *field(c) = *v }})
}

// FlagSet exposes the underlying flag set, for usage output.
func (f *Flags) FlagSet() *pflag.FlagSet {
	return f.set
}

// Load parses args and builds the layered configuration.
// POST: The returned Config has passed Validate
func Load(args []string, lookup Lookup) (Config, error) {
	flags := NewFlags("absences")
	if err := flags.set.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	path := flags.configPath
	if path == "" {
		path, _ = lookup("ABSENCES_CONFIG")
	}
	if path != "" {
		if err := LoadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	for _, b := range flags.bindings {
		if flags.set.Changed(b.name) {
			b.apply(&cfg)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c Config) Validate() error {
	var errs []error
	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("environment %q must be %s or %s", c.Environment, Development, Production))
	}
	if u, err := url.Parse(c.SiteURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("site_url %q must be an absolute URL", c.SiteURL))
	}
	if c.Auth.DeliveryMode != "implicit" && c.Auth.DeliveryMode != "pkce" {
		errs = append(errs, fmt.Errorf("delivery_mode %q must be implicit or pkce", c.Auth.DeliveryMode))
	}
	if c.Auth.MinPasswordLength < 6 {
		errs = append(errs, errors.New("min_password_length must be at least 6"))
	}
	if c.Shell.SettleDelay < 0 || c.Shell.ErrorScrubDelay < 0 {
		errs = append(errs, errors.New("shell delays cannot be negative"))
	}
	if c.HTTP.RateLimitPerSecond <= 0 {
		errs = append(errs, errors.New("rate_limit_per_second must be positive"))
	}
	if c.IsProduction() {
		if c.Auth.SigningKey == "" {
			errs = append(errs, errors.New("signing_key is required in production"))
		}
		if c.HTTP.CSRFKey == "" {
			errs = append(errs, errors.New("csrf_key is required in production"))
		}
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the production environment is configured.
func (c Config) IsProduction() bool {
	return c.Environment == Production
}

// SigningKeyBytes decodes the signing key. Outside production a missing
// key is replaced by a random one, so sessions do not survive a restart.
func (c Config) SigningKeyBytes() (key []byte, generated bool, err error) {
	return decodeKey("signing_key", c.Auth.SigningKey, 32, false, c.IsProduction())
}

// CSRFKeyBytes decodes the CSRF key, generating one outside production.
func (c Config) CSRFKeyBytes() (key []byte, generated bool, err error) {
	return decodeKey("csrf_key", c.HTTP.CSRFKey, 32, true, c.IsProduction())
}

func decodeKey(name, hexKey string, size int, exact, production bool) ([]byte, bool, error) {
	if hexKey == "" {
		if production {
			return nil, false, fmt.Errorf("%s is required in production", name)
		}
		key := make([]byte, size)
		if _, err := rand.Read(key); err != nil {
			return nil, false, fmt.Errorf("generate %s: %w", name, err)
		}
		return key, true, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, false, fmt.Errorf("%s must be hex encoded: %w", name, err)
	}
	if len(key) < size || (exact && len(key) != size) {
		return nil, false, fmt.Errorf("%s must be %d bytes (%d hex characters)", name, size, size*2)
	}
	return key, false, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
