package multisendd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"multisender/core/types"
	"multisender/native/multisend"
	telemetry "multisender/observability/otel"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses human readable duration strings. TOML decoding goes
// through this method.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for multisendd.
type Config struct {
	ListenAddress   string          `yaml:"listen" toml:"listen"`
	DataDir         string          `yaml:"data_dir" toml:"data_dir"`
	Environment     string          `yaml:"env" toml:"env"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	Engine          EngineConfig    `yaml:"engine" toml:"engine"`
	Auth            AuthConfig      `yaml:"auth" toml:"auth"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	CORS            CORSConfig      `yaml:"cors" toml:"cors"`
	Receipts        ReceiptsConfig  `yaml:"receipts" toml:"receipts"`
	Genesis         GenesisConfig   `yaml:"genesis" toml:"genesis"`
	Telemetry       TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Logging         LoggingConfig   `yaml:"logging" toml:"logging"`
}

// EngineConfig selects the engine identity and its behaviour.
type EngineConfig struct {
	Address       string `yaml:"address" toml:"address"`
	Owner         string `yaml:"owner" toml:"owner"`
	ErrorPolicy   string `yaml:"error_policy" toml:"error_policy"`
	RefundBasis   string `yaml:"refund_basis" toml:"refund_basis"`
	MaxRecipients int    `yaml:"max_recipients" toml:"max_recipients"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	HMACSecret     string   `yaml:"hmac_secret" toml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file" toml:"hmac_secret_file"`
	HMACSecretEnv  string   `yaml:"hmac_secret_env" toml:"hmac_secret_env"`
	Issuer         string   `yaml:"issuer" toml:"issuer"`
	Audience       string   `yaml:"audience" toml:"audience"`
	ClockSkew      Duration `yaml:"clock_skew" toml:"clock_skew"`
}

// RateLimitConfig throttles each caller. A zero rate disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// ReceiptsConfig selects the receipt archive database.
type ReceiptsConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
	DSNEnv string `yaml:"dsn_env" toml:"dsn_env"`
}

// GenesisConfig seeds a fresh data directory. It is applied only the first
// time the engine is initialised.
type GenesisConfig struct {
	Balances map[string]string `yaml:"balances" toml:"balances"`
	Tokens   []TokenGenesis    `yaml:"tokens" toml:"tokens"`
	// Rejecting lists accounts that refuse incoming native value, such as
	// contracts without a payable fallback.
	Rejecting []string `yaml:"rejecting" toml:"rejecting"`
}

// TokenGenesis registers a token, mints balances and grants the engine
// allowances on behalf of holders.
type TokenGenesis struct {
	Address    string            `yaml:"address" toml:"address"`
	Symbol     string            `yaml:"symbol" toml:"symbol"`
	Decimals   uint8             `yaml:"decimals" toml:"decimals"`
	Balances   map[string]string `yaml:"balances" toml:"balances"`
	Allowances map[string]string `yaml:"allowances" toml:"allowances"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool              `yaml:"insecure" toml:"insecure"`
	Headers     map[string]string `yaml:"headers" toml:"headers"`
	Traces      bool              `yaml:"traces" toml:"traces"`
	Metrics     bool              `yaml:"metrics" toml:"metrics"`
	SampleRatio float64           `yaml:"sample_ratio" toml:"sample_ratio"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	LogHTTP    bool   `yaml:"log_http" toml:"log_http"`
}

// LoadConfig reads configuration from the supplied path. Files ending in
// .toml are decoded as TOML, everything else as YAML.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	default:
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	cfg.Telemetry.mergeHeaders(telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")))
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	if err := cfg.Receipts.normalise(); err != nil {
		return cfg, fmt.Errorf("receipts: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.ShutdownTimeout.Duration <= 0 {
		cfg.ShutdownTimeout.Duration = 10 * time.Second
	}
	if cfg.Auth.ClockSkew.Duration <= 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute > 0 && cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 10
	}
	cfg.Receipts.Driver = strings.ToLower(strings.TrimSpace(cfg.Receipts.Driver))
	if cfg.Receipts.Driver == "" {
		cfg.Receipts.Driver = "sqlite"
	}
	if cfg.Receipts.Driver == "sqlite" && strings.TrimSpace(cfg.Receipts.DSN) == "" && strings.TrimSpace(cfg.Receipts.DSNEnv) == "" {
		if cfg.DataDir != "" {
			cfg.Receipts.DSN = filepath.Join(cfg.DataDir, "receipts.db")
		} else {
			cfg.Receipts.DSN = "file:multisend-receipts?mode=memory&cache=shared"
		}
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4318"
	}
}

func validateConfig(cfg Config) error {
	vault, err := types.ParseAddress(cfg.Engine.Address)
	if err != nil {
		return fmt.Errorf("engine.address: %w", err)
	}
	if types.IsZeroAddress(vault) {
		return fmt.Errorf("engine.address must not be the zero address")
	}
	owner, err := types.ParseAddress(cfg.Engine.Owner)
	if err != nil {
		return fmt.Errorf("engine.owner: %w", err)
	}
	if types.IsZeroAddress(owner) {
		return fmt.Errorf("engine.owner must not be the zero address")
	}
	if _, err := multisend.ParseErrorPolicy(cfg.Engine.ErrorPolicy); err != nil {
		return fmt.Errorf("engine.error_policy: %w", err)
	}
	if _, err := multisend.ParseRefundBasis(cfg.Engine.RefundBasis); err != nil {
		return fmt.Errorf("engine.refund_basis: %w", err)
	}
	if cfg.Engine.MaxRecipients < 0 {
		return fmt.Errorf("engine.max_recipients must not be negative")
	}
	if cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth.hmac_secret must be configured")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	switch cfg.Receipts.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("receipts.driver %q unsupported; use sqlite or postgres", cfg.Receipts.Driver)
	}
	if cfg.Receipts.DSN == "" {
		return fmt.Errorf("receipts.dsn must be configured for %s", cfg.Receipts.Driver)
	}
	if err := cfg.Genesis.validate(); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	return nil
}

func (g GenesisConfig) validate() error {
	if err := validateAllocations(g.Balances); err != nil {
		return fmt.Errorf("balances: %w", err)
	}
	for i, holder := range g.Rejecting {
		addr, err := types.ParseAddress(holder)
		if err != nil {
			return fmt.Errorf("rejecting[%d]: %w", i, err)
		}
		if types.IsZeroAddress(addr) {
			return fmt.Errorf("rejecting[%d] must not be the zero address", i)
		}
	}
	seen := make(map[common.Address]struct{}, len(g.Tokens))
	for i, tok := range g.Tokens {
		addr, err := types.ParseAddress(tok.Address)
		if err != nil {
			return fmt.Errorf("tokens[%d].address: %w", i, err)
		}
		if types.IsZeroAddress(addr) {
			return fmt.Errorf("tokens[%d].address must not be the zero address", i)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("tokens[%d]: duplicate token %s", i, addr.Hex())
		}
		seen[addr] = struct{}{}
		if strings.TrimSpace(tok.Symbol) == "" {
			return fmt.Errorf("tokens[%d].symbol must be set", i)
		}
		if err := validateAllocations(tok.Balances); err != nil {
			return fmt.Errorf("tokens[%d].balances: %w", i, err)
		}
		if err := validateAllocations(tok.Allowances); err != nil {
			return fmt.Errorf("tokens[%d].allowances: %w", i, err)
		}
	}
	return nil
}

func validateAllocations(allocs map[string]string) error {
	for holder, amount := range allocs {
		addr, err := types.ParseAddress(holder)
		if err != nil {
			return err
		}
		if types.IsZeroAddress(addr) {
			return fmt.Errorf("zero address cannot hold a balance")
		}
		if _, err := types.ParseAmount(amount); err != nil {
			return fmt.Errorf("%s: %w", holder, err)
		}
	}
	return nil
}

func (a *AuthConfig) normalise() error {
	if a == nil {
		return fmt.Errorf("auth configuration missing")
	}
	a.HMACSecret = strings.TrimSpace(a.HMACSecret)
	a.HMACSecretEnv = strings.TrimSpace(a.HMACSecretEnv)
	a.HMACSecretFile = strings.TrimSpace(a.HMACSecretFile)
	a.Issuer = strings.TrimSpace(a.Issuer)
	a.Audience = strings.TrimSpace(a.Audience)
	if a.HMACSecret != "" {
		return nil
	}
	switch {
	case a.HMACSecretEnv != "":
		value := strings.TrimSpace(os.Getenv(a.HMACSecretEnv))
		if value == "" {
			return fmt.Errorf("hmac_secret_env %s is empty", a.HMACSecretEnv)
		}
		a.HMACSecret = value
	case a.HMACSecretFile != "":
		contents, err := os.ReadFile(a.HMACSecretFile)
		if err != nil {
			return fmt.Errorf("read hmac_secret_file: %w", err)
		}
		a.HMACSecret = strings.TrimSpace(string(contents))
	}
	return nil
}

// mergeHeaders adds exporter headers from the environment. Headers set in the
// file take precedence.
func (t *TelemetryConfig) mergeHeaders(headers map[string]string) {
	if len(headers) == 0 {
		return
	}
	if t.Headers == nil {
		t.Headers = make(map[string]string, len(headers))
	}
	for key, value := range headers {
		if _, ok := t.Headers[key]; !ok {
			t.Headers[key] = value
		}
	}
}

func (r *ReceiptsConfig) normalise() error {
	r.DSN = strings.TrimSpace(r.DSN)
	r.DSNEnv = strings.TrimSpace(r.DSNEnv)
	if r.DSN == "" && r.DSNEnv != "" {
		value := strings.TrimSpace(os.Getenv(r.DSNEnv))
		if value == "" {
			return fmt.Errorf("dsn_env %s is empty", r.DSNEnv)
		}
		r.DSN = value
	}
	return nil
}

// engineOptions translates the validated engine section into engine options.
func (c EngineConfig) engineOptions() ([]multisend.Option, error) {
	policy, err := multisend.ParseErrorPolicy(c.ErrorPolicy)
	if err != nil {
		return nil, err
	}
	basis, err := multisend.ParseRefundBasis(c.RefundBasis)
	if err != nil {
		return nil, err
	}
	return []multisend.Option{
		multisend.WithPolicy(policy),
		multisend.WithRefundBasis(basis),
		multisend.WithMaxRecipients(c.MaxRecipients),
	}, nil
}
