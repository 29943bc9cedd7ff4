// Package config loads chamad configuration from defaults, an optional YAML
// file and CHAMA_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mmynk/chamaledger/internal/retry"
)

// EnvPrefix is prepended to every environment override, e.g. CHAMA_DATABASE_PATH.
const EnvPrefix = "CHAMA"

// Config is the full chamad configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" (colored) or "json"
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// LedgerConfig configures the Solana oracle.
type LedgerConfig struct {
	RPCURL string `mapstructure:"rpc_url"`
	// PayerSecret is the base58 private key of the treasury that signs payouts.
	PayerSecret string        `mapstructure:"payer_secret"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Lease        time.Duration `mapstructure:"lease"`
}

type ScheduleConfig struct {
	PayoutDelay time.Duration `mapstructure:"payout_delay"`
}

// RetryConfig holds one backoff policy per task class.
type RetryConfig struct {
	Verification retry.Policy `mapstructure:"verification"`
	Submission   retry.Policy `mapstructure:"submission"`
	Confirmation retry.Policy `mapstructure:"confirmation"`
	Schedule     retry.Policy `mapstructure:"schedule"`
}

// SweepConfig configures the maintenance passes. serve runs the stale
// contribution sweep every Interval; zero disables it.
type SweepConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after"`
	Interval   time.Duration `mapstructure:"interval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log:      LogConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Path: "./data/chama.db"},
		Server:   ServerConfig{Addr: ":8080"},
		Auth:     AuthConfig{TokenTTL: 24 * time.Hour},
		Ledger: LedgerConfig{
			RPCURL:  "https://api.devnet.solana.com",
			Timeout: 30 * time.Second,
		},
		Worker: WorkerConfig{
			Concurrency:  4,
			PollInterval: time.Second,
			Lease:        5 * time.Minute,
		},
		Schedule: ScheduleConfig{PayoutDelay: 24 * time.Hour},
		Retry: RetryConfig{
			Verification: retry.VerificationPolicy,
			Submission:   retry.SubmissionPolicy,
			Confirmation: retry.ConfirmationPolicy,
			Schedule:     retry.SchedulePolicy,
		},
		Sweep: SweepConfig{StaleAfter: 24 * time.Hour, Interval: time.Hour},
	}
}

// Load reads the configuration. path may be empty, in which case only defaults
// and environment overrides apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so that environment overrides apply to keys
// absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("ledger.rpc_url", d.Ledger.RPCURL)
	v.SetDefault("ledger.payer_secret", d.Ledger.PayerSecret)
	v.SetDefault("ledger.timeout", d.Ledger.Timeout)
	v.SetDefault("worker.concurrency", d.Worker.Concurrency)
	v.SetDefault("worker.poll_interval", d.Worker.PollInterval)
	v.SetDefault("worker.lease", d.Worker.Lease)
	v.SetDefault("schedule.payout_delay", d.Schedule.PayoutDelay)
	for name, p := range map[string]retry.Policy{
		"verification": d.Retry.Verification,
		"submission":   d.Retry.Submission,
		"confirmation": d.Retry.Confirmation,
		"schedule":     d.Retry.Schedule,
	} {
		v.SetDefault("retry."+name+".base_delay", p.BaseDelay)
		v.SetDefault("retry."+name+".max_retries", p.MaxRetries)
	}
	v.SetDefault("sweep.stale_after", d.Sweep.StaleAfter)
	v.SetDefault("sweep.interval", d.Sweep.Interval)
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Schedule.PayoutDelay < 0 {
		errs = append(errs, errors.New("schedule.payout_delay must not be negative"))
	}
	if c.Sweep.StaleAfter <= 0 {
		errs = append(errs, errors.New("sweep.stale_after must be positive"))
	}
	if c.Sweep.Interval < 0 {
		errs = append(errs, errors.New("sweep.interval must not be negative"))
	}
	for name, p := range map[string]retry.Policy{
		"verification": c.Retry.Verification,
		"submission":   c.Retry.Submission,
		"confirmation": c.Retry.Confirmation,
		"schedule":     c.Retry.Schedule,
	} {
		if p.BaseDelay < 0 || p.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("retry.%s must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

// ValidateServer checks the additional settings of the serve command.
func (c *Config) ValidateServer() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters"))
	}
	if c.Ledger.RPCURL == "" {
		errs = append(errs, errors.New("ledger.rpc_url is required"))
	}
	if c.Ledger.PayerSecret == "" {
		errs = append(errs, errors.New("ledger.payer_secret is required"))
	}
	if c.Ledger.Timeout <= 0 {
		errs = append(errs, errors.New("ledger.timeout must be positive"))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("worker.concurrency must be at least 1"))
	}
	if c.Worker.PollInterval <= 0 || c.Worker.Lease <= 0 {
		errs = append(errs, errors.New("worker.poll_interval and worker.lease must be positive"))
	}
	return errors.Join(errs...)
}
