package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/kickctl/internal/ledger"
	"gopkg.in/yaml.v3"
)

// TrackerAccount is the registry whose kicking proposals are mirrored.
const TrackerAccount = "alohatracker"

const (
	DefaultPermission  = "active"
	DefaultAdminAddr   = "127.0.0.1:9464"
	DefaultInterval    = 60 * time.Second
	DefaultCallTimeout = 30 * time.Second
	DefaultExplorerURL = "https://bloks.io"
	DefaultLeaseKey    = "kickctl:tick"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the agent's runtime configuration.
type Config struct {
	RPCHost             string
	MonitoredAccount    string
	MonitoredPermission string
	ApprovePermission   string
	ProposerAccount     string
	ProposerPermission  string
	ProposerPrivateKey  string
	SlackWebhookURL     string
	SentryDSN           string
	ExplorerURL         string

	AdminAddr    string
	AdminToken   string
	RedisURL     string
	LeaseKey     string
	OTLPEndpoint string

	Interval      time.Duration
	CallTimeout   time.Duration
	BlocksBehind  int
	ExpireSeconds int
}

// Default returns a Config with every optional field set.
func Default() Config {
	return Config{
		MonitoredPermission: DefaultPermission,
		ApprovePermission:   DefaultPermission,
		ProposerPermission:  DefaultPermission,
		ExplorerURL:         DefaultExplorerURL,
		AdminAddr:           DefaultAdminAddr,
		LeaseKey:            DefaultLeaseKey,
		Interval:            DefaultInterval,
		CallTimeout:         DefaultCallTimeout,
		BlocksBehind:        ledger.DefaultBlocksBehind,
		ExpireSeconds:       ledger.DefaultExpireSeconds,
	}
}

// Monitored is the permission whose delegated authorities a mirror requests.
func (c Config) Monitored() ledger.Authority {
	return ledger.Authority{Account: c.MonitoredAccount, Permission: c.MonitoredPermission}
}

// Approver is the level the mirrored approve is signed and recorded with.
func (c Config) Approver() ledger.Authority {
	return ledger.Authority{Account: c.MonitoredAccount, Permission: c.ApprovePermission}
}

// Reconciler is the authority that proposes and cancels mirrors.
func (c Config) Reconciler() ledger.Authority {
	return ledger.Authority{Account: c.ProposerAccount, Permission: c.ProposerPermission}
}

// kickctl config file key mapping; shared by toml and yaml.
type fileConfig struct {
	RPCHost             string `toml:"rpc_host" yaml:"rpc_host"`
	MonitoredAccount    string `toml:"bp_account" yaml:"bp_account"`
	MonitoredPermission string `toml:"bp_permission_name" yaml:"bp_permission_name"`
	ApprovePermission   string `toml:"bp_approve_permission" yaml:"bp_approve_permission"`
	ProposerAccount     string `toml:"proposer_account" yaml:"proposer_account"`
	ProposerPermission  string `toml:"proposer_permission_name" yaml:"proposer_permission_name"`
	ProposerPrivateKey  string `toml:"proposer_private_key" yaml:"proposer_private_key"`
	SlackWebhookURL     string `toml:"slack_webhook_url" yaml:"slack_webhook_url"`
	SentryDSN           string `toml:"sentry_dsn" yaml:"sentry_dsn"`
	ExplorerURL         string `toml:"explorer_url" yaml:"explorer_url"`
	AdminAddr           string `toml:"admin_addr" yaml:"admin_addr"`
	AdminToken          string `toml:"admin_token" yaml:"admin_token"`
	RedisURL            string `toml:"redis_url" yaml:"redis_url"`
	LeaseKey            string `toml:"lease_key" yaml:"lease_key"`
	OTLPEndpoint        string `toml:"otlp_endpoint" yaml:"otlp_endpoint"`
	Interval            string `toml:"interval" yaml:"interval"`
	CallTimeout         string `toml:"call_timeout" yaml:"call_timeout"`
	BlocksBehind        int    `toml:"blocks_behind" yaml:"blocks_behind"`
	ExpireSeconds       int    `toml:"expire_seconds" yaml:"expire_seconds"`
}

// Load overlays the file at path (when non-empty) and then the environment
// onto Default, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		var err error
		cfg, err = overlayFile(cfg, path)
		if err != nil {
			return Config{}, err
		}
	}
	cfg, err := ApplyEnv(cfg, os.LookupEnv)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg Config, path string) (Config, error) {
	var (
		raw     fileConfig
		defined func(key string) bool
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("load kickctl config: %w", err)
		}
		defined = func(key string) bool { return meta.IsDefined(key) }
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("load kickctl config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("load kickctl config: %w", err)
		}
		keys := make(map[string]any)
		if err := yaml.Unmarshal(data, &keys); err != nil {
			return Config{}, fmt.Errorf("load kickctl config: %w", err)
		}
		defined = func(key string) bool {
			_, ok := keys[key]
			return ok
		}
	default:
		return Config{}, fmt.Errorf("%w: unsupported config extension %q", ErrInvalidConfig, ext)
	}

	str := func(key string, dst *string, val string) {
		if defined(key) {
			*dst = strings.TrimSpace(val)
		}
	}
	str("rpc_host", &cfg.RPCHost, raw.RPCHost)
	str("bp_account", &cfg.MonitoredAccount, raw.MonitoredAccount)
	str("bp_permission_name", &cfg.MonitoredPermission, raw.MonitoredPermission)
	str("bp_approve_permission", &cfg.ApprovePermission, raw.ApprovePermission)
	str("proposer_account", &cfg.ProposerAccount, raw.ProposerAccount)
	str("proposer_permission_name", &cfg.ProposerPermission, raw.ProposerPermission)
	str("proposer_private_key", &cfg.ProposerPrivateKey, raw.ProposerPrivateKey)
	str("slack_webhook_url", &cfg.SlackWebhookURL, raw.SlackWebhookURL)
	str("sentry_dsn", &cfg.SentryDSN, raw.SentryDSN)
	str("explorer_url", &cfg.ExplorerURL, raw.ExplorerURL)
	str("admin_addr", &cfg.AdminAddr, raw.AdminAddr)
	str("admin_token", &cfg.AdminToken, raw.AdminToken)
	str("redis_url", &cfg.RedisURL, raw.RedisURL)
	str("lease_key", &cfg.LeaseKey, raw.LeaseKey)
	str("otlp_endpoint", &cfg.OTLPEndpoint, raw.OTLPEndpoint)

	if defined("interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Interval))
		if err != nil {
			return Config{}, fmt.Errorf("load kickctl config: interval: %w", err)
		}
		cfg.Interval = d
	}
	if defined("call_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.CallTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("load kickctl config: call_timeout: %w", err)
		}
		cfg.CallTimeout = d
	}
	if defined("blocks_behind") {
		cfg.BlocksBehind = raw.BlocksBehind
	}
	if defined("expire_seconds") {
		cfg.ExpireSeconds = raw.ExpireSeconds
	}
	return cfg, nil
}

// ApplyEnv overlays the process environment, as seen through lookup, onto cfg.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("RPC_HOST", &cfg.RPCHost)
	str("BP_ACCOUNT", &cfg.MonitoredAccount)
	str("BP_PERMISSION_NAME", &cfg.MonitoredPermission)
	str("KICKCTL_APPROVE_PERMISSION", &cfg.ApprovePermission)
	str("PROPOSER_ACCOUNT", &cfg.ProposerAccount)
	str("PROPOSER_PERMISSION_NAME", &cfg.ProposerPermission)
	str("PROPOSER_PRIVATE_KEY", &cfg.ProposerPrivateKey)
	str("SLACK_WEBHOOK_URL", &cfg.SlackWebhookURL)
	str("SENTRY_DSN", &cfg.SentryDSN)
	str("KICKCTL_EXPLORER_URL", &cfg.ExplorerURL)
	str("KICKCTL_ADMIN_ADDR", &cfg.AdminAddr)
	str("KICKCTL_ADMIN_TOKEN", &cfg.AdminToken)
	str("KICKCTL_REDIS_URL", &cfg.RedisURL)
	str("KICKCTL_LEASE_KEY", &cfg.LeaseKey)
	str("KICKCTL_OTLP_ENDPOINT", &cfg.OTLPEndpoint)

	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
		*dst = d
		return nil
	}
	if err := dur("KICKCTL_INTERVAL", &cfg.Interval); err != nil {
		return Config{}, err
	}
	if err := dur("KICKCTL_CALL_TIMEOUT", &cfg.CallTimeout); err != nil {
		return Config{}, err
	}
	if v, ok := lookup("KICKCTL_BLOCKS_BEHIND"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("%w: KICKCTL_BLOCKS_BEHIND: %v", ErrInvalidConfig, err)
		}
		cfg.BlocksBehind = n
	}
	return cfg, nil
}

// Validate rejects configs the agent cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.RPCHost) == "" {
		return fmt.Errorf("%w: rpc host is required", ErrInvalidConfig)
	}
	if err := c.Monitored().Validate(); err != nil {
		return fmt.Errorf("%w: bp account: %v", ErrInvalidConfig, err)
	}
	if err := c.Approver().Validate(); err != nil {
		return fmt.Errorf("%w: bp approve permission: %v", ErrInvalidConfig, err)
	}
	if err := c.Reconciler().Validate(); err != nil {
		return fmt.Errorf("%w: proposer account: %v", ErrInvalidConfig, err)
	}
	if strings.TrimSpace(c.ProposerPrivateKey) == "" {
		return fmt.Errorf("%w: proposer private key is required", ErrInvalidConfig)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%w: call timeout must be positive", ErrInvalidConfig)
	}
	if c.BlocksBehind < 0 {
		return fmt.Errorf("%w: blocks behind must not be negative", ErrInvalidConfig)
	}
	if c.ExpireSeconds <= 0 {
		return fmt.Errorf("%w: expire seconds must be positive", ErrInvalidConfig)
	}
	return nil
}

// String renders the config with secrets redacted.
func (c Config) String() string {
	return fmt.Sprintf(
		"rpc_host=%s bp=%s proposer=%s key=%s slack=%s sentry=%s admin=%s admin_token=%s redis=%s otlp=%s interval=%s call_timeout=%s",
		c.RPCHost,
		c.Monitored(),
		c.Reconciler(),
		redact(c.ProposerPrivateKey),
		redact(c.SlackWebhookURL),
		redact(c.SentryDSN),
		c.AdminAddr,
		redact(c.AdminToken),
		redact(c.RedisURL),
		c.OTLPEndpoint,
		c.Interval,
		c.CallTimeout,
	)
}

func redact(secret string) string {
	if strings.TrimSpace(secret) == "" {
		return "<unset>"
	}
	return "<redacted>"
}
