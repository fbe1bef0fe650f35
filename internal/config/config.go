package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/xueqianLu/ledgerctl/internal/errs"
	"github.com/xueqianLu/ledgerctl/internal/execute"
)

// EnvPrefix prefixes every environment override, e.g.
// LEDGERCTL_EXECUTION_MAX_RETRIES.
const EnvPrefix = "LEDGERCTL"

// DefaultNetwork is the network used when none is configured.
const DefaultNetwork = "devnet"

// Config holds the application configuration.
type Config struct {
	Network    string                   `mapstructure:"network" validate:"required"`
	Networks   map[string]NetworkConfig `mapstructure:"networks" validate:"required,dive"`
	KeyManager KeyManagerConfig         `mapstructure:"key_manager"`
	State      StateConfig              `mapstructure:"state"`
	Execution  ExecutionConfig          `mapstructure:"execution"`
	Resolver   ResolverConfig           `mapstructure:"resolver"`
	Mirror     MirrorConfig             `mapstructure:"mirror"`
	Log        LogConfig                `mapstructure:"log"`
	Devnet     DevnetConfig             `mapstructure:"devnet"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// NetworkConfig describes one ledger network.
type NetworkConfig struct {
	GatewayURL    string         `mapstructure:"gateway_url" validate:"required,url"`
	MirrorURL     string         `mapstructure:"mirror_url" validate:"omitempty,url"`
	APIKey        string         `mapstructure:"api_key"`
	APISecret     string         `mapstructure:"api_secret" validate:"required_with=APIKey"`
	NodeAccountID string         `mapstructure:"node_account_id" validate:"required"`
	Operator      OperatorConfig `mapstructure:"operator"`
}

// OperatorConfig is the default paying account of a network. Either the
// keyRefId of a stored key or a raw private key may be given.
type OperatorConfig struct {
	AccountID  string `mapstructure:"account_id"`
	KeyRefID   string `mapstructure:"key_ref_id"`
	PrivateKey string `mapstructure:"private_key"`
}

// KeyManagerConfig holds the configuration for the secret store backends.
type KeyManagerConfig struct {
	DefaultBackend string               `mapstructure:"default_backend" validate:"oneof=local local_encrypted vault"`
	Local          LocalConfig          `mapstructure:"local"`
	LocalEncrypted LocalEncryptedConfig `mapstructure:"local_encrypted"`
	Vault          VaultConfig          `mapstructure:"vault"`
}

// LocalConfig holds the configuration for the plaintext local backend.
type LocalConfig struct {
	KeyDir string `mapstructure:"key_dir" validate:"required"`
}

// LocalEncryptedConfig holds the configuration for the encrypted local
// backend. The backend is only enabled when a passphrase is set.
type LocalEncryptedConfig struct {
	KeyDir     string `mapstructure:"key_dir" validate:"required"`
	Passphrase string `mapstructure:"passphrase"`
	LightKDF   bool   `mapstructure:"light_kdf"`
}

// VaultConfig holds the Vault configuration. The backend is only enabled
// when an address is set.
type VaultConfig struct {
	Address   string `mapstructure:"address" validate:"omitempty,url"`
	Token     string `mapstructure:"token"`
	Mount     string `mapstructure:"mount" validate:"required"`
	Prefix    string `mapstructure:"prefix"`
	AutoMount bool   `mapstructure:"auto_mount"`
}

// StateConfig selects where credential metadata and aliases are kept.
type StateConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite memory"`
	Path   string `mapstructure:"path" validate:"required_if=Driver sqlite"`
}

type ExecutionConfig struct {
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0,lte=20"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	Backoff        string        `mapstructure:"backoff" validate:"oneof=constant exponential"`
	MaxDelay       time.Duration `mapstructure:"max_delay" validate:"gte=0"`
	PollAttempts   int           `mapstructure:"poll_attempts" validate:"gte=1"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" validate:"gt=0"`
}

type ResolverConfig struct {
	DefaultAlgorithm  string `mapstructure:"default_algorithm" validate:"oneof=ECDSA ED25519"`
	VerifyAccountKeys bool   `mapstructure:"verify_account_keys"`
}

type MirrorConfig struct {
	RatePerSecond float64       `mapstructure:"rate_per_second" validate:"gte=0"`
	Burst         int           `mapstructure:"burst" validate:"gte=0"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// DevnetConfig configures `ledgerctl devnet serve`.
type DevnetConfig struct {
	Listen          string `mapstructure:"listen" validate:"required,hostname_port"`
	InitialBalance  uint64 `mapstructure:"initial_balance"`
	TreasuryAccount string `mapstructure:"treasury_account" validate:"required"`
	APIKey          string `mapstructure:"api_key"`
	APISecret       string `mapstructure:"api_secret" validate:"required_with=APIKey"`
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("network", DefaultNetwork)
	v.SetDefault("networks.devnet.gateway_url", "http://127.0.0.1:5551")
	v.SetDefault("networks.devnet.mirror_url", "http://127.0.0.1:5551")
	v.SetDefault("networks.devnet.node_account_id", "0.0.3")
	v.SetDefault("networks.devnet.api_key", "")
	v.SetDefault("networks.devnet.api_secret", "")
	v.SetDefault("networks.devnet.operator.account_id", "0.0.2")
	v.SetDefault("networks.devnet.operator.key_ref_id", "")
	v.SetDefault("networks.devnet.operator.private_key", "")

	v.SetDefault("key_manager.default_backend", "local")
	v.SetDefault("key_manager.local.key_dir", filepath.Join(home, "keys"))
	v.SetDefault("key_manager.local_encrypted.key_dir", filepath.Join(home, "keys-encrypted"))
	v.SetDefault("key_manager.local_encrypted.passphrase", "")
	v.SetDefault("key_manager.local_encrypted.light_kdf", false)
	v.SetDefault("key_manager.vault.address", "")
	v.SetDefault("key_manager.vault.token", "")
	v.SetDefault("key_manager.vault.mount", "secret")
	v.SetDefault("key_manager.vault.prefix", "ledgerctl")
	v.SetDefault("key_manager.vault.auto_mount", false)

	v.SetDefault("state.driver", "sqlite")
	v.SetDefault("state.path", filepath.Join(home, "state.db"))

	p := execute.DefaultPolicy()
	v.SetDefault("execution.max_retries", p.MaxRetries)
	v.SetDefault("execution.retry_delay", p.RetryDelay)
	v.SetDefault("execution.backoff", p.Backoff)
	v.SetDefault("execution.max_delay", p.MaxDelay)
	v.SetDefault("execution.poll_attempts", p.PollAttempts)
	v.SetDefault("execution.poll_interval", p.PollInterval)
	v.SetDefault("execution.attempt_timeout", p.AttemptTimeout)

	v.SetDefault("resolver.default_algorithm", "ECDSA")
	v.SetDefault("resolver.verify_account_keys", false)

	v.SetDefault("mirror.rate_per_second", 10)
	v.SetDefault("mirror.burst", 5)
	v.SetDefault("mirror.timeout", 10*time.Second)

	v.SetDefault("log.level", "")
	v.SetDefault("log.format", "console")

	v.SetDefault("devnet.listen", "127.0.0.1:5551")
	v.SetDefault("devnet.initial_balance", uint64(5_000_000_000_000))
	v.SetDefault("devnet.treasury_account", "0.0.2")
	v.SetDefault("devnet.api_key", "")
	v.SetDefault("devnet.api_secret", "")
}

// HomeDir is where ledgerctl keeps its files unless configured otherwise.
func HomeDir() string {
	if dir := os.Getenv(EnvPrefix + "_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ledgerctl"
	}
	return filepath.Join(home, ".ledgerctl")
}

// Load reads configuration from file or environment variables. With an
// empty path, ledgerctl.yaml is looked up in the working directory and in
// HomeDir; a missing file is not an error.
func Load(path string) (*Config, error) {
	home := HomeDir()
	v := viper.New()
	setDefaults(v, home)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(home)
		v.SetConfigName("ledgerctl")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errs.WithHint(
				errs.Validation("failed to read config: %v", err),
				"check the YAML syntax of the config file",
			)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Validation("failed to decode config: %v", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Resolver.DefaultAlgorithm = strings.ToUpper(cfg.Resolver.DefaultAlgorithm)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that the active network exists.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fe.Namespace()+" failed "+fe.Tag())
			}
			return errs.Validation("invalid config: %s", strings.Join(msgs, "; "))
		}
		return errs.Validation("invalid config: %v", err)
	}
	if _, err := c.ActiveNetwork(); err != nil {
		return err
	}
	return nil
}

// ActiveNetwork returns the configuration of the selected network.
func (c *Config) ActiveNetwork() (NetworkConfig, error) {
	n, ok := c.Networks[c.Network]
	if !ok {
		return NetworkConfig{}, errs.WithHint(
			errs.Validation("unknown network %q", c.Network),
			"configured networks: "+strings.Join(c.NetworkNames(), ", "),
		)
	}
	return n, nil
}

// NetworkNames lists the configured networks in order.
func (c *Config) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Policy converts the execution section for the executor.
func (e ExecutionConfig) Policy() execute.Policy {
	return execute.Policy{
		MaxRetries:     e.MaxRetries,
		RetryDelay:     e.RetryDelay,
		Backoff:        e.Backoff,
		MaxDelay:       e.MaxDelay,
		PollAttempts:   e.PollAttempts,
		PollInterval:   e.PollInterval,
		AttemptTimeout: e.AttemptTimeout,
	}
}
