// Package config loads and validates keeper settings from flags, environment
// and an optional YAML file, in that order of precedence.
package config

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/psantana5/epoch-keeper/pkg/ledger"
	"github.com/psantana5/epoch-keeper/pkg/retry"
	tlsutil "github.com/psantana5/epoch-keeper/pkg/tls"
)

// Viper keys
const (
	KeyRPCURL              = "rpc_url"
	KeyPrivateKey          = "private_key"
	KeyChainID             = "chain_id"
	KeyVaultAddress        = "vault_address"
	KeyRateSourceAddress   = "rate_source_address"
	KeyEpochManagerAddress = "epoch_manager_address"
	KeyCheckInterval       = "check_interval"
	KeyDryRun              = "dry_run"
	KeyExplorerURL         = "explorer_url"

	KeyRPCTimeout     = "rpc_timeout"
	KeyConfirmTimeout = "confirm_timeout"
	KeyPollInterval   = "poll_interval"
	KeyRPCRetries     = "rpc_retries"
	KeyRPCRateLimit   = "rpc_rate_limit"
	KeyRPCBurst       = "rpc_burst"

	KeyTLSCAFile   = "tls_ca_file"
	KeyTLSCertFile = "tls_cert_file"
	KeyTLSKeyFile  = "tls_key_file"
	KeyTLSInsecure = "tls_insecure_skip_verify"

	KeyLogLevel  = "log_level"
	KeyLogFormat = "log_format"
	KeyLogDir    = "log_dir"
	KeyLogFile   = "log_file"

	KeyMetricsFile = "metrics_file"
	KeyMetricsAddr = "metrics_addr"

	KeyTracingEnabled = "tracing_enabled"
	KeyOTLPEndpoint   = "otlp_endpoint"
	KeyOTLPInsecure   = "otlp_insecure"
	KeyEnvironment    = "environment"

	KeyOutput = "output"
)

// envBindings maps viper keys to the environment variables operators set
var envBindings = map[string]string{
	KeyRPCURL:              "RPC_URL",
	KeyPrivateKey:          "KEEPER_PRIVATE_KEY",
	KeyChainID:             "CHAIN_ID",
	KeyVaultAddress:        "VAULT_ADDRESS",
	KeyRateSourceAddress:   "RATE_SOURCE_ADDRESS",
	KeyEpochManagerAddress: "EPOCH_MANAGER_ADDRESS",
	KeyCheckInterval:       "CHECK_INTERVAL",
	KeyDryRun:              "DRY_RUN",
	KeyExplorerURL:         "EXPLORER_URL",
	KeyRPCTimeout:          "RPC_TIMEOUT",
	KeyConfirmTimeout:      "CONFIRM_TIMEOUT",
	KeyPollInterval:        "POLL_INTERVAL",
	KeyRPCRetries:          "RPC_RETRIES",
	KeyRPCRateLimit:        "RPC_RATE_LIMIT",
	KeyRPCBurst:            "RPC_BURST",
	KeyTLSCAFile:           "RPC_TLS_CA_FILE",
	KeyTLSCertFile:         "RPC_TLS_CERT_FILE",
	KeyTLSKeyFile:          "RPC_TLS_KEY_FILE",
	KeyTLSInsecure:         "RPC_TLS_INSECURE_SKIP_VERIFY",
	KeyLogLevel:            "LOG_LEVEL",
	KeyLogFormat:           "LOG_FORMAT",
	KeyLogDir:              "LOG_DIR",
	KeyLogFile:             "LOG_FILE",
	KeyMetricsFile:         "METRICS_FILE",
	KeyMetricsAddr:         "METRICS_ADDR",
	KeyTracingEnabled:      "TRACING_ENABLED",
	KeyOTLPEndpoint:        "OTEL_EXPORTER_OTLP_ENDPOINT",
	KeyOTLPInsecure:        "OTEL_EXPORTER_OTLP_INSECURE",
	KeyEnvironment:         "KEEPER_ENVIRONMENT",
	KeyOutput:              "KEEPER_OUTPUT",
}

// EnvName returns the environment variable bound to key
func EnvName(key string) string {
	return envBindings[key]
}

// SetDefaults registers defaults. Dry run is on unless explicitly disabled.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDryRun, true)
	v.SetDefault(KeyCheckInterval, time.Hour)
	v.SetDefault(KeyRPCTimeout, 30*time.Second)
	v.SetDefault(KeyConfirmTimeout, 3*time.Minute)
	v.SetDefault(KeyPollInterval, 2*time.Second)
	v.SetDefault(KeyRPCRetries, 3)
	v.SetDefault(KeyRPCRateLimit, 10.0)
	v.SetDefault(KeyRPCBurst, 5)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyMetricsAddr, ":9464")
	v.SetDefault(KeyOTLPEndpoint, "localhost:4318")
	v.SetDefault(KeyOTLPInsecure, true)
	v.SetDefault(KeyEnvironment, "production")
	v.SetDefault(KeyOutput, "table")
}

// BindEnv binds every key to its environment variable
func BindEnv(v *viper.Viper) error {
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

// TLSConfig is the optional TLS setup for the RPC endpoint
type TLSConfig struct {
	CAFile             string `yaml:"ca_file,omitempty"`
	CertFile           string `yaml:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Config is built once at startup and handed to every component
type Config struct {
	RPCURL              string
	PrivateKey          string
	ChainID             int64
	VaultAddress        common.Address
	RateSourceAddress   common.Address
	EpochManagerAddress common.Address
	CheckInterval       time.Duration
	DryRun              bool
	ExplorerURL         string

	RPCTimeout     time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	RPCRetries     int
	RPCRateLimit   float64
	RPCBurst       int
	TLS            TLSConfig

	LogLevel  string
	LogFormat string
	LogDir    string
	LogFile   bool

	MetricsFile string
	MetricsAddr string

	TracingEnabled bool
	OTLPEndpoint   string
	OTLPInsecure   bool
	Environment    string

	Output string
}

// ValidationError lists every problem found, so operators fix them in one go
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Load reads the configuration out of v and validates it
func Load(v *viper.Viper) (*Config, error) {
	var problems []string
	address := func(key string) common.Address {
		raw := strings.TrimSpace(v.GetString(key))
		switch {
		case raw == "":
			problems = append(problems, fmt.Sprintf("%s is required", EnvName(key)))
		case !common.IsHexAddress(raw):
			problems = append(problems, fmt.Sprintf("%s is not a valid address: %q", EnvName(key), raw))
		default:
			addr := common.HexToAddress(raw)
			if addr == (common.Address{}) {
				problems = append(problems, fmt.Sprintf("%s must not be the zero address", EnvName(key)))
			}
			return addr
		}
		return common.Address{}
	}

	// Typed keys are parsed strictly. A value that does not parse is a problem,
	// never a silent zero. A malformed DRY_RUN keeps the keeper in dry run.
	raw := func(key string) string {
		return fmt.Sprint(v.Get(key))
	}
	boolean := func(key string, fallback bool) bool {
		b, err := cast.ToBoolE(v.Get(key))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s must be true or false, got %q", EnvName(key), raw(key)))
			return fallback
		}
		return b
	}
	integer := func(key string) int {
		n, err := cast.ToIntE(v.Get(key))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s must be an integer, got %q", EnvName(key), raw(key)))
		}
		return n
	}
	int64Value := func(key string) int64 {
		n, err := cast.ToInt64E(v.Get(key))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s must be an integer, got %q", EnvName(key), raw(key)))
		}
		return n
	}
	number := func(key string) float64 {
		f, err := cast.ToFloat64E(v.Get(key))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s must be a number, got %q", EnvName(key), raw(key)))
		}
		return f
	}
	duration := func(key string) time.Duration {
		d, err := cast.ToDurationE(v.Get(key))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s must be a duration like 30s or 1h, got %q", EnvName(key), raw(key)))
		}
		return d
	}

	cfg := &Config{
		RPCURL:              strings.TrimSpace(v.GetString(KeyRPCURL)),
		PrivateKey:          strings.TrimSpace(v.GetString(KeyPrivateKey)),
		ChainID:             int64Value(KeyChainID),
		VaultAddress:        address(KeyVaultAddress),
		RateSourceAddress:   address(KeyRateSourceAddress),
		EpochManagerAddress: address(KeyEpochManagerAddress),
		CheckInterval:       duration(KeyCheckInterval),
		DryRun:              boolean(KeyDryRun, true),
		ExplorerURL:         strings.TrimRight(strings.TrimSpace(v.GetString(KeyExplorerURL)), "/"),
		RPCTimeout:          duration(KeyRPCTimeout),
		ConfirmTimeout:      duration(KeyConfirmTimeout),
		PollInterval:        duration(KeyPollInterval),
		RPCRetries:          integer(KeyRPCRetries),
		RPCRateLimit:        number(KeyRPCRateLimit),
		RPCBurst:            integer(KeyRPCBurst),
		TLS: TLSConfig{
			CAFile:             v.GetString(KeyTLSCAFile),
			CertFile:           v.GetString(KeyTLSCertFile),
			KeyFile:            v.GetString(KeyTLSKeyFile),
			InsecureSkipVerify: boolean(KeyTLSInsecure, false),
		},
		LogLevel:       strings.ToLower(v.GetString(KeyLogLevel)),
		LogFormat:      strings.ToLower(v.GetString(KeyLogFormat)),
		LogDir:         v.GetString(KeyLogDir),
		LogFile:        boolean(KeyLogFile, false),
		MetricsFile:    v.GetString(KeyMetricsFile),
		MetricsAddr:    v.GetString(KeyMetricsAddr),
		TracingEnabled: boolean(KeyTracingEnabled, false),
		OTLPEndpoint:   v.GetString(KeyOTLPEndpoint),
		OTLPInsecure:   boolean(KeyOTLPInsecure, true),
		Environment:    v.GetString(KeyEnvironment),
		Output:         strings.ToLower(v.GetString(KeyOutput)),
	}

	problems = append(problems, cfg.validate()...)
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return cfg, nil
}

func (c *Config) validate() []string {
	var problems []string

	if c.RPCURL == "" {
		problems = append(problems, "RPC_URL is required")
	} else if u, err := url.Parse(c.RPCURL); err != nil || u.Host == "" {
		problems = append(problems, fmt.Sprintf("RPC_URL is not a valid URL: %q", c.RPCURL))
	} else {
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			problems = append(problems, fmt.Sprintf("RPC_URL scheme %q is not supported", u.Scheme))
		}
	}

	if c.PrivateKey == "" {
		if !c.DryRun {
			problems = append(problems, "KEEPER_PRIVATE_KEY is required when DRY_RUN=false")
		}
	} else if _, err := c.Key(); err != nil {
		problems = append(problems, "KEEPER_PRIVATE_KEY is not a valid secp256k1 key")
	}

	if c.ChainID < 0 {
		problems = append(problems, "CHAIN_ID must not be negative")
	}
	if c.CheckInterval <= 0 {
		problems = append(problems, "CHECK_INTERVAL must be positive")
	}
	if c.RPCTimeout <= 0 || c.ConfirmTimeout <= 0 || c.PollInterval <= 0 {
		problems = append(problems, "RPC_TIMEOUT, CONFIRM_TIMEOUT and POLL_INTERVAL must be positive")
	}
	if c.RPCRetries < 0 {
		problems = append(problems, "RPC_RETRIES must not be negative")
	}
	if c.RPCRateLimit < 0 || c.RPCBurst < 0 {
		problems = append(problems, "RPC_RATE_LIMIT and RPC_BURST must not be negative")
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	switch c.Output {
	case "table", "json", "yaml":
	default:
		problems = append(problems, fmt.Sprintf("output must be table, json or yaml, got %q", c.Output))
	}

	return problems
}

// Key parses the signing key
func (c *Config) Key() (*ecdsa.PrivateKey, error) {
	if c.PrivateKey == "" {
		return nil, nil
	}
	return crypto.HexToECDSA(strings.TrimPrefix(c.PrivateKey, "0x"))
}

// Mode names the execution mode for logs
func (c *Config) Mode() string {
	if c.DryRun {
		return "dry-run"
	}
	return "live"
}

// TLSOptions converts the TLS settings for pkg/tls
func (c *Config) TLSOptions() tlsutil.ClientOptions {
	return tlsutil.ClientOptions{
		CAFile:             c.TLS.CAFile,
		CertFile:           c.TLS.CertFile,
		KeyFile:            c.TLS.KeyFile,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
	}
}

// LedgerOptions builds the EVM client options. The key is only loaded in live
// mode so a dry run can never sign anything.
func (c *Config) LedgerOptions() (ledger.Options, error) {
	opts := ledger.DefaultOptions(c.RPCURL)
	opts.CallTimeout = c.RPCTimeout
	opts.ConfirmTimeout = c.ConfirmTimeout
	opts.PollInterval = c.PollInterval
	opts.RequestsPerSecond = c.RPCRateLimit
	opts.Burst = c.RPCBurst

	opts.Retry = retry.DefaultConfig()
	opts.Retry.MaxRetries = c.RPCRetries

	if c.ChainID > 0 {
		opts.ChainID = big.NewInt(c.ChainID)
	}

	if tlsOpts := c.TLSOptions(); tlsOpts.Enabled() {
		tlsConfig, err := tlsutil.LoadClientTLSConfig(tlsOpts)
		if err != nil {
			return opts, err
		}
		opts.TLS = tlsConfig
	}

	if !c.DryRun {
		key, err := c.Key()
		if err != nil {
			return opts, fmt.Errorf("failed to parse signing key: %w", err)
		}
		opts.PrivateKey = key
	}

	return opts, nil
}

// TxURL returns a block explorer link for tx, or "" when no explorer is set
func (c *Config) TxURL(tx common.Hash) string {
	if c.ExplorerURL == "" {
		return ""
	}
	return c.ExplorerURL + "/tx/" + tx.Hex()
}

// Redacted returns the effective configuration with secrets masked
func (c *Config) Redacted() map[string]interface{} {
	key := ""
	if c.PrivateKey != "" {
		key = "<redacted>"
	}
	return map[string]interface{}{
		KeyRPCURL:              c.RPCURL,
		KeyPrivateKey:          key,
		KeyChainID:             c.ChainID,
		KeyVaultAddress:        c.VaultAddress.Hex(),
		KeyRateSourceAddress:   c.RateSourceAddress.Hex(),
		KeyEpochManagerAddress: c.EpochManagerAddress.Hex(),
		KeyCheckInterval:       c.CheckInterval.String(),
		KeyDryRun:              c.DryRun,
		KeyExplorerURL:         c.ExplorerURL,
		KeyRPCTimeout:          c.RPCTimeout.String(),
		KeyConfirmTimeout:      c.ConfirmTimeout.String(),
		KeyPollInterval:        c.PollInterval.String(),
		KeyRPCRetries:          c.RPCRetries,
		KeyRPCRateLimit:        c.RPCRateLimit,
		KeyRPCBurst:            c.RPCBurst,
		"tls":                  c.TLS,
		KeyLogLevel:            c.LogLevel,
		KeyLogFormat:           c.LogFormat,
		KeyLogDir:              c.LogDir,
		KeyMetricsFile:         c.MetricsFile,
		KeyMetricsAddr:         c.MetricsAddr,
		KeyTracingEnabled:      c.TracingEnabled,
		KeyOTLPEndpoint:        c.OTLPEndpoint,
		KeyOTLPInsecure:        c.OTLPInsecure,
		KeyEnvironment:         c.Environment,
	}
}
