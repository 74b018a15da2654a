package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/epoch-keeper/internal/keeper"
	"github.com/psantana5/epoch-keeper/pkg/config"
)

var (
	cfgFile string
	initErr error

	v = viper.New()
)

// exitError carries a process exit code through cobra
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// rootCmd runs a single pass when invoked without a subcommand
var rootCmd = &cobra.Command{
	Use:   "epoch-keeper",
	Short: "Keeps vault epochs moving and interest rates in sync",
	Long: `epoch-keeper is an unattended maintenance agent for an on-chain vault.

Each pass checks whether the vault's operating interest rate matches its rate
source and whether the current epoch has ended without being settled. Any call
that is due is simulated first and only sent when the simulation succeeds.

Dry run is the default. Set DRY_RUN=false (or --dry-run=false) to send
transactions.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runOnce,
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return keeper.ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}

	// Flag and argument errors from cobra are configuration errors
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return keeper.ExitConfig
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "YAML config file (environment variables override it)")
	flags.StringP("output", "o", "table", "summary output format: table, json or yaml")
	flags.Bool("dry-run", true, "log what would be sent instead of sending (env DRY_RUN)")
	flags.String("rpc-url", "", "JSON-RPC endpoint (env RPC_URL)")
	flags.String("log-level", "info", "log level: debug, info, warn, error (env LOG_LEVEL)")
	flags.String("log-format", "text", "log format: text or json (env LOG_FORMAT)")
	flags.String("metrics-file", "", "write Prometheus metrics to this textfile after each pass (env METRICS_FILE)")

	bindFlag(config.KeyOutput, "output")
	bindFlag(config.KeyDryRun, "dry-run")
	bindFlag(config.KeyRPCURL, "rpc-url")
	bindFlag(config.KeyLogLevel, "log-level")
	bindFlag(config.KeyLogFormat, "log-format")
	bindFlag(config.KeyMetricsFile, "metrics-file")
}

func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		initErr = fmt.Errorf("failed to bind --%s: %w", flag, err)
	}
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	config.SetDefaults(v)
	if err := config.BindEnv(v); err != nil && initErr == nil {
		initErr = err
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && initErr == nil {
			initErr = fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}
}

// loadConfig validates the effective configuration. Any problem is a
// configuration error and maps to its own exit code.
func loadConfig() (*config.Config, error) {
	if initErr != nil {
		return nil, &exitError{code: keeper.ExitConfig, err: initErr}
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, &exitError{code: keeper.ExitConfig, err: err}
	}
	return cfg, nil
}
