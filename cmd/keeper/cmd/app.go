package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/psantana5/epoch-keeper/internal/keeper"
	"github.com/psantana5/epoch-keeper/internal/report"
	"github.com/psantana5/epoch-keeper/pkg/config"
	"github.com/psantana5/epoch-keeper/pkg/ledger"
	"github.com/psantana5/epoch-keeper/pkg/logging"
	"github.com/psantana5/epoch-keeper/pkg/metrics"
	"github.com/psantana5/epoch-keeper/pkg/shutdown"
	"github.com/psantana5/epoch-keeper/pkg/tracing"
)

const (
	serviceName = "epoch-keeper"

	// Log files larger than this are rotated at the end of a pass
	maxLogSize = 50 << 20
)

// app is everything one process builds from the configuration, once
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	client   *ledger.EVMClient
	tracer   *tracing.Provider
	metrics  *metrics.Recorder
	keeper   *keeper.Keeper
	shutdown *shutdown.Manager
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.LogLevel)
	jsonFormat := cfg.LogFormat == "json"

	if cfg.LogFile || cfg.LogDir != "" {
		return logging.NewFileLogger(cfg.LogDir, "keeper", level, jsonFormat)
	}

	logger := logging.NewLogger(level, jsonFormat)
	// Stdout is reserved for the run summary
	logger.SetOutput(os.Stderr)
	return logger, nil
}

func tracingConfig(cfg *config.Config) tracing.Config {
	return tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		Enabled:        cfg.TracingEnabled,
	}
}

// newApp wires the ledger client, tracer, metrics and keeper
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, &exitError{code: keeper.ExitConfig, err: err}
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.New(),
		shutdown: shutdown.New(10*time.Second, logger),
	}
	a.shutdown.Register("logger", shutdown.CloseResource(logger))

	a.tracer, err = tracing.InitTracer(ctx, tracingConfig(cfg))
	if err != nil {
		a.close()
		return nil, &exitError{code: keeper.ExitFatal, err: err}
	}
	a.shutdown.Register("tracer", a.tracer.Shutdown)

	opts, err := cfg.LedgerOptions()
	if err != nil {
		a.close()
		return nil, &exitError{code: keeper.ExitConfig, err: err}
	}

	a.client, err = ledger.Dial(ctx, opts)
	if err != nil {
		logger.Error("Failed to connect to ledger", map[string]interface{}{
			"rpc_url": cfg.RPCURL,
			"error":   err.Error(),
		})
		a.close()
		return nil, &exitError{code: keeper.ExitFatal, err: err}
	}
	a.shutdown.Register("ledger", shutdown.CloseResource(a.client))

	a.keeper = keeper.New(a.client, keeper.Options{
		Vault:        cfg.VaultAddress,
		RateSource:   cfg.RateSourceAddress,
		EpochManager: cfg.EpochManagerAddress,
		DryRun:       cfg.DryRun,
		Logger:       logger,
		Tracer:       a.tracer,
		Metrics:      a.metrics,
		TxURL:        cfg.TxURL,
	})

	logger.Info("Keeper configured", map[string]interface{}{
		"mode":          cfg.Mode(),
		"chain_id":      a.client.ChainID().String(),
		"sender":        a.client.Sender().Hex(),
		"vault":         cfg.VaultAddress.Hex(),
		"rate_source":   cfg.RateSourceAddress.Hex(),
		"epoch_manager": cfg.EpochManagerAddress.Hex(),
	})

	return a, nil
}

// pass runs one keeper pass and records its metrics
func (a *app) pass(ctx context.Context) *keeper.RunResult {
	result := a.keeper.Run(ctx)

	a.metrics.RecordRun(result.Mode, !result.Fatal(), result.Duration(), result.Finished)
	if a.cfg.MetricsFile != "" {
		if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
			a.logger.Warn("Failed to write metrics file", map[string]interface{}{
				"path":  a.cfg.MetricsFile,
				"error": err.Error(),
			})
		}
	}

	summary := report.FromRun(result, a.cfg.TxURL)
	a.logger.Info(summary.LogLine())

	if err := a.logger.RotateIfNeeded(maxLogSize); err != nil {
		a.logger.Warn("Log rotation failed", map[string]interface{}{"error": err.Error()})
	}
	return result
}

func (a *app) close() {
	if err := a.shutdown.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
}
