// Package keeper decides whether the vault's interest rate needs syncing and
// whether the current epoch needs processing, and carries out those calls
// safely: simulate first, classify failures, never retry on its own.
//
// A pass is stateless. Everything it decides is re-derived from the ledger, so
// running it twice against unchanged state makes the same decisions.
package keeper

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/epoch-keeper/pkg/ledger"
	"github.com/psantana5/epoch-keeper/pkg/logging"
	"github.com/psantana5/epoch-keeper/pkg/models"
	"github.com/psantana5/epoch-keeper/pkg/tracing"
)

// Step names
const (
	StepRateSync = "rate_sync"
	StepEpoch    = "epoch"
)

// Exit codes
const (
	ExitOK     = 0
	ExitFatal  = 1
	ExitConfig = 2
)

// Metrics receives keeper observations. *metrics.Recorder implements it.
type Metrics interface {
	RecordAction(action, outcome string)
	RecordError(category string)
	SetRates(operating, target float64)
	SetEpoch(id uint64, remaining time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordAction(string, string)    {}
func (nopMetrics) RecordError(string)             {}
func (nopMetrics) SetRates(float64, float64)      {}
func (nopMetrics) SetEpoch(uint64, time.Duration) {}

// Options wires a Keeper
type Options struct {
	Vault        common.Address
	RateSource   common.Address
	EpochManager common.Address
	DryRun       bool

	Logger     *logging.Logger
	Tracer     *tracing.Provider
	Metrics    Metrics
	Classifier *Classifier
	TxURL      func(common.Hash) string // Explorer link for a tx, "" for none
	Now        func() time.Time         // Local clock fallback
}

// Keeper runs keeper passes against one ledger
type Keeper struct {
	client   ledger.Client
	rates    *RateSyncChecker
	epochs   *EpochEvaluator
	executor *Executor
	dryRun   bool
	logger   *logging.Logger
	tracer   *tracing.Provider
	metrics  Metrics
	now      func() time.Time
}

// New creates a Keeper. Nil optional collaborators get no-op defaults.
func New(client ledger.Client, opts Options) *Keeper {
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(logging.INFO, false)
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	executor := NewExecutor(client, opts.Classifier, opts.DryRun)
	executor.txURL = opts.TxURL
	executor.tracer = opts.Tracer
	executor.metrics = opts.Metrics

	return &Keeper{
		client:   client,
		rates:    NewRateSyncChecker(client, opts.Vault, opts.RateSource),
		epochs:   NewEpochEvaluator(client, opts.EpochManager, opts.Now),
		executor: executor,
		dryRun:   opts.DryRun,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
}

// Mode names the execution mode
func (k *Keeper) Mode() string {
	if k.dryRun {
		return "dry-run"
	}
	return "live"
}

// StepResult is the explicit result of one fault-isolated step
type StepResult struct {
	Step     string
	Summary  string
	Warning  string
	Action   *models.ActionOutcome
	Err      error
	Fatal    bool
	Duration time.Duration

	Rate  *RateCheck
	Epoch *EpochEvaluation
}

// OK reports whether the step finished without a fatal error
func (s StepResult) OK() bool {
	return !s.Fatal
}

// RunResult is everything one pass observed and did
type RunResult struct {
	RunID    string
	Mode     string
	Started  time.Time
	Finished time.Time
	Steps    []StepResult
}

// Fatal reports whether any step failed fatally
func (r *RunResult) Fatal() bool {
	for _, s := range r.Steps {
		if s.Fatal {
			return true
		}
	}
	return false
}

// ExitCode maps the pass to a process exit status
func (r *RunResult) ExitCode() int {
	if r.Fatal() {
		return ExitFatal
	}
	return ExitOK
}

// Step returns the result of the named step, or nil
func (r *RunResult) Step(name string) *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Step == name {
			return &r.Steps[i]
		}
	}
	return nil
}

// Duration is the wall time of the pass
func (r *RunResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Run executes one pass: rate sync, then epoch processing. Each step is
// isolated, so a failure in the first never prevents the second.
func (k *Keeper) Run(ctx context.Context) *RunResult {
	result := &RunResult{
		RunID:   uuid.NewString(),
		Mode:    k.Mode(),
		Started: k.now(),
	}

	ctx, span := k.tracer.StartSpan(ctx, "keeper.run",
		attribute.String("run_id", result.RunID),
		attribute.String("mode", result.Mode),
	)
	defer span.End()

	log := k.logger.WithFields(map[string]interface{}{
		"run_id": result.RunID,
		"mode":   result.Mode,
	})
	log.Info("Keeper pass started", map[string]interface{}{"sender": k.client.Sender().Hex()})

	result.Steps = append(result.Steps,
		k.isolate(ctx, StepRateSync, log, k.SyncRate),
		k.isolate(ctx, StepEpoch, log, k.ProcessEpoch),
	)
	result.Finished = k.now()

	fields := map[string]interface{}{
		"duration": result.Duration().Round(time.Millisecond).String(),
		"exit":     result.ExitCode(),
	}
	if result.Fatal() {
		span.SetAttributes(attribute.Bool("fatal", true))
		log.Error("Keeper pass finished with fatal errors", fields)
	} else {
		log.Info("Keeper pass finished", fields)
	}
	return result
}

type stepFunc func(ctx context.Context, log *logging.Logger) StepResult

// isolate runs one step, turning panics into a fatal step result
func (k *Keeper) isolate(ctx context.Context, name string, log *logging.Logger, fn stepFunc) (res StepResult) {
	start := k.now()
	log = log.WithField("step", name)

	ctx, span := k.tracer.StartSpan(ctx, "keeper.step."+name)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			res = StepResult{
				Step:  name,
				Err:   fmt.Errorf("panic in %s step: %v", name, r),
				Fatal: true,
			}
			log.Error("Step panicked", map[string]interface{}{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
		}
		res.Step = name
		res.Duration = k.now().Sub(start)
		if res.Err != nil {
			tracing.SetError(ctx, res.Err)
		}
	}()

	return fn(ctx, log)
}

// SyncRate runs the rate sync check and, when rates differ, the sync action
func (k *Keeper) SyncRate(ctx context.Context, log *logging.Logger) StepResult {
	res := StepResult{Step: StepRateSync}

	check := k.rates.Check(ctx)
	res.Rate = &check
	if check.Err != nil {
		res.Err = check.Err
		res.Summary = "rate check skipped: read failed"
		log.Error("Rate sync check failed; continuing with epoch check", map[string]interface{}{"error": check.Err.Error()})
		return res
	}

	snap := check.Snapshot
	k.metrics.SetRates(snap.Operating.Decimal().InexactFloat64(), snap.Target.Decimal().InexactFloat64())

	if check.Request == nil {
		res.Summary = fmt.Sprintf("in sync at %s", snap.Operating)
		log.Info("Interest rate in sync", map[string]interface{}{"rate": snap.Operating.String()})
		return res
	}

	log.Info("Interest rate out of sync", map[string]interface{}{
		"operating": snap.Operating.String(),
		"target":    snap.Target.String(),
		"delta":     snap.Delta().StringFixed(2),
	})

	outcome := k.executor.Execute(ctx, *check.Request, log)
	res.Action = &outcome
	res.Fatal = outcome.Fatal
	if outcome.Fatal {
		res.Err = outcome.Err
	}
	res.Summary = fmt.Sprintf("%s -> %s: %s", snap.Operating, snap.Target, outcome.Status)

	if outcome.Succeeded() {
		realized, err := k.rates.OperatingRate(ctx)
		if err != nil {
			res.Warning = fmt.Sprintf("could not re-read operating rate: %v", err)
			log.Warn("Rate synced but re-read failed", map[string]interface{}{"error": err.Error()})
			return res
		}
		res.Summary = fmt.Sprintf("synced %s -> %s", snap.Operating, realized)
		k.metrics.SetRates(realized.Decimal().InexactFloat64(), snap.Target.Decimal().InexactFloat64())
		log.Info("Interest rate synced", map[string]interface{}{
			"previous": snap.Operating.String(),
			"current":  realized.String(),
		})
		if realized != snap.Target {
			res.Warning = fmt.Sprintf("operating rate is %s after sync, target was %s", realized, snap.Target)
			log.Warn(res.Warning)
		}
	}
	return res
}

// ProcessEpoch evaluates the current epoch and processes it when due
func (k *Keeper) ProcessEpoch(ctx context.Context, log *logging.Logger) StepResult {
	res := StepResult{Step: StepEpoch}

	eval := k.epochs.Evaluate(ctx)
	res.Epoch = &eval
	if eval.Err != nil {
		res.Err = eval.Err
		res.Summary = "epoch check skipped: read failed"
		log.Error("Epoch check failed", map[string]interface{}{"error": eval.Err.Error()})
		return res
	}

	rec := eval.Record
	k.metrics.SetEpoch(rec.ID, eval.Remaining)
	log = log.WithField("epoch", rec.ID)

	if eval.Warning != "" {
		res.Warning = eval.Warning
		log.Warn(eval.Warning, map[string]interface{}{"state": rec.State.String()})
	}

	switch eval.Status {
	case models.EpochStatusOpen:
		res.Summary = fmt.Sprintf("epoch %d open, %s remaining", rec.ID, eval.Remaining.Round(time.Second))
		log.Info("Epoch still open", map[string]interface{}{
			"ends":      rec.EndTime.UTC().Format(time.RFC3339),
			"remaining": eval.Remaining.Round(time.Second).String(),
			"clock":     string(eval.Clock),
		})
		return res
	case models.EpochStatusAlreadySettled:
		res.Summary = fmt.Sprintf("epoch %d already settled", rec.ID)
		return res
	}

	log.Info("Epoch ended and not settled, processing", map[string]interface{}{
		"ended":    rec.EndTime.UTC().Format(time.RFC3339),
		"clock":    string(eval.Clock),
		"deposits": rec.TotalDeposits.String(),
	})

	outcome := k.executor.Execute(ctx, *eval.Request, log)
	res.Action = &outcome
	res.Summary = fmt.Sprintf("epoch %d due: %s", rec.ID, outcome.Status)

	if outcome.Fatal {
		res.Fatal = true
		res.Err = fmt.Errorf("processing epoch %d: %w", rec.ID, outcome.Err)
		return res
	}
	if outcome.Succeeded() {
		res.Summary = fmt.Sprintf("epoch %d processed", rec.ID)
		log.Info("Epoch processed successfully", map[string]interface{}{
			"tx":    outcome.TxHash.Hex(),
			"block": outcome.Block,
		})
	}
	return res
}

// Snapshot is a read-only view of the keeper's targets
type Snapshot struct {
	Rate  RateCheck
	Epoch EpochEvaluation
}

// Status reads rates and the current epoch without simulating or sending
func (k *Keeper) Status(ctx context.Context) Snapshot {
	return Snapshot{
		Rate:  k.rates.Check(ctx),
		Epoch: k.epochs.Evaluate(ctx),
	}
}
