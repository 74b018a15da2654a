package keeper

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/epoch-keeper/pkg/ledger"
	"github.com/psantana5/epoch-keeper/pkg/logging"
	"github.com/psantana5/epoch-keeper/pkg/models"
	"github.com/psantana5/epoch-keeper/pkg/tracing"
)

// Executor runs the simulate, send, confirm protocol for one ActionRequest.
// It never retries: a human re-running the keeper is the retry.
type Executor struct {
	client     ledger.Client
	classifier *Classifier
	dryRun     bool
	txURL      func(common.Hash) string
	tracer     *tracing.Provider
	metrics    Metrics
}

// NewExecutor creates an executor. In dry-run mode no simulate or send is issued.
func NewExecutor(client ledger.Client, classifier *Classifier, dryRun bool) *Executor {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	return &Executor{
		client:     client,
		classifier: classifier,
		dryRun:     dryRun,
		metrics:    nopMetrics{},
	}
}

// DryRun reports the executor's mode
func (x *Executor) DryRun() bool {
	return x.dryRun
}

// Execute runs req and returns its outcome. Failures are reported in the
// outcome, never returned.
func (x *Executor) Execute(ctx context.Context, req models.ActionRequest, log *logging.Logger) models.ActionOutcome {
	ctx, span := x.tracer.StartSpan(ctx, "keeper.action",
		attribute.String("action", string(req.Kind)),
		attribute.String("target", req.Target.Hex()),
		attribute.Bool("dry_run", x.dryRun),
	)
	defer span.End()

	log = log.WithFields(map[string]interface{}{
		"action": string(req.Kind),
		"target": req.Target.Hex(),
	})

	outcome := x.execute(ctx, req, log)

	x.metrics.RecordAction(string(req.Kind), string(outcome.Status))
	if outcome.Category != models.CategoryNone {
		x.metrics.RecordError(string(outcome.Category))
	}
	span.SetAttributes(attribute.String("outcome", string(outcome.Status)))
	if outcome.Fatal && outcome.Err != nil {
		tracing.SetError(ctx, outcome.Err)
	}
	return outcome
}

func (x *Executor) execute(ctx context.Context, req models.ActionRequest, log *logging.Logger) models.ActionOutcome {
	outcome := models.ActionOutcome{Request: req}
	call := ledger.Call{To: req.Target, Method: req.Method, Args: req.Args}

	if x.dryRun {
		log.Info(fmt.Sprintf("DRY RUN: would call %s", req), map[string]interface{}{
			"because": req.Precondition,
			"before":  req.Before,
			"after":   req.After,
		})
		outcome.Status = models.OutcomeDryRun
		return outcome
	}

	log.Info(fmt.Sprintf("Simulating %s", req), map[string]interface{}{"from": x.client.Sender().Hex()})
	if err := x.client.Simulate(ctx, call, x.client.Sender()); err != nil {
		category, rule := x.classifier.ClassifyError(err)
		failure := FailureFrom(err)
		outcome.Category = category
		outcome.Reason = failureReason(failure)
		outcome.Err = err

		fields := map[string]interface{}{
			"category": string(category),
			"rule":     rule,
			"reason":   outcome.Reason,
		}
		if category.Fatal() {
			outcome.Status = models.OutcomeSimulationFailed
			outcome.Fatal = true
			fields["error"] = err.Error()
			log.Error(fmt.Sprintf("Simulation of %s failed: %s", req, category.Explain()), fields)
			return outcome
		}

		outcome.Status = models.OutcomeSkipped
		if category == models.CategoryInsufficientFunds {
			log.Warn(fmt.Sprintf("Skipping %s: insufficient funds, %s", req, category.Explain()), fields)
		} else {
			log.Info(fmt.Sprintf("Skipping %s: %s", req, category.Explain()), fields)
		}
		return outcome
	}
	log.Debug("Simulation succeeded")

	txHash, err := x.client.Send(ctx, call)
	if err != nil {
		category, rule := x.classifier.ClassifyError(err)
		outcome.Status = models.OutcomeSendFailed
		outcome.Category = category
		outcome.Reason = failureReason(FailureFrom(err))
		outcome.Fatal = true
		outcome.Err = err
		log.Error(fmt.Sprintf("Sending %s failed after a successful simulation", req), map[string]interface{}{
			"category": string(category),
			"rule":     rule,
			"error":    err.Error(),
		})
		return outcome
	}
	outcome.TxHash = txHash
	outcome.Status = models.OutcomeSent

	sentFields := map[string]interface{}{"tx": txHash.Hex()}
	if x.txURL != nil {
		if link := x.txURL(txHash); link != "" {
			sentFields["explorer"] = link
		}
	}
	log.Info(fmt.Sprintf("Transaction sent for %s", req), sentFields)

	receipt, err := x.client.AwaitConfirmation(ctx, txHash)
	if err != nil {
		outcome.Status = models.OutcomeUnconfirmed
		outcome.Fatal = true
		outcome.Err = err
		var confErr *ledger.ConfirmationError
		if !errors.As(err, &confErr) {
			outcome.Err = &ledger.ConfirmationError{TxHash: txHash, Err: err}
		}
		log.Error("Transaction state unknown, confirmation wait failed", map[string]interface{}{
			"tx":    txHash.Hex(),
			"error": err.Error(),
		})
		return outcome
	}
	outcome.Block = receipt.Block

	if !receipt.Success {
		outcome.Status = models.OutcomeReverted
		outcome.Reason = "reverted on-chain after a successful simulation"
		log.Error(fmt.Sprintf("Transaction for %s reverted; not retrying, gas was spent", req), map[string]interface{}{
			"tx":       txHash.Hex(),
			"block":    receipt.Block,
			"gas_used": receipt.GasUsed,
		})
		return outcome
	}

	outcome.Status = models.OutcomeConfirmed
	log.Info(fmt.Sprintf("Transaction confirmed for %s", req), map[string]interface{}{
		"tx":       txHash.Hex(),
		"block":    receipt.Block,
		"gas_used": receipt.GasUsed,
	})
	return outcome
}

func failureReason(f Failure) string {
	if f.Reason != "" {
		return f.Reason
	}
	return f.Detail
}
