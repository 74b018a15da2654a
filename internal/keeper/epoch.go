package keeper

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/psantana5/epoch-keeper/pkg/ledger"
	"github.com/psantana5/epoch-keeper/pkg/models"
)

// ClockSource says where an evaluation's notion of "now" came from
type ClockSource string

const (
	ClockLedger ClockSource = "ledger"
	ClockLocal  ClockSource = "local"
)

// EpochEvaluation is what the epoch evaluator found
type EpochEvaluation struct {
	Record    models.EpochRecord
	Status    models.EpochStatus
	Now       time.Time
	Clock     ClockSource
	Remaining time.Duration
	Request   *models.ActionRequest // Set only when Status is due
	Warning   string                // Set for anomalous records
	Err       error                 // Soft failure: a read did not succeed
}

// EpochEvaluator decides whether the current epoch needs processing
type EpochEvaluator struct {
	client  ledger.Client
	manager common.Address
	now     func() time.Time
}

// NewEpochEvaluator creates an evaluator for the epoch manager at manager.
// now is the local clock used when the ledger cannot report its own time.
func NewEpochEvaluator(client ledger.Client, manager common.Address, now func() time.Time) *EpochEvaluator {
	if now == nil {
		now = time.Now
	}
	return &EpochEvaluator{
		client:  client,
		manager: manager,
		now:     now,
	}
}

// CurrentEpochID reads the identifier of the current epoch
func (e *EpochEvaluator) CurrentEpochID(ctx context.Context) (uint64, error) {
	values, err := e.client.Read(ctx, ledger.Call{To: e.manager, Method: ledger.MethodCurrentEpochID})
	if err != nil {
		return 0, err
	}
	id, err := ledger.DecodeUint(values)
	if err != nil {
		return 0, fmt.Errorf("currentEpochId: %w", err)
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("currentEpochId: %s overflows uint64", id)
	}
	return id.Uint64(), nil
}

// Epoch reads the record of epoch id
func (e *EpochEvaluator) Epoch(ctx context.Context, id uint64) (models.EpochRecord, error) {
	values, err := e.client.Read(ctx, ledger.Call{
		To:     e.manager,
		Method: ledger.MethodGetEpoch,
		Args:   []any{new(big.Int).SetUint64(id)},
	})
	if err != nil {
		return models.EpochRecord{}, err
	}
	record, err := ledger.DecodeEpoch(values)
	if err != nil {
		return models.EpochRecord{}, fmt.Errorf("getEpoch(%d): %w", id, err)
	}
	return record, nil
}

// Now prefers the latest block timestamp over the local clock
func (e *EpochEvaluator) Now(ctx context.Context) (time.Time, ClockSource) {
	if clock, ok := e.client.(ledger.BlockClock); ok {
		if t, err := clock.BlockTime(ctx); err == nil {
			return t, ClockLedger
		}
	}
	return e.now(), ClockLocal
}

// Evaluate reads the current epoch and classifies it
func (e *EpochEvaluator) Evaluate(ctx context.Context) EpochEvaluation {
	var result EpochEvaluation

	id, err := e.CurrentEpochID(ctx)
	if err != nil {
		result.Err = fmt.Errorf("failed to read current epoch id: %w", err)
		return result
	}

	record, err := e.Epoch(ctx, id)
	if err != nil {
		result.Err = fmt.Errorf("failed to read epoch %d: %w", id, err)
		return result
	}
	result.Record = record

	result.Now, result.Clock = e.Now(ctx)
	result.Remaining = record.Remaining(result.Now)
	result.Status = models.ClassifyEpoch(record, result.Now)

	switch result.Status {
	case models.EpochStatusAlreadySettled:
		result.Warning = fmt.Sprintf("epoch %d ended at %s and is already settled but is still current; lifecycle did not advance",
			record.ID, record.EndTime.UTC().Format(time.RFC3339))
	case models.EpochStatusDue:
		result.Request = &models.ActionRequest{
			Kind:         models.ActionProcessEpoch,
			Target:       e.manager,
			Method:       ledger.MethodProcessEpoch,
			Precondition: fmt.Sprintf("epoch %d ended at %s and is not settled", record.ID, record.EndTime.UTC().Format(time.RFC3339)),
			Before:       fmt.Sprintf("epoch %d %s", record.ID, record.State),
			After:        fmt.Sprintf("epoch %d %s", record.ID, models.EpochStateSettled),
		}
	}

	if err := record.Consistent(); err != nil && result.Warning == "" {
		result.Warning = err.Error()
	}

	return result
}
