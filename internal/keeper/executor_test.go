package keeper

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/psantana5/epoch-keeper/pkg/ledger"
	"github.com/psantana5/epoch-keeper/pkg/logging"
	"github.com/psantana5/epoch-keeper/pkg/models"
)

type recordingMetrics struct {
	actions map[string]int
	errors  map[string]int
	epochID uint64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{actions: map[string]int{}, errors: map[string]int{}}
}

func (m *recordingMetrics) RecordAction(action, outcome string) { m.actions[action+"/"+outcome]++ }
func (m *recordingMetrics) RecordError(category string)         { m.errors[category]++ }
func (m *recordingMetrics) SetRates(operating, target float64)  {}
func (m *recordingMetrics) SetEpoch(id uint64, remaining time.Duration) {
	m.epochID = id
}

func testLogger() *logging.Logger {
	l := logging.NewLogger(logging.DEBUG, false)
	l.SetOutput(&bytes.Buffer{})
	return l
}

func processRequest() models.ActionRequest {
	return models.ActionRequest{
		Kind:   models.ActionProcessEpoch,
		Target: managerAddr,
		Method: ledger.MethodProcessEpoch,
	}
}

func TestExecutorOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fakeLedger)
		status   models.OutcomeStatus
		category models.ErrorCategory
		fatal    bool
	}{
		{"confirmed", func(f *fakeLedger) {}, models.OutcomeConfirmed, models.CategoryNone, false},
		{"insufficient funds", func(f *fakeLedger) {
			f.simErrs[ledger.MethodProcessEpoch] = simulationFailure(ledger.MethodProcessEpoch, "insufficient balance")
		}, models.OutcomeSkipped, models.CategoryInsufficientFunds, false},
		{"unauthorized", func(f *fakeLedger) {
			f.simErrs[ledger.MethodProcessEpoch] = simulationFailure(ledger.MethodProcessEpoch, "Unauthorized")
		}, models.OutcomeSimulationFailed, models.CategoryUnauthorized, true},
		{"reverted", func(f *fakeLedger) { f.reverted = true }, models.OutcomeReverted, models.CategoryNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeLedger()
			tt.setup(f)

			metrics := newRecordingMetrics()
			x := NewExecutor(f, nil, false)
			x.metrics = metrics

			outcome := x.Execute(context.Background(), processRequest(), testLogger())

			assert.Equal(t, tt.status, outcome.Status)
			assert.Equal(t, tt.category, outcome.Category)
			assert.Equal(t, tt.fatal, outcome.Fatal)
			assert.Equal(t, 1, metrics.actions["process_epoch/"+string(tt.status)])
			if tt.category != models.CategoryNone {
				assert.Equal(t, 1, metrics.errors[string(tt.category)])
			}
		})
	}
}

func TestExecutorDryRunTouchesNothing(t *testing.T) {
	f := newFakeLedger()
	x := NewExecutor(f, nil, true)

	outcome := x.Execute(context.Background(), processRequest(), testLogger())

	assert.True(t, x.DryRun())
	assert.Equal(t, models.OutcomeDryRun, outcome.Status)
	assert.Empty(t, f.calls)
}

func TestExecutorUsesSenderForSimulation(t *testing.T) {
	f := newFakeLedger()
	x := NewExecutor(f, nil, false)

	x.Execute(context.Background(), processRequest(), testLogger())

	assert.Equal(t, []string{"simulate:processEpoch", "send:processEpoch"}, filterCalls(f.calls, "simulate", "send"))
}
