package cmd

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/epoch-keeper/internal/keeper"
	"github.com/psantana5/epoch-keeper/pkg/config"
	"github.com/psantana5/epoch-keeper/pkg/metrics"
)

func TestStatusRouterHealth(t *testing.T) {
	tests := []struct {
		name       string
		state      healthState
		wantStatus int
		wantBody   string
	}{
		{
			name:       "no passes yet",
			state:      healthState{},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"healthy"}`,
		},
		{
			name:       "last pass ok",
			state:      healthState{passes: 3, lastRun: time.Unix(1_700_000_000, 0)},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"healthy"}`,
		},
		{
			name:       "last pass fatal",
			state:      healthState{passes: 1, lastFatal: true},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"status":"degraded"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &app{metrics: metrics.New()}
			router := newStatusRouter(a, func() healthState { return tt.state })

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestStatusRouterMetrics(t *testing.T) {
	a := &app{metrics: metrics.New()}
	a.metrics.RecordRun("dry-run", true, time.Second, time.Unix(1_700_000_000, 0))
	router := newStatusRouter(a, func() healthState { return healthState{} })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "epoch_keeper_runs_total")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestExitError(t *testing.T) {
	cause := errors.New("RPC_URL is required")
	err := error(&exitError{code: keeper.ExitConfig, err: cause})

	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, keeper.ExitConfig, ee.code)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "RPC_URL is required", err.Error())

	assert.Equal(t, "exit status 1", (&exitError{code: keeper.ExitFatal}).Error())
}

func TestTracingConfigFollowsOTLPInsecure(t *testing.T) {
	for _, insecure := range []bool{true, false} {
		cfg := &config.Config{
			OTLPEndpoint:   "collector.internal:4318",
			OTLPInsecure:   insecure,
			TracingEnabled: true,
			Environment:    "staging",
		}

		tc := tracingConfig(cfg)
		assert.Equal(t, insecure, tc.Insecure)
		assert.Equal(t, "collector.internal:4318", tc.OTLPEndpoint)
		assert.Equal(t, serviceName, tc.ServiceName)
		assert.True(t, tc.Enabled)
	}
}
