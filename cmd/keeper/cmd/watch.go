package cmd

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/psantana5/epoch-keeper/internal/keeper"
	"github.com/psantana5/epoch-keeper/pkg/shutdown"
	"github.com/psantana5/epoch-keeper/pkg/tracing"
)

var (
	watchFailFast bool
	watchNoServe  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run keeper passes every CHECK_INTERVAL until stopped",
	Long: `Watch runs a pass immediately and then once per CHECK_INTERVAL, for
deployments without an external scheduler. Passes run one after another in a
strict sequence and never overlap. A tick that fires while a pass is still
in flight is skipped.

Metrics and a health check are served on METRICS_ADDR:
  GET /metrics  (Prometheus format)
  GET /health

SIGINT or SIGTERM cancels the current pass at its next ledger call and exits.

Example:
  epoch-keeper watch
  CHECK_INTERVAL=10m epoch-keeper watch --fail-fast`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchFailFast, "fail-fast", false, "exit after the first pass with a fatal error")
	watchCmd.Flags().BoolVar(&watchNoServe, "no-serve", false, "do not serve /metrics and /health")
}

// healthState is what /health reports
type healthState struct {
	lastRun   time.Time
	lastFatal bool
	passes    int
}

func newStatusRouter(a *app, state func() healthState) *mux.Router {
	router := mux.NewRouter()
	router.Use(tracing.HTTPMiddleware(a.tracer))
	router.Handle("/metrics", a.metrics.Handler()).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		s := state()
		w.Header().Set("Content-Type", "application/json")
		if s.lastFatal {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods("GET")
	return router
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := shutdown.SignalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	// Only the loop below writes state; /health reads a copy through the channel
	stateReq := make(chan chan healthState)
	var state healthState

	if !watchNoServe && cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr: cfg.MetricsAddr,
			Handler: newStatusRouter(a, func() healthState {
				reply := make(chan healthState, 1)
				select {
				case stateReq <- reply:
					return <-reply
				case <-ctx.Done():
					return healthState{}
				}
			}),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		a.shutdown.Register("metrics server", shutdown.StopHTTPServer(srv))

		go func() {
			a.logger.Info("Metrics server listening", map[string]interface{}{"addr": cfg.MetricsAddr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Metrics server error", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	a.logger.Info("Watching", map[string]interface{}{"interval": cfg.CheckInterval.String()})

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	passDone := make(chan *keeper.RunResult, 1)
	startPass := func() {
		go func() { passDone <- a.pass(ctx) }()
	}
	running := true
	startPass()

	for {
		select {
		case <-ctx.Done():
			if running {
				<-passDone
			}
			a.logger.Info("Watch stopped", map[string]interface{}{"passes": state.passes})
			return nil

		case reply := <-stateReq:
			reply <- state

		case result := <-passDone:
			running = false
			state.passes++
			state.lastRun = result.Finished
			state.lastFatal = result.Fatal()
			if result.Fatal() && watchFailFast {
				return &exitError{code: result.ExitCode()}
			}

		case <-ticker.C:
			if running {
				a.logger.Warn("Previous pass still running, skipping tick")
				continue
			}
			running = true
			startPass()
		}
	}
}
