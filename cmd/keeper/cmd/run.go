package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/epoch-keeper/internal/keeper"
	"github.com/psantana5/epoch-keeper/internal/report"
	"github.com/psantana5/epoch-keeper/pkg/shutdown"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one keeper pass and exit",
	Long: `Run performs a single pass: rate sync check, then epoch check. It is meant
to be started by an external scheduler (cron, systemd timer, Kubernetes
CronJob) every CHECK_INTERVAL. The scheduler must not start overlapping runs.

Exit status is 0 when no fatal error occurred, including passes that had
nothing to do or skipped an action for a benign reason, 1 on a fatal error
and 2 on invalid configuration.

Example:
  epoch-keeper run
  DRY_RUN=false epoch-keeper run --output json`,
	RunE: runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
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

	result := a.pass(ctx)

	if err := report.Write(os.Stdout, cfg.Output, report.FromRun(result, cfg.TxURL)); err != nil {
		a.logger.Warn("Failed to render run summary", map[string]interface{}{"error": err.Error()})
	}

	if code := result.ExitCode(); code != keeper.ExitOK {
		return &exitError{code: code}
	}
	return nil
}
