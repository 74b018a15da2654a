package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/epoch-keeper/internal/report"
	"github.com/psantana5/epoch-keeper/pkg/config"
	"github.com/psantana5/epoch-keeper/pkg/shutdown"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show rates and the current epoch without acting",
	Long: `Status reads both interest rates and the current epoch and shows what a
pass would do. It never simulates or sends anything and ignores DRY_RUN.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	// Read-only regardless of configuration: never load the signing key
	v.Set(config.KeyDryRun, true)

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

	return report.Write(os.Stdout, cfg.Output, report.FromSnapshot(a.keeper.Status(ctx)))
}
