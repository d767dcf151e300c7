package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dark30-ventures/intent-cli/internal/pipeline"
)

var (
	runOutDir        string
	runForceReexport bool
	runTimeout       time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one full pipeline run",
	Long:  "Fetches every enabled permit source, scores intent, resolves contractor domains, mines and verifies contacts, and writes the tiered lead CSVs plus the QA report.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		p, err := pipeline.New(cfg, st, pipeline.Options{
			OutDir:        runOutDir,
			ForceReexport: runForceReexport,
			Timeout:       runTimeout,
		})
		if err != nil {
			return err
		}

		report, err := p.Run(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return eris.Wrap(err, "encode report")
		}
		if report.Gate.Halt {
			return eris.New("run halted before export, see gate report")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runOutDir, "out", "", "output directory for CSVs and the QA report (default from config)")
	runCmd.Flags().BoolVar(&runForceReexport, "force-reexport", false, "re-export permits already exported by earlier runs")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "overall run deadline, e.g. 45m (default from config)")
	rootCmd.AddCommand(runCmd)
}
