package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"state"},
	Short:   "Inspect pipeline state",
	Long:    "Commands for inspecting the latest run report, source health, store sizes, and the verification budget.",
}

// -- status report --

var statusReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the latest QA report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		report, err := st.LatestReport(ctx)
		if err != nil {
			return eris.Wrap(err, "status report")
		}
		if report == nil {
			fmt.Fprintln(os.Stderr, "No finished runs yet.")
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

// -- status sources --

var statusSourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show per-source health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tENABLED\tLAST SUCCESS\tLAST ROWS\tZERO RUNS\tLAST ERROR")
		for _, src := range cfg.Sources {
			health, err := st.SourceState(ctx, src.ID)
			if err != nil {
				return eris.Wrapf(err, "status sources: %s", src.ID)
			}
			lastSuccess, lastRows, zeroRuns, lastErr := "never", 0, 0, ""
			if health != nil {
				if !health.LastSuccess.IsZero() {
					lastSuccess = health.LastSuccess.Format(time.RFC3339)
				}
				lastRows = health.LastRows
				zeroRuns = health.ConsecutiveZero
				lastErr = health.LastError
			}
			fmt.Fprintf(w, "%s\t%t\t%s\t%d\t%d\t%s\n",
				src.ID, src.Enabled, lastSuccess, lastRows, zeroRuns, lastErr)
		}
		return w.Flush()
	},
}

// -- status budget --

var statusBudgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show verification budget usage for the current month",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		window := "month:" + time.Now().UTC().Format("2006-01")
		used, err := st.BudgetUsed(ctx, window)
		if err != nil {
			return eris.Wrap(err, "status budget")
		}

		fmt.Printf("window: %s\nused: %d\nlimit: %d\nremaining: %d\n",
			window, used, cfg.Verify.BudgetPerMonth, cfg.Verify.BudgetPerMonth-used)
		return nil
	},
}

// -- status store --

var statusStoreCmd = &cobra.Command{
	Use:   "store",
	Short: "Show cross-run store sizes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "status store")
		}

		fmt.Printf("runs: %d\ncontractors: %d\nverification cache: %d\nexported leads: %d\n",
			stats.Runs, stats.Contractors, stats.Verifications, stats.Exported)
		return nil
	},
}

func init() {
	statusCmd.AddCommand(statusReportCmd)
	statusCmd.AddCommand(statusSourcesCmd)
	statusCmd.AddCommand(statusBudgetCmd)
	statusCmd.AddCommand(statusStoreCmd)
	rootCmd.AddCommand(statusCmd)
}
