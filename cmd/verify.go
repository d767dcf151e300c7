package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dark30-ventures/intent-cli/internal/verify"
	"github.com/dark30-ventures/intent-cli/pkg/millionverifier"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <email>",
	Short: "Check a single email through the verification gate",
	Long:  "Runs one email through the same cache, budget, and provider path as a pipeline run. A cached terminal verdict costs nothing; a fresh check spends the monthly budget.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Verify.Key == "" {
			return eris.New("verification API key is required (INTENT_VERIFY_KEY)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		var opts []millionverifier.Option
		if cfg.Verify.BaseURL != "" {
			opts = append(opts, millionverifier.WithBaseURL(cfg.Verify.BaseURL))
		}
		gate := verify.New(cfg.Verify, st, millionverifier.NewClient(cfg.Verify.Key, opts...))

		// Ad-hoc checks get their own budget window so they never eat into
		// a live run, while still counting against the month.
		runID := "adhoc-" + time.Now().UTC().Format("20060102T150405")
		rec, err := gate.Check(ctx, runID, args[0])
		if err != nil {
			return eris.Wrap(err, "verify email")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
