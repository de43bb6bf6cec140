package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/hayden/internal/scheduler"
)

func newPollCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one reminder tick",
		Long: `Fetch due reminders from the persistence service, deliver the ones
due this minute and mark them complete. Useful when the scheduler is not
running or to check delivery by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := newApp(flags.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			out, err := newOutbound(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer out.Close()

			poller := scheduler.NewReminderPoller(a.store, out.transport, a.loc, a.logger.With("component", "reminders"))
			res, err := poller.Poll(cmd.Context(), time.Now().In(a.loc))
			if err != nil {
				return fmt.Errorf("poll: %w", err)
			}

			w := cmd.OutOrStdout()
			if flags.output == "json" {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintf(w, "fetched %d, delivered %d, failed %d, skipped %d\n",
				res.Fetched, res.Delivered, res.Failed, res.Skipped)
			return nil
		},
	}
}
