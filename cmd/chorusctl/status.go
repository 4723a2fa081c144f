package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List proactive and reminder countdowns, soonest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := opts.client()
			entries, err := client.Schedule(cmd.Context())
			if err != nil {
				return fmt.Errorf("load schedule: %w", err)
			}

			if opts.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tID\tENTITY\tNEXT FIRE\tSTATE")
			for _, e := range entries {
				next, state := "-", "armed"
				if e.NextFireAt != nil {
					next = e.NextFireAt.Local().Format(time.DateTime)
				}
				if e.Pending {
					state = "pending"
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", e.Kind, e.ID, e.EntityID, next, state)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if opts.worker == "" {
				return nil
			}
			slots, err := client.WorkerSchedule(cmd.Context(), opts.worker)
			if err != nil {
				return fmt.Errorf("load worker state: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			tw = tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLOT\tSTATE\tNEXT FIRE")
			for _, s := range slots {
				next := "-"
				if s.NextFire != nil {
					next = s.NextFire.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Key, s.State, next)
			}
			return tw.Flush()
		},
	}
}
