package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"basegraph.app/chorus/internal/http/dto"
)

func newRemindCmd(opts *options) *cobra.Command {
	var (
		in      time.Duration
		at      string
		message string
		prompt  string
		repeat  string
	)

	cmd := &cobra.Command{
		Use:   "remind <conversation-id> <entity-id>",
		Short: "Schedule a reminder delivered by an entity",
		Example: `  chorusctl remind 1843212345678901234 1843212345678901000 --in 30m --message "Stretch!"
  chorusctl remind 1843212345678901234 1843212345678901000 --at 2025-03-15T08:00:00Z --prompt "Wish me luck for the exam" --repeat daily`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			convID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid conversation id %q", args[0])
			}
			entityID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entity id %q", args[1])
			}

			triggerAt, err := resolveTrigger(in, at, time.Now())
			if err != nil {
				return err
			}

			task, err := opts.client().CreateReminder(cmd.Context(), dto.CreateReminderRequest{
				ConversationID: dto.Int64String(convID),
				EntityID:       dto.Int64String(entityID),
				Message:        message,
				Prompt:         prompt,
				TriggerAt:      triggerAt,
				Repeat:         repeat,
			})
			if err != nil {
				return err
			}
			if opts.json {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(task)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reminder %d scheduled for %s (%s)\n",
				task.ID, task.TriggerAt.Local().Format(time.DateTime), task.Repeat)
			return nil
		},
	}

	cmd.Flags().DurationVar(&in, "in", 0, "fire after this delay, e.g. 30m")
	cmd.Flags().StringVar(&at, "at", "", "fire at this RFC 3339 time")
	cmd.Flags().StringVar(&message, "message", "", "text delivered verbatim")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt the entity answers in character")
	cmd.Flags().StringVar(&repeat, "repeat", "none", "none, daily or weekly")
	cmd.MarkFlagsMutuallyExclusive("in", "at")
	cmd.MarkFlagsOneRequired("in", "at")
	cmd.MarkFlagsMutuallyExclusive("message", "prompt")
	cmd.MarkFlagsOneRequired("message", "prompt")
	return cmd
}

func resolveTrigger(in time.Duration, at string, now time.Time) (time.Time, error) {
	switch {
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --at: %w", err)
		}
		return t, nil
	case in > 0:
		return now.Add(in).Truncate(time.Second), nil
	default:
		return time.Time{}, errors.New("--in must be positive")
	}
}
