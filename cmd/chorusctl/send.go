package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newSendCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation-id> <text>...",
		Short: "Post a user message to a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			convID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid conversation id %q", args[0])
			}

			res, err := opts.client().PostMessage(cmd.Context(), convID, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if opts.json {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
			}
			if !res.Enqueued {
				fmt.Fprintf(cmd.OutOrStdout(), "message %d stored, but the engine was not notified\n", res.Message.ID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "message %d sent\n", res.Message.ID)
			return nil
		},
	}
}
