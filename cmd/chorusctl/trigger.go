package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"basegraph.app/chorus/internal/apiclient"
)

func newTriggerCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <entity-id>",
		Short: "Send an entity's proactive message now, through the worker admin port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entity id %q", args[0])
			}
			if opts.worker == "" {
				return errors.New("--worker is required")
			}

			err = opts.client().TriggerWorkerProactive(cmd.Context(), opts.worker, entityID)
			var apiErr *apiclient.APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
				return fmt.Errorf("nothing sent: entity %d is already sending a proactive message", entityID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "proactive message from entity %d sent\n", entityID)
			return nil
		},
	}
}
