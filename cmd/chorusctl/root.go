package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"basegraph.app/chorus/internal/apiclient"
)

type options struct {
	server  string
	worker  string
	apiKey  string
	timeout time.Duration
	json    bool
}

func (o *options) client() *apiclient.Client {
	return apiclient.New(o.server, o.apiKey, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "chorusctl",
		Short:         "Operate a chorus deployment: inspect countdowns, send messages, create reminders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("CHORUS_SERVER", "http://localhost:8080"), "API server base URL")
	flags.StringVar(&opts.worker, "worker", os.Getenv("CHORUS_WORKER_ADMIN"), "worker admin base URL, for live countdown state")
	flags.StringVar(&opts.apiKey, "api-key", os.Getenv("CHORUS_API_KEY"), "API key")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")
	flags.BoolVar(&opts.json, "json", false, "print JSON")

	rootCmd.AddCommand(
		newStatusCmd(opts),
		newSendCmd(opts),
		newRemindCmd(opts),
		newTriggerCmd(opts),
	)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
