package main

import (
	"time"

	"github.com/spf13/cobra"
)

// Options holds CLI options for the node.
type Options struct {
	ConfigPath string
	Format     string
	Message    string
	Timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	var opts Options
	root := &cobra.Command{
		Use:   "acup2p-node",
		Short: "Drive acup2p sessions on an in-process loopback network",
		Long: `acup2p-node runs sessions of the acup2p coordination bridge against the
loopback engine. It is meant for trying the API and checking a config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	root.AddCommand(
		newDemoCmd(&opts),
		newConfigCmd(&opts),
		newKeygenCmd(),
	)
	return root
}
