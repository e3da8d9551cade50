package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/engramdb/engram/engined"
	"github.com/engramdb/engram/internal/engine"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "engramd",
		Short:         "Persistent memory engine for AI agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its maintenance scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return engined.Run()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:       "maintain [task]",
		Short:     "Run one maintenance task and exit",
		Long:      "Runs a single named maintenance task (decay, temporal-decay, cleanup) and exits.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{engine.TaskDecay, engine.TaskTemporalDecay, engine.TaskCleanup},
		RunE: func(cmd *cobra.Command, args []string) error {
			return engined.RunTask(args[0])
		},
	})

	return root
}
