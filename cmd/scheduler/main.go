// Command scheduler runs and administers the experiment scheduler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = ""
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run solver scenarios as batch jobs and track their results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "YAML config file (environment variables take precedence)")
	cmd.PersistentFlags().StringP("log", "l", "", "log level override: debug, info, warn, error")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newNameCmd())
	cmd.AddCommand(newJobsCmd())
	cmd.AddCommand(newSubmissionsCmd())
	cmd.AddCommand(newImageCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if commit != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "scheduler %s (%s)\n", version, commit)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scheduler %s\n", version)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
