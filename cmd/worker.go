package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/parley/internal/log"
	"github.com/zjrosen/parley/internal/worker"
)

// workerCmd is the process the orchestrator re-executes for each generation.
// Hidden because it is an implementation detail, not a user-facing command:
// it reads one request from stdin and writes one result line to stdout.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a single reply generation (internal)",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(_ *cobra.Command, _ []string) error {
	// Stdout carries exactly one JSON result line; everything else goes to
	// stderr, where the supervisor forwards it into its own debug log.
	log.InitWithWriter(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(ctx, os.Stdin, os.Stdout); err != nil {
		log.ErrorErr(log.CatWorker, "Worker failed", err)
		return err
	}
	return nil
}
