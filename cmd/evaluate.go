package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/foresight/internal/worker"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Process the pending article queue through the analyst ensemble",
	Long:  "Runs a claim-lease worker pool over pending articles. With --once the queue is drained and the command exits; otherwise workers poll until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		pool := worker.NewPool(workerConfig(), articleQueue{env.Store}, env.Pipeline.EvaluateArticle)

		once, _ := cmd.Flags().GetBool("once")
		if once {
			n, err := pool.Drain(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Evaluated %d article(s)\n", n)
			return nil
		}

		return pool.Run(ctx)
	},
}

func init() {
	evaluateCmd.Flags().Bool("once", false, "drain the queue and exit")
	rootCmd.AddCommand(evaluateCmd)
}
