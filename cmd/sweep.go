package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/foresight/internal/lifecycle"
	"github.com/sells-group/foresight/internal/store"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire stale predictors and predictions, reclaim expired leases",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		now := time.Now().UTC()
		life := lifecycle.New(st, lifecycle.Thresholds{
			MinPredictors:       cfg.Lifecycle.MinPredictors,
			MinCombinedStrength: cfg.Lifecycle.MinCombinedStrength,
			MinConsensus:        cfg.Lifecycle.MinConsensus,
		}, nil)

		predictors, predictions, err := life.Sweep(ctx, now)
		if err != nil {
			return err
		}

		lease := time.Duration(cfg.Worker.LeaseMins) * time.Minute
		articles, err := reapQueue(ctx, st, now, lease)
		if err != nil {
			return err
		}

		fmt.Printf("Expired %d predictor(s), %d prediction(s); reclaimed %d lease(s)\n",
			predictors, predictions, articles)
		return nil
	},
}

func reapQueue(ctx context.Context, st store.Store, now time.Time, lease time.Duration) (int, error) {
	articles, err := st.ReapArticleClaims(ctx, now, lease)
	if err != nil {
		return 0, err
	}
	reviews, err := st.ReapReviewClaims(ctx, now, lease)
	if err != nil {
		return articles, err
	}
	return articles + reviews, nil
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
