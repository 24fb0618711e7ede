package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/foresight/internal/learning"
	"github.com/sells-group/foresight/internal/model"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the human review queue",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending reviews",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := st.ListPendingReviews(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "review list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Review queue is empty.")
			return nil
		}

		formatReviews(os.Stdout, entries)
		return nil
	},
}

var reviewNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Claim the oldest unclaimed review",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		by, _ := cmd.Flags().GetString("by")
		lease := time.Duration(cfg.Worker.LeaseMins) * time.Minute
		id, ok, err := st.ClaimReview(ctx, by, time.Now().UTC(), lease)
		if err != nil {
			return eris.Wrap(err, "review next")
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "No unclaimed reviews.")
			return nil
		}

		entry, err := st.GetReview(ctx, id)
		if err != nil {
			return eris.Wrap(err, "review next")
		}
		formatReviews(os.Stdout, []model.ReviewQueueEntry{*entry})
		return nil
	},
}

var reviewSkipCmd = &cobra.Command{
	Use:   "skip <review-id>",
	Short: "Release a claimed review back to the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.ReleaseReview(ctx, args[0]); err != nil {
			return eris.Wrap(err, "review skip")
		}
		fmt.Printf("Review %s released\n", args[0])
		return nil
	},
}

var reviewDecideCmd = &cobra.Command{
	Use:   "decide <review-id>",
	Short: "Apply a decision to a pending review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		decidedBy, _ := cmd.Flags().GetString("by")
		createLearning, _ := cmd.Flags().GetBool("create-learning")

		decision := model.ReviewDecision{
			Status:         model.ReviewStatus(status),
			CreateLearning: createLearning,
			DecidedBy:      decidedBy,
		}
		if cmd.Flags().Changed("direction") {
			d, _ := cmd.Flags().GetString("direction")
			outcome := model.Outcome(d)
			decision.ResponseDirection = &outcome
		}
		if cmd.Flags().Changed("strength") {
			s, _ := cmd.Flags().GetInt("strength")
			decision.ResponseStrength = &s
		}

		var spawn model.Learning
		if createLearning {
			kind, _ := cmd.Flags().GetString("learning-kind")
			content, _ := cmd.Flags().GetString("learning-content")
			spawn = model.Learning{
				TenantID: cfg.Tenant,
				Kind:     model.LearningKind(kind),
				Scope:    model.ScopeGlobal,
				Content:  content,
			}
		}

		created, err := learning.New(st).Decide(ctx, args[0], decision, spawn)
		if err != nil {
			return err
		}

		fmt.Printf("Review %s decided: %s\n", args[0], status)
		if created != nil {
			fmt.Printf("Spawned sandbox learning %s (stage %s)\n", created.ID, created.Stage)
		}
		return nil
	},
}

func formatReviews(w io.Writer, entries []model.ReviewQueueEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEVALUATION\tSYSTEM CALL\tCONFIDENCE\tQUEUED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\n",
			e.ID, e.EvaluationID, e.SystemDirection, e.SystemConfidence,
			e.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	reviewListCmd.Flags().Int("limit", 50, "max rows")

	reviewNextCmd.Flags().String("by", "", "reviewer identity")
	reviewNextCmd.MarkFlagRequired("by") //nolint:errcheck

	reviewDecideCmd.Flags().String("status", "", "decision (approved, rejected, modified)")
	reviewDecideCmd.Flags().String("direction", "", "corrected direction for a modified decision")
	reviewDecideCmd.Flags().Int("strength", 0, "corrected strength in [1,10]")
	reviewDecideCmd.Flags().String("by", "", "reviewer identity")
	reviewDecideCmd.Flags().Bool("create-learning", false, "spawn a sandbox learning from this decision")
	reviewDecideCmd.Flags().String("learning-kind", "rule", "learning kind (rule, pattern, weight_adjustment, threshold, avoid)")
	reviewDecideCmd.Flags().String("learning-content", "", "learning content")
	reviewDecideCmd.MarkFlagRequired("status") //nolint:errcheck

	reviewCmd.AddCommand(reviewListCmd, reviewNextCmd, reviewSkipCmd, reviewDecideCmd)
	rootCmd.AddCommand(reviewCmd)
}
