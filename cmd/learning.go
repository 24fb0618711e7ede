package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/foresight/internal/learning"
	"github.com/sells-group/foresight/internal/model"
	"github.com/sells-group/foresight/internal/store"
)

var learningsCmd = &cobra.Command{
	Use:   "learnings",
	Short: "Inspect and promote learnings through the funnel",
}

var learningsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learnings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stage, _ := cmd.Flags().GetString("stage")
		limit, _ := cmd.Flags().GetInt("limit")

		learnings, err := st.ListLearnings(ctx, store.LearningFilter{
			TenantID: cfg.Tenant,
			Stage:    model.LearningStage(stage),
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "learnings list")
		}
		if len(learnings) == 0 {
			fmt.Fprintln(os.Stderr, "No learnings found.")
			return nil
		}

		formatLearnings(os.Stdout, learnings)
		return nil
	},
}

var learningsApplyCmd = &cobra.Command{
	Use:   "apply <learning-id>",
	Short: "Record an application of a learning",
	Long:  "Bumps effectiveness counters; the first application advances a created learning to validated.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		helpful, _ := cmd.Flags().GetBool("helpful")
		if err := learning.New(st).RecordApplication(ctx, args[0], helpful); err != nil {
			return err
		}

		fmt.Printf("Recorded application of %s (helpful=%v)\n", args[0], helpful)
		return nil
	},
}

var learningsBacktestCmd = &cobra.Command{
	Use:   "backtest <learning-id>",
	Short: "Attach a backtest result to a validated learning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		score, _ := cmd.Flags().GetFloat64("score")
		if err := learning.New(st).RecordBacktest(ctx, args[0], score); err != nil {
			return err
		}

		fmt.Printf("Learning %s backtested with score %.2f\n", args[0], score)
		return nil
	},
}

var learningsPromoteCmd = &cobra.Command{
	Use:   "promote <learning-id>",
	Short: "Promote a backtested sandbox learning to production",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		prod, err := learning.New(st).Promote(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Promoted %s -> production learning %s\n", args[0], prod.ID)
		return nil
	},
}

func formatLearnings(w io.Writer, learnings []model.Learning) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTAGE\tTEST\tAPPLIED\tHELPFUL\tBACKTEST\tCONTENT")
	for _, l := range learnings {
		backtest := "-"
		if l.BacktestScore != nil {
			backtest = fmt.Sprintf("%.2f", *l.BacktestScore)
		}
		content := l.Content
		if len(content) > 48 {
			content = content[:45] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%d\t%d\t%s\t%s\n",
			l.ID, l.Kind, l.Stage, l.IsTest, l.TimesApplied, l.TimesHelpful, backtest, content)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	learningsListCmd.Flags().String("stage", "", "filter by stage (created, validated, backtested, promoted)")
	learningsListCmd.Flags().Int("limit", 50, "max rows")
	learningsApplyCmd.Flags().Bool("helpful", false, "the application helped the call")
	learningsBacktestCmd.Flags().Float64("score", 0, "backtest score")
	learningsBacktestCmd.MarkFlagRequired("score") //nolint:errcheck

	learningsCmd.AddCommand(learningsListCmd, learningsApplyCmd, learningsBacktestCmd, learningsPromoteCmd)
	rootCmd.AddCommand(learningsCmd)
}
