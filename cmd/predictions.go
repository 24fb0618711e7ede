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

var predictionsCmd = &cobra.Command{
	Use:   "predictions",
	Short: "Inspect and resolve predictions",
}

var predictionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List predictions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		targetID, _ := cmd.Flags().GetString("target")
		limit, _ := cmd.Flags().GetInt("limit")

		predictions, err := st.ListPredictions(ctx, store.PredictionFilter{
			TenantID: cfg.Tenant,
			TargetID: targetID,
			Status:   model.PredictionStatus(status),
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "predictions list")
		}
		if len(predictions) == 0 {
			fmt.Fprintln(os.Stderr, "No predictions found.")
			return nil
		}

		formatPredictions(os.Stdout, predictions)
		return nil
	},
}

var predictionsResolveCmd = &cobra.Command{
	Use:   "resolve <prediction-id>",
	Short: "Resolve a prediction against the realized outcome",
	Long:  "Scores the prediction, records the evaluation, and routes moderate-confidence calls to the review queue.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		outcome, _ := cmd.Flags().GetString("outcome")

		p, err := st.GetPrediction(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "predictions resolve")
		}

		eval, err := learning.New(st).Resolve(ctx, *p, model.Outcome(outcome))
		if err != nil {
			return err
		}

		verdict := "incorrect"
		if eval.DirectionCorrect {
			verdict = "correct"
		}
		fmt.Printf("Prediction %s resolved: %s (score %.2f)\n", p.ID, verdict, eval.Score)
		if learning.NeedsReview(*eval) {
			fmt.Println("Routed to the review queue for a human decision.")
		}
		return nil
	},
}

func formatPredictions(w io.Writer, predictions []model.Prediction) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTARGET\tANALYST\tDIRECTION\tCONSENSUS\tPREDICTORS\tSTATUS\tTEST")
	for _, p := range predictions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%d\t%s\t%v\n",
			p.ID, p.TargetID, p.AnalystID, p.Direction,
			p.Consensus, p.PredictorCount, p.Status, p.IsTest)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	predictionsListCmd.Flags().String("status", "", "filter by status (active, resolved, cancelled, expired)")
	predictionsListCmd.Flags().String("target", "", "filter by target id")
	predictionsListCmd.Flags().Int("limit", 50, "max rows")

	predictionsResolveCmd.Flags().String("outcome", "", "realized outcome (up, down, flat, yes, no)")
	predictionsResolveCmd.MarkFlagRequired("outcome") //nolint:errcheck

	predictionsCmd.AddCommand(predictionsListCmd, predictionsResolveCmd)
	rootCmd.AddCommand(predictionsCmd)
}
