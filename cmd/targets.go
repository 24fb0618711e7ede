package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/foresight/internal/model"
)

var universesCmd = &cobra.Command{
	Use:   "universes",
	Short: "Manage target universes",
}

var universesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a universe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		domain, _ := cmd.Flags().GetString("domain")
		risk, _ := cmd.Flags().GetString("risk")
		agent, _ := cmd.Flags().GetString("agent")

		u, err := st.CreateUniverse(ctx, model.Universe{
			TenantID: cfg.Tenant,
			AgentID:  agent,
			Name:     args[0],
			Domain:   model.Domain(domain),
			Risk:     model.RiskLevel(risk),
		})
		if err != nil {
			return eris.Wrap(err, "universes create")
		}

		fmt.Printf("Created universe %s (%s/%s)\n", u.ID, u.Domain, u.Risk)
		return nil
	},
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage prediction targets",
}

var targetsAddCmd = &cobra.Command{
	Use:   "add <symbol>",
	Short: "Add a target (its test mirror is created automatically)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		universeID, _ := cmd.Flags().GetString("universe")
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = args[0]
		}

		target, mirror, err := st.CreateTarget(ctx, model.Target{
			UniverseID: universeID,
			Symbol:     args[0],
			Name:       name,
		})
		if err != nil {
			return eris.Wrap(err, "targets add")
		}

		fmt.Printf("Created target %s (%s) with mirror %s (%s)\n",
			target.ID, target.Symbol, mirror.ID, mirror.Symbol)
		return nil
	},
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List targets in a universe",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		universeID, _ := cmd.Flags().GetString("universe")
		targets, err := st.ListTargets(ctx, universeID)
		if err != nil {
			return eris.Wrap(err, "targets list")
		}
		if len(targets) == 0 {
			fmt.Fprintln(os.Stderr, "No targets found.")
			return nil
		}

		formatTargets(os.Stdout, targets)
		return nil
	},
}

var targetsSubscribeCmd = &cobra.Command{
	Use:   "subscribe <target-id> <source-id>",
	Short: "Subscribe a target to a source",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sub, err := st.UpsertSubscription(ctx, model.Subscription{
			TargetID: args[0],
			SourceID: args[1],
		})
		if err != nil {
			return eris.Wrap(err, "targets subscribe")
		}

		fmt.Printf("Subscription %s created\n", sub.ID)
		return nil
	},
}

var targetsCatchupCmd = &cobra.Command{
	Use:   "catchup <target-id> <source-id>",
	Short: "Replay a subscription's unprocessed articles and advance its watermark",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		batch, _ := cmd.Flags().GetInt("batch")
		summary, err := e.Pipeline.CatchUp(ctx, args[1], args[0], batch)
		if err != nil {
			return eris.Wrap(err, "targets catchup")
		}

		fmt.Printf("Evaluated %d articles; watermark at %s\n",
			summary.Evaluated, summary.Watermark.Format(time.RFC3339))
		return nil
	},
}

func formatTargets(w io.Writer, targets []model.Target) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSYMBOL\tNAME\tTEST\tMIRROR OF")
	for _, t := range targets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\n", t.ID, t.Symbol, t.Name, t.IsTest, t.MirrorOfID)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	universesCreateCmd.Flags().String("domain", "stocks", "domain (stocks, crypto, elections, markets)")
	universesCreateCmd.Flags().String("risk", "balanced", "risk level (conservative, balanced, aggressive)")
	universesCreateCmd.Flags().String("agent", "", "owning agent id")
	universesCmd.AddCommand(universesCreateCmd)

	targetsAddCmd.Flags().String("universe", "", "universe id")
	targetsAddCmd.Flags().String("name", "", "display name")
	targetsAddCmd.MarkFlagRequired("universe") //nolint:errcheck
	targetsListCmd.Flags().String("universe", "", "universe id")
	targetsListCmd.MarkFlagRequired("universe") //nolint:errcheck
	targetsCatchupCmd.Flags().Int("batch", 50, "articles per store read")
	targetsCmd.AddCommand(targetsAddCmd, targetsListCmd, targetsSubscribeCmd, targetsCatchupCmd)

	rootCmd.AddCommand(universesCmd, targetsCmd)
}
