package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/foresight/internal/model"
)

var analystsCmd = &cobra.Command{
	Use:   "analysts",
	Short: "Manage the analyst roster",
}

var analystsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register an analyst",
	Long:  "Registers an analyst row. The name must match an ensemble implementation (keyword-tone, target-mention, llm-judgment) to participate in evaluation.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		weight, _ := cmd.Flags().GetFloat64("weight")
		tier, _ := cmd.Flags().GetInt("tier")
		scope, _ := cmd.Flags().GetString("scope")
		instructions, _ := cmd.Flags().GetString("instructions")

		a, err := st.CreateAnalyst(ctx, model.Analyst{
			TenantID:     cfg.Tenant,
			Name:         args[0],
			Scope:        model.ScopeLevel(scope),
			Weight:       weight,
			Tier:         tier,
			Enabled:      true,
			Instructions: instructions,
		})
		if err != nil {
			return eris.Wrap(err, "analysts add")
		}

		fmt.Printf("Registered analyst %s (%s, weight %.2f)\n", a.ID, a.Name, a.Weight)
		return nil
	},
}

var analystsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		analysts, err := st.ListAnalysts(ctx, cfg.Tenant)
		if err != nil {
			return eris.Wrap(err, "analysts list")
		}
		if len(analysts) == 0 {
			fmt.Fprintln(os.Stderr, "No analysts found.")
			return nil
		}

		formatAnalysts(os.Stdout, analysts)
		return nil
	},
}

var analystsOverrideCmd = &cobra.Command{
	Use:   "override <analyst-id>",
	Short: "Set a universe- or target-level override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		level, _ := cmd.Flags().GetString("level")
		refID, _ := cmd.Flags().GetString("ref")
		o := model.AnalystOverride{
			AnalystID: args[0],
			Level:     model.ScopeLevel(level),
		}
		switch o.Level {
		case model.ScopeUniverse:
			o.UniverseID = refID
		case model.ScopeTarget:
			o.TargetID = refID
		}
		if cmd.Flags().Changed("weight") {
			w, _ := cmd.Flags().GetFloat64("weight")
			o.Weight = &w
		}
		if cmd.Flags().Changed("tier") {
			t, _ := cmd.Flags().GetInt("tier")
			o.Tier = &t
		}
		if cmd.Flags().Changed("enabled") {
			e, _ := cmd.Flags().GetBool("enabled")
			o.Enabled = &e
		}

		saved, err := st.UpsertOverride(ctx, o)
		if err != nil {
			return eris.Wrap(err, "analysts override")
		}

		fmt.Printf("Override %s saved at %s level\n", saved.ID, saved.Level)
		return nil
	},
}

func formatAnalysts(w io.Writer, analysts []model.Analyst) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSCOPE\tWEIGHT\tTIER\tENABLED")
	for _, a := range analysts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%d\t%v\n", a.ID, a.Name, a.Scope, a.Weight, a.Tier, a.Enabled)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	analystsAddCmd.Flags().Float64("weight", 1.0, "default weight")
	analystsAddCmd.Flags().Int("tier", 1, "tier")
	analystsAddCmd.Flags().String("scope", "global", "scope level (global, domain, universe, target)")
	analystsAddCmd.Flags().String("instructions", "", "tier-specific instructions")

	analystsOverrideCmd.Flags().String("level", "universe", "override level (universe, target)")
	analystsOverrideCmd.Flags().String("ref", "", "universe or target id")
	analystsOverrideCmd.Flags().Float64("weight", 0, "override weight")
	analystsOverrideCmd.Flags().Int("tier", 0, "override tier")
	analystsOverrideCmd.Flags().Bool("enabled", true, "override enablement")
	analystsOverrideCmd.MarkFlagRequired("ref") //nolint:errcheck

	analystsCmd.AddCommand(analystsAddCmd, analystsListCmd, analystsOverrideCmd)
	rootCmd.AddCommand(analystsCmd)
}
