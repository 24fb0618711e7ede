package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/foresight/internal/scenario"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Replay yaml scenarios against mirror targets",
}

var scenarioRunCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run one scenario document",
	Long:  "Creates a test source and mirror targets, ingests the document's synthetic articles through evaluation, and checks the expected outcomes. Production targets are never touched.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		doc, err := scenario.Load(args[0])
		if err != nil {
			return err
		}

		result, err := scenario.NewRunner(env.Store, env.Pipeline, cfg.Tenant).Run(ctx, doc)
		if err != nil {
			return err
		}

		for _, c := range result.Checks {
			mark := "FAIL"
			if c.Pass {
				mark = "PASS"
			}
			fmt.Printf("[%s] %s: %s\n", mark, c.Target, c.Detail)
		}
		if !result.Passed() {
			return eris.Errorf("scenario %s failed", result.Scenario)
		}

		fmt.Printf("Scenario %s passed (%d article(s))\n", result.Scenario, result.Articles)
		return nil
	},
}

func init() {
	scenarioCmd.AddCommand(scenarioRunCmd)
	rootCmd.AddCommand(scenarioCmd)
}
