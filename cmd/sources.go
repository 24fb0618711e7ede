package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/foresight/internal/model"
	"github.com/sells-group/foresight/internal/store"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage crawl sources",
}

var sourcesRegisterCmd = &cobra.Command{
	Use:   "register <url>",
	Short: "Register a new source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		name, _ := cmd.Flags().GetString("name")
		srcType, _ := cmd.Flags().GetString("type")
		freq, _ := cmd.Flags().GetInt("frequency")
		isTest, _ := cmd.Flags().GetBool("test")
		include, _ := cmd.Flags().GetStringSlice("include")
		exclude, _ := cmd.Flags().GetStringSlice("exclude")

		src, err := st.CreateSource(ctx, model.Source{
			TenantID:           cfg.Tenant,
			Name:               name,
			URL:                args[0],
			Type:               model.SourceType(srcType),
			CrawlFrequencyMins: freq,
			Active:             true,
			IsTest:             isTest,
			Filter: model.FilterConfig{
				KeywordsInclude: include,
				KeywordsExclude: exclude,
			},
		})
		if err != nil {
			return eris.Wrap(err, "sources register")
		}

		fmt.Printf("Registered source %s (%s)\n", src.ID, src.URL)
		return nil
	},
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		attention, _ := cmd.Flags().GetBool("attention")
		filter := store.SourceFilter{TenantID: cfg.Tenant}
		if attention {
			t := true
			filter.NeedsAttention = &t
		}

		sources, err := st.ListSources(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "sources list")
		}
		if len(sources) == 0 {
			fmt.Fprintln(os.Stderr, "No sources found.")
			return nil
		}

		formatSources(os.Stdout, sources)
		return nil
	},
}

var sourcesDisableCmd = &cobra.Command{
	Use:   "disable <source-id>",
	Short: "Soft-disable a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSourceActive(cmd, args[0], false)
	},
}

var sourcesEnableCmd = &cobra.Command{
	Use:   "enable <source-id>",
	Short: "Re-enable a disabled source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSourceActive(cmd, args[0], true)
	},
}

func setSourceActive(cmd *cobra.Command, id string, active bool) error {
	ctx := cmd.Context()

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.SetSourceActive(ctx, id, active); err != nil {
		return eris.Wrap(err, "sources set active")
	}
	fmt.Printf("Source %s active=%v\n", id, active)
	return nil
}

func formatSources(w io.Writer, sources []model.Source) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tFREQ\tACTIVE\tTEST\tERRORS\tATTENTION\tLAST CRAWL")
	for _, s := range sources {
		last := "never"
		if s.LastCrawlAt != nil {
			last = s.LastCrawlAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dm\t%v\t%v\t%d\t%v\t%s\n",
			s.ID, s.Name, s.Type, s.CrawlFrequencyMins,
			s.Active, s.IsTest, s.ConsecutiveErrors, s.NeedsAttention, last)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	sourcesRegisterCmd.Flags().String("name", "", "display name")
	sourcesRegisterCmd.Flags().String("type", "rss", "source type (rss, feed, web)")
	sourcesRegisterCmd.Flags().Int("frequency", 15, "crawl cadence in minutes (5, 10, 15, 30, 60)")
	sourcesRegisterCmd.Flags().Bool("test", false, "flag as a test source")
	sourcesRegisterCmd.Flags().StringSlice("include", nil, "keywords an item must contain")
	sourcesRegisterCmd.Flags().StringSlice("exclude", nil, "keywords that drop an item")
	sourcesListCmd.Flags().Bool("attention", false, "only sources needing operator attention")

	sourcesCmd.AddCommand(sourcesRegisterCmd, sourcesListCmd, sourcesEnableCmd, sourcesDisableCmd)
	rootCmd.AddCommand(sourcesCmd)
}
