package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run one crawl pass over all due sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Pipeline.CrawlPass(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Crawled %d source(s), %d failed: %d items, %d new articles, %d duplicates\n",
			summary.Sources, summary.Failed, summary.ItemsSeen,
			summary.NewArticles, summary.Dedup.Total())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(crawlCmd)
}
