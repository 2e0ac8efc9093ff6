package main

import (
	"github.com/spf13/cobra"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/engine/graph"
)

var statsTop int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index and tag graph statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsTop, "top", 10, "number of top patterns and terms")
	rootCmd.AddCommand(statsCmd)
}

type statsOut struct {
	Collection    string            `json:"collection"`
	Index         domain.IndexStats `json:"index"`
	Nodes         map[string]int64  `json:"nodes,omitempty"`
	Relationships map[string]int64  `json:"relationships,omitempty"`
	TopPatterns   []graph.TagStats  `json:"top_patterns,omitempty"`
	TopTerms      []graph.TagStats  `json:"top_terms,omitempty"`
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, err := connect(ctx)
	if err != nil {
		return err
	}

	out := statsOut{Collection: s.index.Collection()}
	if out.Index, err = s.index.Stats(ctx); err != nil {
		return err
	}
	if s.graph != nil {
		if out.Nodes, err = s.graph.NodeCounts(ctx); err != nil {
			return err
		}
		if out.Relationships, err = s.graph.RelationshipCounts(ctx); err != nil {
			return err
		}
		if out.TopPatterns, err = s.graph.TopPatterns(ctx, statsTop); err != nil {
			return err
		}
		if out.TopTerms, err = s.graph.TopTerms(ctx, statsTop); err != nil {
			return err
		}
	}

	if jsonOutput {
		return printJSON(cmd, out)
	}
	cmd.Printf("collection %s: %d vectors, dimension %d", out.Collection, out.Index.TotalVectorCount, out.Index.Dimension)
	if out.Index.Fullness > 0 {
		cmd.Printf(", %.1f%% full", out.Index.Fullness*100)
	}
	cmd.Println()
	if s.graph == nil {
		return nil
	}
	for label, n := range out.Nodes {
		cmd.Printf("  %s nodes: %d\n", label, n)
	}
	for rel, n := range out.Relationships {
		cmd.Printf("  %s relationships: %d\n", rel, n)
	}
	printTop(cmd, "patterns", out.TopPatterns)
	printTop(cmd, "terms", out.TopTerms)
	return nil
}

func printTop(cmd *cobra.Command, title string, tags []graph.TagStats) {
	if len(tags) == 0 {
		return
	}
	cmd.Printf("top %s:\n", title)
	for _, t := range tags {
		cmd.Printf("  %-28s %4d docs %6d mentions\n", t.Name, t.Documents, t.Mentions)
	}
}
