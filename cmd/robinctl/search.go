package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/engine/retrieve"
)

var (
	searchLimit    int
	searchMinScore float32
	searchType     string
	searchDoc      string
	searchNoGraph  bool
)

var searchCmd = &cobra.Command{
	Use:   "search QUESTION",
	Short: "Search indexed passages",
	Long: `Embeds the question and returns the closest passages from the vector
index, plus tag graph documents for the strategy patterns the question
mentions when Neo4j is configured.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "maximum number of passages")
	searchCmd.Flags().Float32Var(&searchMinScore, "min-score", 0, "drop passages scoring below this")
	searchCmd.Flags().StringVar(&searchType, "type", "", "only records of this type (document, options, market)")
	searchCmd.Flags().StringVar(&searchDoc, "doc", "", "only passages of this document id")
	searchCmd.Flags().BoolVar(&searchNoGraph, "no-graph", false, "skip the tag graph lookup")
	rootCmd.AddCommand(searchCmd)
}

func searchFilter() map[string]any {
	filter := map[string]any{}
	if searchType != "" {
		filter[domain.MetaType] = searchType
	}
	if searchDoc != "" {
		filter[domain.MetaDocID] = searchDoc
	}
	return filter
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := connect(ctx)
	if err != nil {
		return err
	}

	opts := retrieve.DefaultOptions()
	opts.TopK = searchLimit
	opts.MinScore = searchMinScore
	opts.UseGraph = !searchNoGraph
	r := retrieve.New(s.embedder, s.index, s.patterns(), opts, log)

	res, err := r.Lookup(ctx, args[0], searchLimit, searchFilter())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, res)
	}
	if len(res.Passages) == 0 && len(res.Related) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	cmd.Println(strings.Join(retrieve.ContextParts(res), "\n\n"))
	return nil
}
