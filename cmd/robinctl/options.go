package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/engine/realtime"
)

var (
	optionsKind     string
	optionsGroup    string
	optionsQuestion string
	optionsTopK     int
)

var optionsCmd = &cobra.Command{
	Use:   "options FILE",
	Short: "Vectorize an option chain for one question",
	Long: `Embeds option contracts (or market snapshots with --kind market) from a
JSON array into a temporary record group, answers --question against it and
removes the group again. Use "-" to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runOptions,
}

func init() {
	optionsCmd.Flags().StringVar(&optionsKind, "kind", domain.TypeOptions, "record kind: options or market")
	optionsCmd.Flags().StringVar(&optionsGroup, "group", "", "record group name (default: random)")
	optionsCmd.Flags().StringVarP(&optionsQuestion, "question", "q", "", "question to search the group with")
	optionsCmd.Flags().IntVarP(&optionsTopK, "limit", "n", 5, "matches to print")
	rootCmd.AddCommand(optionsCmd)
}

// decodeRecords reads a JSON array of kind records.
func decodeRecords(r io.Reader, kind string) ([]domain.Record, error) {
	switch kind {
	case domain.TypeOptions:
		var cs []domain.OptionContract
		if err := json.NewDecoder(r).Decode(&cs); err != nil {
			return nil, fmt.Errorf("decode option contracts: %w", err)
		}
		out := make([]domain.Record, len(cs))
		for i, c := range cs {
			out[i] = c
		}
		return out, nil
	case domain.TypeMarket:
		var ms []domain.MarketSnapshot
		if err := json.NewDecoder(r).Decode(&ms); err != nil {
			return nil, fmt.Errorf("decode market snapshots: %w", err)
		}
		out := make([]domain.Record, len(ms))
		for i, m := range ms {
			out[i] = m
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

type optionsResult struct {
	Group   string                  `json:"group"`
	Stored  int                     `json:"stored"`
	Matches []matchOut              `json:"matches,omitempty"`
	Report  *domain.IngestionReport `json:"report"`
}

type matchOut struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
	Text  string  `json:"text"`
}

func runOptions(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	records, err := decodeRecords(in, optionsKind)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := connect(ctx)
	if err != nil {
		return err
	}
	p, err := s.realtimePipeline()
	if err != nil {
		return err
	}

	group := optionsGroup
	if group == "" {
		group = "robinctl-" + uuid.NewString()
	}
	res := optionsResult{Group: group}
	rep, err := p.Vectorize(ctx, group, records, func(ctx context.Context, sess *realtime.Session) error {
		res.Stored = sess.Upserted()
		if optionsQuestion == "" {
			return nil
		}
		matches, err := sess.Search(ctx, optionsQuestion, optionsTopK, nil)
		if err != nil {
			return err
		}
		for _, m := range matches {
			text, _ := m.Metadata[domain.MetaText].(string)
			res.Matches = append(res.Matches, matchOut{ID: m.ID, Score: m.Score, Text: text})
		}
		return nil
	})
	res.Report = rep
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd, res)
	}
	cmd.Printf("group %s: %d of %d records stored\n", group, res.Stored, len(records))
	for i, m := range res.Matches {
		cmd.Printf("  [%d] %.3f %s\n", i+1, m.Score, m.Text)
	}
	for _, f := range rep.Failures {
		cmd.Printf("  - %s [%s] %s\n", f.Unit, f.Stage, f.Reason)
	}
	return nil
}
