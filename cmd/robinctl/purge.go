package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/pkg/repo"
)

var (
	purgeAll   bool
	purgeYes   bool
	purgeGroup string
)

var purgeCmd = &cobra.Command{
	Use:   "purge [DOC_ID...]",
	Short: "Remove documents or record groups from the index",
	Long: `Deletes every vector of the given documents, their tag graph nodes and
their processed marks, so they can be ingested again. --group removes a
leftover realtime record group. --all drops the whole collection and needs
--yes.`,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeAll, "all", false, "drop the whole collection")
	purgeCmd.Flags().BoolVar(&purgeYes, "yes", false, "confirm --all")
	purgeCmd.Flags().StringVar(&purgeGroup, "group", "", "delete a realtime record group")
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	if !purgeAll && purgeGroup == "" && len(args) == 0 {
		return errors.New("nothing to purge: give document ids, --group or --all")
	}
	if purgeAll && !purgeYes {
		return errors.New("refusing to drop the collection without --yes")
	}

	ctx := cmd.Context()
	s, err := connect(ctx)
	if err != nil {
		return err
	}

	if purgeAll {
		if err := s.index.Drop(ctx); err != nil {
			return err
		}
		cmd.Printf("dropped collection %s\n", s.index.Collection())
	}
	if purgeGroup != "" {
		if err := s.index.Delete(ctx, map[string]any{domain.MetaRecordGroup: purgeGroup}); err != nil {
			return err
		}
		cmd.Printf("deleted record group %s\n", purgeGroup)
	}

	var errs []error
	for _, id := range args {
		if err := purgeDocument(cmd, s, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		cmd.Printf("purged %s\n", id)
	}
	return errors.Join(errs...)
}

func purgeDocument(cmd *cobra.Command, s *services, id string) error {
	ctx := cmd.Context()
	if err := s.index.Delete(ctx, map[string]any{domain.MetaDocID: id}); err != nil {
		return err
	}
	if s.graph != nil {
		if err := s.graph.DeleteDocument(ctx, id); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
	}
	return s.ledger.Forget(ctx, id)
}
