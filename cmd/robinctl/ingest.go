package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/engine/ingest"
	"github.com/robin-ai/robinrag/pkg/natsutil"
)

var (
	ingestPublish bool
	ingestTimeout time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Ingest JSON document files",
	Long: `Reads documents from JSON or JSONL files and runs them through the
ingestion pipeline. With --publish the documents are sent to the ingest
daemon over NATS instead, and its reports are printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestPublish, "publish", false, "send documents to the ingest daemon over NATS")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 5*time.Minute, "wait per published document")
	rootCmd.AddCommand(ingestCmd)
}

func readDocumentFiles(paths []string) ([]domain.Document, error) {
	var docs []domain.Document
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		d, err := ingest.ReadDocuments(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		docs = append(docs, d...)
	}
	if len(docs) == 0 {
		return nil, errors.New("no documents in input")
	}
	return docs, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	docs, err := readDocumentFiles(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ingestPublish {
		return publishDocuments(ctx, cmd, docs)
	}

	s, err := connect(ctx)
	if err != nil {
		return err
	}
	p, err := s.ingestPipeline()
	if err != nil {
		return err
	}
	rep, err := p.Run(ctx, docs)
	if err != nil {
		return err
	}
	if !rep.Retryable() {
		for _, d := range docs {
			if err := s.ledger.MarkProcessed(ctx, d.ID); err != nil {
				log.Warn("mark processed failed", "doc_id", d.ID, "error", err)
			}
		}
	}
	return printReport(cmd, rep)
}

func publishDocuments(ctx context.Context, cmd *cobra.Command, docs []domain.Document) error {
	if cfg.NATS.URL == "" {
		return errors.New("--publish needs nats.url")
	}
	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("robinctl"))
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer nc.Close()

	var errs []error
	for _, d := range docs {
		reqCtx, cancel := context.WithTimeout(ctx, ingestTimeout)
		rep, err := natsutil.Request[domain.Document, domain.IngestionReport](reqCtx, nc, ingest.DocumentSubject, d)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.ID, err))
			continue
		}
		if err := printReport(cmd, &rep); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func printReport(cmd *cobra.Command, rep *domain.IngestionReport) error {
	if jsonOutput {
		return printJSON(cmd, rep)
	}
	if rep.RunID == "" {
		cmd.Println("already ingested, skipped")
		return nil
	}
	cmd.Printf("run %s (%s) in %s\n", rep.RunID, rep.Kind, rep.Duration().Round(time.Millisecond))
	cmd.Printf("  units:   %d ok, %d failed of %d\n", rep.SucceededUnits, rep.FailedUnits, rep.TotalUnits)
	cmd.Printf("  chunks:  %d ok, %d failed of %d (%d failed batches)\n",
		rep.SucceededChunks, rep.FailedChunks, rep.TotalChunks, rep.FailedBatches)
	cmd.Printf("  vectors: %d -> %d\n", rep.Before.TotalVectorCount, rep.After.TotalVectorCount)
	if rep.Degraded {
		cmd.Println("  index degraded: vectors were not stored")
	}
	for _, f := range rep.Failures {
		cmd.Printf("  - %s [%s] %s\n", f.Unit, f.Stage, f.Reason)
	}
	return nil
}
