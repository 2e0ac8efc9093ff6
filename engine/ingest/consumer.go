package ingest

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/pkg/natsutil"
)

const (
	// DocumentSubject is the NATS subject for incoming documents.
	DocumentSubject = "robin.ingest.documents"
	// ReportSubject receives one IngestionReport per processed document.
	ReportSubject = "robin.ingest.reports"
	// DLQSubject is the dead letter queue subject for failed messages.
	DLQSubject = "robin.ingest.dlq"
	// MaxRetries before sending to DLQ.
	MaxRetries = 3
)

// DLQMessage is published to the DLQ on repeated failure.
type DLQMessage struct {
	Document domain.Document `json:"document"`
	Error    string          `json:"error"`
	Retries  int             `json:"retries"`
}

// Seen reports and records which documents were already ingested.
type Seen interface {
	IsProcessed(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string) error
}

// StartConsumer subscribes to DocumentSubject and runs each document through
// p. Reports go to ReportSubject, and to the reply subject when the sender
// used a request. A run-level failure is republished with an incremented
// retry header until MaxRetries, then sent to DLQSubject. seen may be nil.
func StartConsumer(nc *nats.Conn, p *Pipeline, seen Seen) (*nats.Subscription, error) {
	log := p.log.With("subject", DocumentSubject)

	return natsutil.SubscribeMsg(nc, DocumentSubject, func(ctx context.Context, msg *nats.Msg, doc domain.Document) {
		if seen != nil {
			done, err := seen.IsProcessed(ctx, doc.ID)
			if err != nil {
				log.Warn("ingest: dedup check failed", "doc_id", doc.ID, "error", err)
			} else if done {
				log.Info("ingest: skipping duplicate", "doc_id", doc.ID)
				natsutil.Respond(msg, &domain.IngestionReport{Kind: domain.TypeDocument})
				return
			}
		}

		report, err := p.RunDocument(ctx, doc)
		if err != nil {
			redeliver(ctx, nc, log, msg, doc, err)
			return
		}

		if seen != nil && !report.Retryable() {
			if err := seen.MarkProcessed(ctx, doc.ID); err != nil {
				log.Warn("ingest: mark processed failed", "doc_id", doc.ID, "error", err)
			}
		}
		if err := natsutil.Publish(ctx, nc, ReportSubject, report); err != nil {
			log.Error("ingest: report publish failed", "doc_id", doc.ID, "error", err)
		}
		if err := natsutil.Respond(msg, report); err != nil {
			log.Warn("ingest: reply failed", "doc_id", doc.ID, "error", err)
		}
		log.Info("ingest: success", "doc_id", doc.ID, "run_id", report.RunID)
	})
}

func redeliver(ctx context.Context, nc *nats.Conn, log *slog.Logger, msg *nats.Msg, doc domain.Document, runErr error) {
	retries := natsutil.RetryCount(msg) + 1
	log.Error("ingest: pipeline failed", "doc_id", doc.ID, "retry", retries, "error", runErr)

	if retries >= MaxRetries {
		dlq := DLQMessage{Document: doc, Error: runErr.Error(), Retries: retries}
		if err := natsutil.Publish(ctx, nc, DLQSubject, dlq); err != nil {
			log.Error("ingest: DLQ publish failed", "error", err)
		}
		natsutil.Respond(msg, dlq)
		return
	}
	if err := natsutil.PublishWithHeader(ctx, nc, DocumentSubject, doc, natsutil.RetryHeaderValue(retries)); err != nil {
		log.Error("ingest: retry publish failed", "error", err)
	}
}
