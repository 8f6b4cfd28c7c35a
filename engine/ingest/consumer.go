package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
	"github.com/PhantomAgents/phantom-mvp/pkg/natsutil"
)

// StartConsumer subscribes the pipeline to the ingestion job queue. Failed
// jobs are retried through republish with a retry-count header; permanent
// failures and exhausted retries go to the DLQ.
func StartConsumer(nc *nats.Conn, p *Pipeline) (*nats.Subscription, error) {
	return nc.QueueSubscribe(JobsSubject, QueueGroup, func(msg *nats.Msg) {
		p.consume(nc, msg)
	})
}

func (p *Pipeline) consume(nc *nats.Conn, msg *nats.Msg) {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		p.log.Error("dropping malformed ingest job", "error", err)
		return
	}

	ctx := natsutil.Extract(msg)
	log := p.log.With("path", job.Path)

	event, err := p.processJob(ctx, job)
	if err == nil {
		log.Info("ingest job done", "identity", event.Identity, "chunks", event.Chunks)
		if err := natsutil.Publish(ctx, nc, DoneSubject, event); err != nil {
			log.Error("completion event publish failed", "error", err)
		}
	} else {
		retries := natsutil.Retries(msg) + 1
		log.Error("ingest job failed", "error", err, "retry", retries)

		if permanent(err) || retries >= MaxRetries {
			dlq := DLQMessage{Job: job, Error: err.Error(), Retries: retries}
			if err := natsutil.Publish(ctx, nc, DLQSubject, dlq); err != nil {
				log.Error("DLQ publish failed", "error", err)
			}
		} else if err := natsutil.RepublishWithRetry(nc, JobsSubject, msg.Data, retries); err != nil {
			log.Error("retry publish failed", "error", err)
		}
	}

	// Ack if JetStream.
	if msg.Reply != "" {
		_ = msg.Ack()
	}
}

// processJob reads the document from disk and runs it through the pipeline.
func (p *Pipeline) processJob(ctx context.Context, job Job) (Event, error) {
	format, err := jobFormat(job)
	if err != nil {
		return Event{}, err
	}
	data, err := os.ReadFile(job.Path)
	if err != nil {
		return Event{}, fmt.Errorf("ingest: read %s: %w", job.Path, err)
	}
	base, err := p.Run(ctx, data, format)
	if err != nil {
		return Event{}, err
	}
	return Event{Identity: base.Identity.String(), Path: job.Path, Chunks: len(base.Chunks)}, nil
}

func jobFormat(job Job) (domain.Format, error) {
	if job.Format != "" {
		return domain.ParseFormat(job.Format)
	}
	return domain.FormatFromPath(job.Path)
}

// permanent reports whether retrying the same bytes can ever succeed.
func permanent(err error) bool {
	return errors.Is(err, domain.ErrUnsupportedFormat) ||
		errors.Is(err, domain.ErrParseFailure) ||
		errors.Is(err, domain.ErrEmptyCorpus) ||
		errors.Is(err, domain.ErrDimensionMismatch)
}
