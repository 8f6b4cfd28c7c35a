//go:build integration

package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
	"github.com/PhantomAgents/phantom-mvp/pkg/natsutil"
)

func natsURL() string {
	if v := os.Getenv("NATS_URL"); v != "" {
		return v
	}
	return nats.DefaultURL
}

func connectNATS(t *testing.T) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(natsURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(func() { nc.Close() })
	return nc
}

func TestConsumer_JobToCompletionEvent(t *testing.T) {
	nc := connectNATS(t)
	p := newTestPipeline(t, &stubEmbedder{}, nil, nil)

	sub, err := StartConsumer(nc, p)
	if err != nil {
		t.Fatalf("StartConsumer: %v", err)
	}
	defer sub.Unsubscribe()

	events := make(chan Event, 1)
	done, err := natsutil.Subscribe(nc, DoneSubject, func(_ context.Context, e Event) {
		events <- e
	})
	if err != nil {
		t.Fatalf("subscribe done: %v", err)
	}
	defer done.Unsubscribe()

	path := filepath.Join(t.TempDir(), "faq.txt")
	data := []byte(testDoc)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := natsutil.Publish(context.Background(), nc, JobsSubject, Job{Path: path}); err != nil {
		t.Fatalf("publish job: %v", err)
	}

	select {
	case e := <-events:
		if e.Identity != domain.HashBytes(data).String() {
			t.Errorf("event identity = %s, want content hash", e.Identity)
		}
		if e.Chunks == 0 {
			t.Error("event reports zero chunks")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no completion event")
	}
}

func TestConsumer_PermanentFailureGoesToDLQ(t *testing.T) {
	nc := connectNATS(t)
	p := newTestPipeline(t, &stubEmbedder{}, nil, nil)

	sub, err := StartConsumer(nc, p)
	if err != nil {
		t.Fatalf("StartConsumer: %v", err)
	}
	defer sub.Unsubscribe()

	dead := make(chan DLQMessage, 1)
	dlq, err := nc.Subscribe(DLQSubject, func(msg *nats.Msg) {
		var m DLQMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			t.Errorf("unmarshal DLQ message: %v", err)
			return
		}
		dead <- m
	})
	if err != nil {
		t.Fatalf("subscribe dlq: %v", err)
	}
	defer dlq.Unsubscribe()

	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, []byte("  \n\n  "), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := natsutil.Publish(context.Background(), nc, JobsSubject, Job{Path: path}); err != nil {
		t.Fatalf("publish job: %v", err)
	}

	select {
	case m := <-dead:
		if m.Job.Path != path {
			t.Errorf("DLQ job path = %s, want %s", m.Job.Path, path)
		}
		if m.Retries != 1 {
			t.Errorf("DLQ retries = %d, want 1 for a permanent failure", m.Retries)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no DLQ message")
	}
}
