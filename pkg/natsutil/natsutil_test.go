package natsutil

import (
	"testing"

	"github.com/nats-io/nats.go"
)

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}

	keys := carrier.Keys()
	if len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestNatsHeaderCarrierNilHeader(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}
}

func TestRetries(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "no header", header: "", want: 0},
		{name: "zero", header: "0", want: 0},
		{name: "count", header: "2", want: 2},
		{name: "malformed", header: "twice", want: 0},
		{name: "negative", header: "-1", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := nats.NewMsg("jobs")
			if tt.header != "" {
				msg.Header.Set(RetryHeader, tt.header)
			}
			if got := Retries(msg); got != tt.want {
				t.Errorf("Retries = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRetriesBareMsg(t *testing.T) {
	if got := Retries(&nats.Msg{}); got != 0 {
		t.Fatalf("Retries on bare msg = %d, want 0", got)
	}
}

func TestExtractReturnsContext(t *testing.T) {
	msg := nats.NewMsg("jobs")
	if ctx := Extract(msg); ctx == nil {
		t.Fatal("Extract returned nil context")
	}
}
