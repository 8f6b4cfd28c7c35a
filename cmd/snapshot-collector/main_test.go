package main

import (
	"strings"
	"testing"
)

const sampleScrape = `# HELP support_ingest_total Documents ingested by outcome.
# TYPE support_ingest_total counter
support_ingest_total{result="hit"} 12
support_ingest_total{result="miss"} 5
support_ingest_total{result="fail"} 1
# TYPE support_queries_total counter
support_queries_total{route="standard"} 40
support_queries_total{route="empathetic"} 7
support_queries_total{route="escalate"} 3
support_triage_fallbacks_total 2
support_generation_failures_total 1
support_api_http_requests_total{method="POST",status="200"} 49
support_ingest_seconds_sum 4.2
support_ingest_seconds_count 18
`

func TestBuildSnapshot(t *testing.T) {
	s := buildSnapshot(parseMetrics(strings.NewReader(sampleScrape)))

	if s.IngestByResult["hit"] != 12 || s.IngestByResult["miss"] != 5 || s.IngestByResult["fail"] != 1 {
		t.Errorf("ingest = %+v", s.IngestByResult)
	}
	if s.QueriesByRoute["standard"] != 40 || s.QueriesByRoute["escalate"] != 3 {
		t.Errorf("queries = %+v", s.QueriesByRoute)
	}
	if s.TriageFallbacks != 2 || s.GenerationFailures != 1 {
		t.Errorf("fallbacks=%d failures=%d", s.TriageFallbacks, s.GenerationFailures)
	}
	if s.HTTPByStatus["200"] != 49 {
		t.Errorf("http = %+v", s.HTTPByStatus)
	}
}

func TestComputeDelta(t *testing.T) {
	prev := buildSnapshot(parseMetrics(strings.NewReader(sampleScrape)))
	current := buildSnapshot(parseMetrics(strings.NewReader(strings.ReplaceAll(
		sampleScrape, `support_queries_total{route="standard"} 40`, `support_queries_total{route="standard"} 45`))))

	d := computeDelta(current, prev)
	if d.NewQueries != 5 {
		t.Errorf("NewQueries = %d, want 5", d.NewQueries)
	}
	if d.QueriesByRoute["standard"] != 5 || d.QueriesByRoute["empathetic"] != 0 {
		t.Errorf("by route = %+v", d.QueriesByRoute)
	}
	if d.NewDocuments != 0 || d.NewFailures != 0 {
		t.Errorf("delta = %+v", d)
	}
}

func TestLabelValue(t *testing.T) {
	series := `support_api_http_requests_total{method="POST",status="200"}`
	if got := labelValue(series, "status"); got != "200" {
		t.Errorf("status = %q", got)
	}
	if got := labelValue(series, "method"); got != "POST" {
		t.Errorf("method = %q", got)
	}
	if got := labelValue(series, "route"); got != "" {
		t.Errorf("route = %q, want empty", got)
	}
}
