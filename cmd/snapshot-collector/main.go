// Command snapshot-collector scrapes the support API's Prometheus endpoint,
// computes deltas against the previous scrape, and writes JSON files for the
// GitHub Pages dashboard.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Snapshot is the dashboard view of one scrape.
type Snapshot struct {
	Timestamp          time.Time        `json:"timestamp"`
	IngestByResult     map[string]int64 `json:"ingest_by_result"`
	QueriesByRoute     map[string]int64 `json:"queries_by_route"`
	TriageFallbacks    int64            `json:"triage_fallbacks"`
	RetrievalDegraded  int64            `json:"retrieval_degraded"`
	GenerationFailures int64            `json:"generation_failures"`
	HTTPByStatus       map[string]int64 `json:"http_by_status"`
}

// Delta represents changes between two consecutive snapshots.
type Delta struct {
	Timestamp      time.Time        `json:"timestamp"`
	Period         string           `json:"period"`
	NewDocuments   int64            `json:"new_documents"`
	NewQueries     int64            `json:"new_queries"`
	QueriesByRoute map[string]int64 `json:"queries_by_route"`
	NewFallbacks   int64            `json:"new_fallbacks"`
	NewDegraded    int64            `json:"new_degraded"`
	NewFailures    int64            `json:"new_failures"`
}

const maxHistory = 288

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "support API base URL")
	docsDir := flag.String("docs-dir", "docs", "docs directory for output")
	push := flag.Bool("push", false, "git commit and push after update")
	flag.Parse()

	dataDir := filepath.Join(*docsDir, "data")
	os.MkdirAll(dataDir, 0o755)

	latestPath := filepath.Join(dataDir, "metrics-latest.json")
	historyPath := filepath.Join(dataDir, "metrics-history.json")
	prevPath := filepath.Join(dataDir, ".metrics-prev.json")

	// Scrape the Prometheus endpoint
	resp, err := http.Get(*apiURL + "/metrics")
	if err != nil {
		log.Fatalf("fetch metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != 200 {
		log.Fatalf("API returned %d: %s", resp.StatusCode, body)
	}

	current := buildSnapshot(parseMetrics(bytes.NewReader(body)))
	current.Timestamp = time.Now().UTC()

	// Load previous snapshot for delta
	var prev Snapshot
	if data, err := os.ReadFile(prevPath); err == nil {
		json.Unmarshal(data, &prev)
	}

	delta := computeDelta(current, prev)

	// Write latest
	latest, _ := json.MarshalIndent(current, "", "  ")
	if err := os.WriteFile(latestPath, latest, 0o644); err != nil {
		log.Fatalf("write latest: %v", err)
	}

	// Update history
	var history []Delta
	if data, err := os.ReadFile(historyPath); err == nil {
		json.Unmarshal(data, &history)
	}
	history = append(history, delta)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	histData, _ := json.MarshalIndent(history, "", "  ")
	os.WriteFile(historyPath, histData, 0o644)

	// Save current as prev
	os.WriteFile(prevPath, latest, 0o644)

	fmt.Printf("Snapshot collected at %s (docs: %d, queries: %d, failures: %d)\n",
		current.Timestamp.Format(time.RFC3339),
		sum(current.IngestByResult),
		sum(current.QueriesByRoute),
		current.GenerationFailures)
	fmt.Printf("Delta: +%d docs, +%d queries, +%d fallbacks, +%d failures\n",
		delta.NewDocuments, delta.NewQueries, delta.NewFallbacks, delta.NewFailures)

	// Git commit + push
	if *push {
		gitCommitPush(*docsDir)
	}
}

// parseMetrics reads Prometheus text format into series → value. Comments
// are skipped; only counters and gauges matter here.
func parseMetrics(r io.Reader) map[string]int64 {
	out := make(map[string]int64)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 256*1024), 256*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		out[fields[0]] = int64(v)
	}
	return out
}

func buildSnapshot(series map[string]int64) Snapshot {
	s := Snapshot{
		IngestByResult: make(map[string]int64),
		QueriesByRoute: make(map[string]int64),
		HTTPByStatus:   make(map[string]int64),
	}
	for key, v := range series {
		switch seriesName(key) {
		case "support_ingest_total":
			s.IngestByResult[labelValue(key, "result")] += v
		case "support_queries_total":
			s.QueriesByRoute[labelValue(key, "route")] += v
		case "support_triage_fallbacks_total":
			s.TriageFallbacks += v
		case "support_retrieval_degraded_total":
			s.RetrievalDegraded += v
		case "support_generation_failures_total":
			s.GenerationFailures += v
		case "support_api_http_requests_total":
			s.HTTPByStatus[labelValue(key, "status")] += v
		}
	}
	return s
}

func computeDelta(current, prev Snapshot) Delta {
	d := Delta{
		Timestamp:      current.Timestamp,
		Period:         "5m",
		NewDocuments:   sum(current.IngestByResult) - sum(prev.IngestByResult),
		NewQueries:     sum(current.QueriesByRoute) - sum(prev.QueriesByRoute),
		QueriesByRoute: make(map[string]int64),
		NewFallbacks:   current.TriageFallbacks - prev.TriageFallbacks,
		NewDegraded:    current.RetrievalDegraded - prev.RetrievalDegraded,
		NewFailures:    current.GenerationFailures - prev.GenerationFailures,
	}
	for route, v := range current.QueriesByRoute {
		d.QueriesByRoute[route] = v - prev.QueriesByRoute[route]
	}
	return d
}

func seriesName(series string) string {
	if i := strings.IndexByte(series, '{'); i >= 0 {
		return series[:i]
	}
	return series
}

func labelValue(series, label string) string {
	i := strings.Index(series, label+`="`)
	if i < 0 {
		return ""
	}
	rest := series[i+len(label)+2:]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		return ""
	}
	return rest[:j]
}

func sum(m map[string]int64) int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}

func gitCommitPush(docsDir string) {
	cmds := [][]string{
		{"git", "add", filepath.Join(docsDir, "data/")},
		{"git", "commit", "-m", fmt.Sprintf("metrics: snapshot %s", time.Now().UTC().Format("2006-01-02T15:04"))},
		{"git", "push"},
	}
	for _, args := range cmds {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			log.Printf("git %v: %v", args, err)
		}
	}
}
