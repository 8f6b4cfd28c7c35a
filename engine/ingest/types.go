package ingest

// NATS subjects and consumer settings for bulk ingestion.
const (
	// JobsSubject carries ingestion jobs to the worker queue group.
	JobsSubject = "support.ingest.jobs"
	// DoneSubject carries completion events.
	DoneSubject = "support.ingest.done"
	// DLQSubject receives jobs that failed permanently or exhausted retries.
	DLQSubject = "support.ingest.dlq"
	// QueueGroup load-balances jobs across worker processes.
	QueueGroup = "ingest-workers"
	// MaxRetries before a failing job goes to the DLQ.
	MaxRetries = 3
	// EmbedBatchSize is the number of chunk texts per embedding request.
	EmbedBatchSize = 32
)

// Job is one bulk-ingestion work item: a document on a filesystem reachable
// by the worker.
type Job struct {
	Path string `json:"path"`
	// Format overrides extension-based detection when set ("pdf", "docx",
	// "txt").
	Format string `json:"format,omitempty"`
}

// Event reports a completed ingestion on DoneSubject.
type Event struct {
	Identity string `json:"identity"`
	Path     string `json:"path,omitempty"`
	Chunks   int    `json:"chunks"`
}

// DLQMessage carries a dead job and its terminal error.
type DLQMessage struct {
	Job     Job    `json:"job"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}
