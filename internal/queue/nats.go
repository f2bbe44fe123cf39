package queue

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Manager handles NATS connection and messaging
type Manager struct {
	conn    *nats.Conn
	url     string
	options []nats.Option
}

// NewManager creates a new NATS manager
func NewManager(natsURL string) (*Manager, error) {
	options := []nats.Option{
		nats.Name("Gestima"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Println("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(natsURL, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Printf("Connected to NATS at %s", natsURL)

	return &Manager{
		conn:    conn,
		url:     natsURL,
		options: options,
	}, nil
}

// Close closes the NATS connection
func (m *Manager) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
}

// Conn returns the NATS connection
func (m *Manager) Conn() *nats.Conn {
	return m.conn
}

// Publish publishes a message to a subject
func (m *Manager) Publish(subject string, data []byte) error {
	return m.conn.Publish(subject, data)
}

// Subscribe subscribes to a subject with a handler
func (m *Manager) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	return m.conn.Subscribe(subject, handler)
}

// QueueSubscribe creates a queue subscriber (load balanced across workers)
func (m *Manager) QueueSubscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error) {
	return m.conn.QueueSubscribe(subject, queue, handler)
}

// Request sends a request and waits for a response
func (m *Manager) Request(subject string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	return m.conn.Request(subject, data, timeout)
}

// NATS subject patterns.
//
// The SyncScheduler publishes each step's start, complete and error
// events on the sync.step subjects; the SSE handler in internal/api
// subscribes to those and to sync.step.progress and re-broadcasts them
// to connected browsers. The import.job subjects are declared for
// per-job progress, completion and failure; nothing publishes on them.
const (
	SubjectSyncStepStart    = "sync.step.start.%s"    // sync.step.start.{stepName}
	SubjectSyncStepProgress = "sync.step.progress.%s" // sync.step.progress.{stepName}
	SubjectSyncStepComplete = "sync.step.complete.%s" // sync.step.complete.{stepName}
	SubjectSyncStepError    = "sync.step.error.%s"    // sync.step.error.{stepName}

	SubjectImportJobProgress = "import.job.progress.%s" // import.job.progress.{jobID}
	SubjectImportJobComplete = "import.job.complete.%s" // import.job.complete.{jobID}
	SubjectImportJobError    = "import.job.error.%s"    // import.job.error.{jobID}

	QueueGroupSync   = "sync-workers"
	QueueGroupImport = "import-workers"
)

// GetSyncStepStartSubject returns the subject for a sync step's start event.
func GetSyncStepStartSubject(stepName string) string {
	return fmt.Sprintf(SubjectSyncStepStart, stepName)
}

// GetSyncStepProgressSubject returns the subject for a sync step's progress events.
func GetSyncStepProgressSubject(stepName string) string {
	return fmt.Sprintf(SubjectSyncStepProgress, stepName)
}

// GetSyncStepCompleteSubject returns the subject for a sync step's completion event.
func GetSyncStepCompleteSubject(stepName string) string {
	return fmt.Sprintf(SubjectSyncStepComplete, stepName)
}

// GetSyncStepErrorSubject returns the subject for a sync step's failure event.
func GetSyncStepErrorSubject(stepName string) string {
	return fmt.Sprintf(SubjectSyncStepError, stepName)
}

// GetImportJobProgressSubject returns the subject for a document/share
// recovery import job's progress events.
func GetImportJobProgressSubject(jobID string) string {
	return fmt.Sprintf(SubjectImportJobProgress, jobID)
}

// GetImportJobCompleteSubject returns the subject for an import job's completion event.
func GetImportJobCompleteSubject(jobID string) string {
	return fmt.Sprintf(SubjectImportJobComplete, jobID)
}

// GetImportJobErrorSubject returns the subject for an import job's failure event.
func GetImportJobErrorSubject(jobID string) string {
	return fmt.Sprintf(SubjectImportJobError, jobID)
}
