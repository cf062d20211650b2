package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/BaSui01/nodeflow/nodes"
)

// DefaultPreviewLength bounds the data preview of a log entry.
const DefaultPreviewLength = 500

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	StatusPending ExecutionStatus = "pending"
	StatusRunning ExecutionStatus = "running"
	StatusSuccess ExecutionStatus = "success"
	StatusError   ExecutionStatus = "error"
)

// IsTerminal reports whether no further updates are allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

// LogStatus is the outcome of one node.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogError   LogStatus = "error"
)

// NodeLogEntry is the terminal log line of one node invocation.
type NodeLogEntry struct {
	NodeID    string    `json:"node_id"`
	NodeName  string    `json:"node_name"`
	NodeType  string    `json:"node_type"`
	Status    LogStatus `json:"status"`
	Message   string    `json:"message"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionResult is the record of one run.
type ExecutionResult struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	Logs        []NodeLogEntry  `json:"logs"`
	FinalData   any             `json:"final_data,omitempty"`
	Error       string          `json:"error,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// Clone returns a copy whose log slice is independent of r.
func (r *ExecutionResult) Clone() *ExecutionResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Logs = append([]NodeLogEntry(nil), r.Logs...)
	out.FinalData = deepCopy(r.FinalData)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}

// RecordPatch is a partial update. Zero-valued fields are left unchanged;
// Logs replaces the stored log slice when non-nil.
type RecordPatch struct {
	Status     ExecutionStatus
	Logs       []NodeLogEntry
	FinalData  any
	Error      string
	FinishedAt *time.Time
}

// Apply merges the patch into r.
func (p RecordPatch) Apply(r *ExecutionResult) {
	if p.Status != "" {
		r.Status = p.Status
	}
	if p.Logs != nil {
		r.Logs = append([]NodeLogEntry(nil), p.Logs...)
	}
	if p.FinalData != nil {
		r.FinalData = p.FinalData
	}
	if p.Error != "" {
		r.Error = p.Error
	}
	if p.FinishedAt != nil {
		t := p.FinishedAt.UTC()
		r.FinishedAt = &t
		r.Timestamp = t
	}
}

var (
	// ErrRecordNotFound is returned by RecordStore.Get and Update for unknown ids.
	ErrRecordNotFound = errors.New("execution record not found")
	// ErrRecordTerminal is returned when updating a record that already reached a terminal status.
	ErrRecordTerminal = errors.New("execution record is terminal")
)

// RecordStore persists execution results keyed by execution id.
type RecordStore interface {
	// Create stores a new record and returns its id. An empty ExecutionID is assigned by the store.
	Create(ctx context.Context, result *ExecutionResult) (string, error)
	// Update applies a partial update. Terminal records reject updates with ErrRecordTerminal.
	Update(ctx context.Context, id string, patch RecordPatch) error
	// Get returns the record or ErrRecordNotFound.
	Get(ctx context.Context, id string) (*ExecutionResult, error)
}

// CredentialResolver returns decrypted credential material for a reference.
type CredentialResolver interface {
	Resolve(ctx context.Context, ref string) (*nodes.Credential, error)
}

// Preview bounds a value for the log: strings are truncated to limit runes,
// maps and slices are JSON-encoded then truncated, scalars are kept.
func Preview(v any, limit int) any {
	if limit <= 0 {
		limit = DefaultPreviewLength
	}
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return truncate(x, limit)
	case bool, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x
	case json.Number:
		return truncate(x.String(), limit)
	case []byte:
		return truncate(string(x), limit)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return truncate(fmt.Sprintf("%v", x), limit)
		}
		return truncate(string(b), limit)
	}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
