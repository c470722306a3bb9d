package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus enumerates execution attempt lifecycle states.
type RunStatus string

const (
	RunStatusPending     RunStatus = "pending"
	RunStatusUploading   RunStatus = "uploading"
	RunStatusRunning     RunStatus = "running"
	RunStatusDownloading RunStatus = "downloading"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusFailed      RunStatus = "failed"
)

// Terminal reports whether s is a final state. Terminal runs are never
// re-checked against the execution backend.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// MaxErrorMessageLen bounds persisted error messages.
const MaxErrorMessageLen = 1000

// Run is one execution attempt of a prompt.
type Run struct {
	ID              string
	PromptID        string
	ModelType       string
	Status          RunStatus
	ExecutionConfig map[string]any
	Outputs         map[string]any
	Metadata        map[string]any
	LogPath         string
	ErrorMessage    string
	// Rating is 1-5, or 0 when unset. Settable on terminal runs for triage.
	Rating      int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewRunID returns a fresh prefixed run identifier.
func NewRunID() string {
	return "rs_" + uuid.NewString()
}

// SetError records an error message, truncated to MaxErrorMessageLen, and
// forces the run into the failed state.
func (r *Run) SetError(msg string) {
	if len(msg) > MaxErrorMessageLen {
		msg = msg[:MaxErrorMessageLen]
	}
	r.ErrorMessage = msg
	r.Status = RunStatusFailed
}

// MarkCompleted transitions the run to completed. CompletedAt is set only
// on the first terminal transition; later calls leave it untouched.
func (r *Run) MarkCompleted(now time.Time) {
	r.Status = RunStatusCompleted
	r.stampCompleted(now)
}

// MarkFailed transitions the run to failed with the given message.
// CompletedAt is set only on the first terminal transition.
func (r *Run) MarkFailed(now time.Time, msg string) {
	r.SetError(msg)
	r.stampCompleted(now)
}

func (r *Run) stampCompleted(now time.Time) {
	if r.CompletedAt == nil {
		t := now
		r.CompletedAt = &t
	}
	r.UpdatedAt = now
}
