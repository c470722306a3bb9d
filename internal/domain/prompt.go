package domain

import (
	"time"

	"github.com/google/uuid"
)

// Prompt is an immutable generation request. Text and free-form parameters
// may be amended after creation; inputs are identity-defining and never
// change. A prompt exclusively owns its runs (delete cascades).
type Prompt struct {
	ID         string
	Text       string
	Inputs     map[string]string
	Parameters map[string]any
	CreatedAt  time.Time
}

// NewPromptID returns a fresh prefixed prompt identifier.
func NewPromptID() string {
	return "ps_" + uuid.NewString()
}
