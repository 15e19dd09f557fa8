package types

import (
	"encoding/json"
	"time"
)

// Run is an archived simulation: the summary fields needed to list runs and
// the full artifact as an opaque JSON payload.
type Run struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Errors    []string  `json:"errors,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	// Aborted is set for voyages that stopped at a failed segment.
	Aborted bool            `json:"aborted,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
