package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a stored submission.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusDecided   Status = "decided"
)

// Submission is the authoritative record for one exemption request. Payload
// holds the merged client document: the original application plus any
// later decision fields.
type Submission struct {
	ID        string         `json:"submissionId"`
	Source    Source         `json:"source"`
	Status    Status         `json:"status"`
	Payload   map[string]any `json:"payload"`
	Revision  int            `json:"revision"`
	CreatedAt string         `json:"createdAt"`
	UpdatedAt string         `json:"updatedAt"`
	DecidedAt string         `json:"decidedAt,omitempty"`
}

// Revise folds an incoming payload into existing (which may be nil) and
// returns the record to persist. Incoming fields win over stored ones.
func Revise(existing *Submission, app *Application, payload map[string]any, now time.Time) *Submission {
	ts := now.UTC().Format(time.RFC3339)
	sub := &Submission{
		ID:        app.Meta.SubmissionID,
		Source:    app.Meta.Source,
		Status:    StatusSubmitted,
		Payload:   ClonePayload(payload),
		Revision:  1,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if existing != nil {
		sub.Payload = MergePayload(existing.Payload, payload)
		sub.Revision = existing.Revision + 1
		sub.CreatedAt = existing.CreatedAt
		sub.Status = existing.Status
		sub.DecidedAt = existing.DecidedAt
	}
	if app.IsDecision() {
		sub.Status = StatusDecided
		sub.DecidedAt = ts
	}
	return sub
}

// Application decodes the stored payload into its typed form.
func (s *Submission) Application() (*Application, error) {
	data, err := json.Marshal(s.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var app Application
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &app, nil
}

// Clone returns a deep copy of s.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	c := *s
	c.Payload = ClonePayload(s.Payload)
	return &c
}
