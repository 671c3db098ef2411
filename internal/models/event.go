package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Audit event kinds.
const (
	EventClientBlocked       = "client_blocked"
	EventClientBlockedManual = "client_blocked_manual"
	EventClientReset         = "client_reset"
	EventCircuitStateChanged = "circuit_state_changed"
)

// AuditEvent records an enforcement decision or an administrative action.
// Subject is the client id or dependency name the event is about.
type AuditEvent struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Subject   string            `json:"subject"`
	Reason    string            `json:"reason,omitempty"`
	Actor     string            `json:"actor,omitempty"`
	Until     time.Time         `json:"until,omitzero"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewAuditEvent creates an event with a fresh id and timestamp.
func NewAuditEvent(kind, subject string) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		Subject:   subject,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now().UTC(),
	}
}

func (e *AuditEvent) Validate() error {
	if e.ID == "" {
		return errors.New("event id cannot be empty")
	}
	if e.Kind == "" {
		return errors.New("event kind cannot be empty")
	}
	if e.Subject == "" {
		return errors.New("event subject cannot be empty")
	}
	if e.CreatedAt.IsZero() {
		return errors.New("event timestamp cannot be empty")
	}
	return nil
}

// EventFilter narrows an event listing. Zero fields match everything.
type EventFilter struct {
	Kind    string
	Subject string
	Limit   int
}

// DefaultEventLimit caps listings that do not specify a limit.
const DefaultEventLimit = 100

// Matches reports whether e passes the kind and subject filters.
func (f EventFilter) Matches(e *AuditEvent) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	return true
}

// EffectiveLimit returns Limit, or DefaultEventLimit when unset.
func (f EventFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultEventLimit
	}
	return f.Limit
}
