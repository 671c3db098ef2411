package storage

import (
	"errors"
	"fmt"

	"admission/internal/models"
)

// ErrInvalidEvent is returned when an event fails validation before it is stored.
var ErrInvalidEvent = errors.New("invalid audit event")

func validateEvent(event *models.AuditEvent) error {
	if event == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}
