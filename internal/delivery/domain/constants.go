package domain

import "strings"

// Status is the lifecycle state of a DeliveryJob.
type Status string

// Delivery job status constants
const (
	StatusPending  Status = "PENDING"
	StatusInFlight Status = "IN_FLIGHT"
	StatusSent     Status = "SENT"
	StatusFailed   Status = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// IsRecoverable reports whether a row in this state must be re-driven after a crash.
func (s Status) IsRecoverable() bool {
	return s == StatusPending || s == StatusInFlight
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInFlight, StatusSent, StatusFailed:
		return true
	}
	return false
}

// ParseStatus converts an API filter value to a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(v))
	if !s.Valid() {
		return "", ErrInvalidStatus
	}
	return s, nil
}
