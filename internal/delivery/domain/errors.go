package domain

import "errors"

var (
	// ErrJobNotFound is returned when a delivery job cannot be found in the database
	ErrJobNotFound = errors.New("delivery job not found")

	// ErrAlreadyClaimed is returned when the conditional status transition matched no row
	ErrAlreadyClaimed = errors.New("delivery job already claimed or not in expected status")

	// ErrInvalidPayload is returned when a notification fails validation
	ErrInvalidPayload = errors.New("invalid notification payload")

	// ErrInvalidStatus is returned for an unknown status filter
	ErrInvalidStatus = errors.New("invalid delivery status")

	// ErrInvalidCursor is returned for a malformed pagination cursor
	ErrInvalidCursor = errors.New("invalid cursor")
)

// StorageError wraps a database failure. The enclosing unit of work is
// rolled back and the error is surfaced to the caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage error: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage error
func NewStorageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// TransportError wraps a failed send. Temporary failures are retried with
// backoff; permanent ones fail the job immediately.
type TransportError struct {
	Err       error
	Permanent bool
}

func (e *TransportError) Error() string {
	if e.Permanent {
		return "permanent transport error: " + e.Err.Error()
	}
	return "transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a retryable transport error
func NewTransportError(err error) error {
	return &TransportError{Err: err}
}

// NewPermanentTransportError creates a transport error that must not be retried
func NewPermanentTransportError(err error) error {
	return &TransportError{Err: err, Permanent: true}
}

// IsPermanent reports whether err is a permanent TransportError.
func IsPermanent(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Permanent
}
