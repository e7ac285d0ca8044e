package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	ErrorTypeTransientRead   ErrorType = "transient_read"
	ErrorTypeNamingCollision ErrorType = "naming_collision"
	ErrorTypeStorageWrite    ErrorType = "storage_write"
	ErrorTypeStorageRead     ErrorType = "storage_read"
	ErrorTypeCorruptState    ErrorType = "corrupt_state"
	ErrorTypeValidation      ErrorType = "validation"
)

// SnapshotError represents an error raised while building, storing or replaying snapshots
type SnapshotError struct {
	Type      ErrorType `json:"type"`
	Op        string    `json:"op"`
	Path      string    `json:"path"`
	Err       error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSnapshotError creates a new SnapshotError with the given parameters
func NewSnapshotError(errorType ErrorType, op, path string, err error) *SnapshotError {
	return &SnapshotError{
		Type:      errorType,
		Op:        op,
		Path:      path,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface for SnapshotError
func (e *SnapshotError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s (path: %s)", e.Type, e.Op, e.Path)
	}
	return fmt.Sprintf("[%s] %s (path: %s): %v", e.Type, e.Op, e.Path, e.Err)
}

func (e *SnapshotError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether the error is absorbed inside a run instead of aborting it
func (e *SnapshotError) Recoverable() bool {
	switch e.Type {
	case ErrorTypeTransientRead, ErrorTypeNamingCollision:
		return true
	default:
		return false
	}
}

// ErrorTypeOf returns the ErrorType of the first SnapshotError in err's chain
func ErrorTypeOf(err error) (ErrorType, bool) {
	var se *SnapshotError
	if errors.As(err, &se) {
		return se.Type, true
	}
	return "", false
}

func isType(err error, t ErrorType) bool {
	got, ok := ErrorTypeOf(err)
	return ok && got == t
}

// IsTransientRead reports whether err is a per-file read failure
func IsTransientRead(err error) bool { return isType(err, ErrorTypeTransientRead) }

// IsNamingCollision reports whether err is a delta-already-exists failure
func IsNamingCollision(err error) bool { return isType(err, ErrorTypeNamingCollision) }

// IsStorageWrite reports whether err is a failed base or delta write
func IsStorageWrite(err error) bool { return isType(err, ErrorTypeStorageWrite) }

// IsCorruptState reports whether err is a base or delta that failed to parse
func IsCorruptState(err error) bool { return isType(err, ErrorTypeCorruptState) }
