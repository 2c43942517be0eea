package db

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-leveldb/pkg/compress"
)

// Common sentinel errors
var (
	// ErrNotFound reports logical absence: the key was never written or
	// its newest visible entry is a deletion.
	ErrNotFound = errors.New("key not found")

	// ErrCorruption reports damaged on-disk state: checksum mismatches,
	// truncated records away from the log tail, bad magic numbers, or a
	// MANIFEST referencing missing files.
	ErrCorruption = errors.New("corruption detected")

	// ErrClosed reports an operation on a closed database.
	ErrClosed = errors.New("database is closed")

	// ErrInvalidArgument reports malformed input; Write returns it for a
	// nil batch. A batch whose contents fail to decode is reported as
	// ErrCorruption.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrExists is returned by Open with ErrorIfExists set when the
	// database directory already holds a database.
	ErrExists = errors.New("database already exists")

	// ErrMissing is returned by Open without CreateIfMissing when no
	// database exists at the path.
	ErrMissing = errors.New("database does not exist")

	// ErrNotSupported reports a block whose compression tag has no
	// registered compressor. The read of that block fails; the rest of
	// the database stays usable.
	ErrNotSupported = compress.ErrUnknownTag
)

// EngineError provides structured error information for engine
// operations.
type EngineError struct {
	Op    string // Operation that failed (e.g., "Get", "CompactRange")
	File  string // File involved, when relevant
	Cause error  // Underlying error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.File, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches this error or its cause.
func (e *EngineError) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}

func opErr(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &EngineError{Op: op, Cause: cause}
}

func fileErr(op, file string, cause error) error {
	if cause == nil {
		return nil
	}
	return &EngineError{Op: op, File: file, Cause: cause}
}

func corruption(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruption, fmt.Sprintf(format, args...))
}
