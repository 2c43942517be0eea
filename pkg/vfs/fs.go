// Package vfs abstracts the filesystem capabilities the engine needs:
// random reads for tables, appendable synced writes for logs, atomic
// rename for CURRENT, directory listing for recovery, and an exclusive
// lock guarding the database directory.
package vfs

import (
	"io"
)

// RandomFile supports positional reads; tables are served from these.
type RandomFile interface {
	io.ReaderAt
	io.Closer
}

// AppendFile supports sequential writes with explicit durability; WALs
// and MANIFESTs are written through these.
type AppendFile interface {
	io.Writer
	// Sync forces written data to stable storage.
	Sync() error
	io.Closer
}

// Lock is a held exclusive lock on the database directory.
type Lock interface {
	// Unlock releases the lock and removes its sentinel state.
	Unlock() error
}

// FS is the filesystem collaborator. Implementations must make Rename
// atomic with respect to crashes, as the MANIFEST switch depends on it.
type FS interface {
	// OpenRandom opens an existing file for positional reads.
	OpenRandom(name string) (RandomFile, error)

	// OpenAppend opens a file for appending, creating it if needed.
	OpenAppend(name string) (AppendFile, error)

	// Create truncates or creates a file for appending.
	Create(name string) (AppendFile, error)

	// ReadFile returns the entire contents of a file.
	ReadFile(name string) ([]byte, error)

	// WriteFile atomically replaces name with data, using a temp file
	// and rename.
	WriteFile(name string, data []byte) error

	// Rename atomically moves oldname over newname.
	Rename(oldname, newname string) error

	// Remove deletes a file.
	Remove(name string) error

	// List returns the names (not paths) of the directory's entries.
	List(dir string) ([]string, error)

	// Size returns a file's length in bytes.
	Size(name string) (int64, error)

	// MkdirAll creates a directory and any missing parents.
	MkdirAll(dir string) error

	// LockFile acquires the exclusive database lock at name, failing if
	// another process holds it.
	LockFile(name string) (Lock, error)
}
