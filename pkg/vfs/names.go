package vfs

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// FileType classifies the files living in a database directory.
type FileType int

const (
	TypeCurrent FileType = iota
	TypeLock
	TypeLog
	TypeManifest
	TypeTable
	TypeTemp
	TypeInfoLog
)

// Fixed file names within a database directory.
const (
	CurrentName = "CURRENT"
	LockName    = "LOCK"
	InfoLogName = "LOG"
	OldInfoLog  = "LOG.old"
)

// LogFileName returns the path of WAL number num.
func LogFileName(dir string, num uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.log", num))
}

// TableFileName returns the path of table number num with the modern
// extension.
func TableFileName(dir string, num uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.ldb", num))
}

// SSTTableFileName is the legacy table extension, accepted on read.
func SSTTableFileName(dir string, num uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.sst", num))
}

// ManifestFileName returns the path of MANIFEST number num.
func ManifestFileName(dir string, num uint64) string {
	return filepath.Join(dir, fmt.Sprintf("MANIFEST-%06d", num))
}

// TempFileName returns a scratch file path for table construction.
func TempFileName(dir string, num uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.dbtmp", num))
}

// CurrentFileName returns the CURRENT pointer path.
func CurrentFileName(dir string) string {
	return filepath.Join(dir, CurrentName)
}

// LockFileName returns the LOCK sentinel path.
func LockFileName(dir string) string {
	return filepath.Join(dir, LockName)
}

// InfoLogFileName returns the human-readable log path.
func InfoLogFileName(dir string) string {
	return filepath.Join(dir, InfoLogName)
}

// OldInfoLogFileName returns the rotated human-readable log path.
func OldInfoLogFileName(dir string) string {
	return filepath.Join(dir, OldInfoLog)
}

// ParseFileName classifies a bare file name (no directory). ok is false
// for names that are not part of the database format.
func ParseFileName(name string) (ft FileType, num uint64, ok bool) {
	switch name {
	case CurrentName:
		return TypeCurrent, 0, true
	case LockName:
		return TypeLock, 0, true
	case InfoLogName, OldInfoLog:
		return TypeInfoLog, 0, true
	}
	if rest, found := strings.CutPrefix(name, "MANIFEST-"); found {
		n, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		return TypeManifest, n, true
	}
	i := strings.IndexByte(name, '.')
	if i <= 0 {
		return 0, 0, false
	}
	n, err := strconv.ParseUint(name[:i], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	switch name[i:] {
	case ".log":
		return TypeLog, n, true
	case ".ldb", ".sst":
		return TypeTable, n, true
	case ".dbtmp":
		return TypeTemp, n, true
	}
	return 0, 0, false
}

// SetCurrentFile atomically points CURRENT at MANIFEST number num.
func SetCurrentFile(fs FS, dir string, num uint64) error {
	manifest := filepath.Base(ManifestFileName(dir, num))
	return fs.WriteFile(CurrentFileName(dir), []byte(manifest+"\n"))
}

// ReadCurrentFile returns the manifest name CURRENT points to.
func ReadCurrentFile(fs FS, dir string) (string, error) {
	data, err := fs.ReadFile(CurrentFileName(dir))
	if err != nil {
		return "", err
	}
	name := strings.TrimSuffix(string(data), "\n")
	if name == "" || strings.ContainsAny(name, "/\\\n") {
		return "", fmt.Errorf("CURRENT file is malformed: %q", data)
	}
	return name, nil
}
