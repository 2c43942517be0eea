package logging

import (
	"fmt"
	"os"
)

// OpenInfoLog opens the database's human-readable LOG file, rotating any
// existing one to LOG.old first. The returned close function releases
// the underlying file.
func OpenInfoLog(logPath, oldLogPath string, level Level) (Logger, func() error, error) {
	if _, err := os.Stat(logPath); err == nil {
		// Best effort: a failed rotation just appends to the old LOG.
		os.Remove(oldLogPath)
		os.Rename(logPath, oldLogPath)
	}
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open info log: %w", err)
	}
	return NewJSONLogger(f, level), f.Close, nil
}
