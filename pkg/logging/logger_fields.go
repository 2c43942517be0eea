package logging

import (
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Engine-specific field constructors

// Component tags the engine subsystem a message originates from.
func Component(name string) Field {
	return Field{Key: "component", Value: name}
}

// FileNumber tags a table, WAL, or MANIFEST file number.
func FileNumber(num uint64) Field {
	return Field{Key: "file", Value: num}
}

// LevelNum tags an LSM level.
func LevelNum(level int) Field {
	return Field{Key: "level", Value: level}
}

// Sequence tags a sequence number.
func Sequence(seq uint64) Field {
	return Field{Key: "sequence", Value: seq}
}

// Bytes tags a byte quantity.
func Bytes(key string, n int64) Field {
	return Field{Key: key, Value: n}
}

// Latency measures operation duration.
func Latency(d time.Duration) Field {
	return Field{Key: "latency_ms", Value: float64(d.Microseconds()) / 1000.0}
}
