//go:build !unix

package vfs

import (
	"os"
)

// LockFile on platforms without flock degrades to an advisory sentinel
// file; single-process use is unaffected.
func (osFS) LockFile(name string) (Lock, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &sentinelLock{f: f}, nil
}

type sentinelLock struct {
	f *os.File
}

func (l *sentinelLock) Unlock() error {
	return l.f.Close()
}
