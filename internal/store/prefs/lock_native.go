//go:build !js && !wasip1

package prefs

import "github.com/gofrs/flock"

// fileLock is an advisory lock on a sidecar file, shared between processes.
type fileLock struct {
	fl *flock.Flock
}

func newFileLock(path string) *fileLock {
	return &fileLock{fl: flock.New(path)}
}

func (l *fileLock) lock() error   { return l.fl.Lock() }
func (l *fileLock) rlock() error  { return l.fl.RLock() }
func (l *fileLock) unlock() error { return l.fl.Unlock() }
