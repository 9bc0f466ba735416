//go:build js || wasip1

package prefs

// fileLock is a no-op: a js/wasip1 program is the only writer of its files.
type fileLock struct{}

func newFileLock(string) *fileLock { return &fileLock{} }

func (*fileLock) lock() error   { return nil }
func (*fileLock) rlock() error  { return nil }
func (*fileLock) unlock() error { return nil }
