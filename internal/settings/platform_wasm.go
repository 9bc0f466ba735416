//go:build js || wasip1

package settings

// DefaultBackend is the backend used when none is configured. WebAssembly
// hosts give no guaranteed persistent filesystem, so settings stay in memory.
func DefaultBackend() Backend { return Memory }

// bbolt and the SQLite driver do not build for WebAssembly.
func registerPlatformBackends(*Registry) {}
