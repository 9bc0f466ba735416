//go:build !js && !wasip1

package settings

import (
	"settingsd/internal/store"
	boltstore "settingsd/internal/store/bolt"
	sqlitestore "settingsd/internal/store/sqlite"
)

// DefaultBackend is the backend used when none is configured. Desktop and
// server platforms keep settings in the user's preference file.
func DefaultBackend() Backend { return Prefs }

func registerPlatformBackends(r *Registry) {
	r.Register(Bolt, openBolt)
	r.Register(SQLite, openSQLite)
}

func openBolt(opts Options) (store.Store, error) {
	path, err := dataFile(opts, BoltFile)
	if err != nil {
		return nil, err
	}
	return boltstore.Open(path)
}

func openSQLite(opts Options) (store.Store, error) {
	path, err := dataFile(opts, SQLiteFile)
	if err != nil {
		return nil, err
	}
	return sqlitestore.Open(path)
}
