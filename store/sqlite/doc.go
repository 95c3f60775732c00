// Package sqlite provides a file-based checkpoint store on SQLite.
//
// Checkpoints and per-thread heads live in separate tables; the
// compare-and-swap on Save is a conditional UPDATE of the head row inside a
// transaction. Suitable for single-node deployments that need durability
// without an external database.
//
// Basic usage:
//
//	s, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{
//		Path: "./checkpoints.db",
//	})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
package sqlite
