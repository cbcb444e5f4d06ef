// Package backup backs up and restores a PostgreSQL datastore.
//
// A Manager writes three kinds of artifact into the backup directory:
//
//   - SQL dumps (.sql), produced by pg_dump or, when that fails, by the
//     logical dump engine in internal/dump
//   - structured snapshots (.json), restorable without psql
//   - full-system archives (.tar.gz, .tar.zst, .tar.lz4) bundling a dump,
//     a snapshot, upload directories, config files and a manifest
//
// Artifacts are written through a partial file and renamed once complete.
// The pointer files latest-backup, latest-full-backup and last-restore hold
// the absolute path of the most recent artifact of each kind.
//
// Every restore requires an explicit force flag and takes a safety backup
// before the datastore is touched:
//
//	manager, err := backup.NewManager(backup.Options{Database: dbConfig, Backup: backupConfig})
//	if err != nil {
//		return err
//	}
//	defer manager.Close()
//
//	result, err := manager.Restore(ctx, backup.RestoreOptions{Force: true})
package backup
