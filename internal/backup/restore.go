package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"dbvault/internal/database"
	"dbvault/internal/dump"
	apperrors "dbvault/internal/errors"
)

// RestoreMethod names the path that loaded the datastore
type RestoreMethod string

const (
	MethodSnapshot RestoreMethod = "snapshot"
	MethodNative   RestoreMethod = "native"
	MethodExecutor RestoreMethod = "executor"
)

// RestoreOptions selects the artifact and confirms a destructive restore
type RestoreOptions struct {
	// Path is the artifact to restore; empty means the latest pointer.
	Path  string
	Force bool
}

// RestoreResult reports what a restore did
type RestoreResult struct {
	Source        string        `json:"source" yaml:"source"`
	SafetyBackup  string        `json:"safety_backup" yaml:"safety_backup"`
	Method        RestoreMethod `json:"method" yaml:"method"`
	FilesRestored []string      `json:"files_restored,omitempty" yaml:"files_restored,omitempty"`
}

// databaseSource is what an artifact offers for a database restore
type databaseSource struct {
	Snapshot *dump.Document
	Script   string
}

// PlanDatabaseRestore returns the methods to attempt, in order. A structured
// snapshot is always preferred; a script goes to psql first and to the
// built-in executor only when psql cannot be started.
func PlanDatabaseRestore(hasSnapshot, hasScript bool) []RestoreMethod {
	switch {
	case hasSnapshot:
		return []RestoreMethod{MethodSnapshot}
	case hasScript:
		return []RestoreMethod{MethodNative, MethodExecutor}
	default:
		return nil
	}
}

// Restore replaces the datastore contents with a SQL dump or structured
// snapshot. A pre-restore backup is always taken first.
func (m *Manager) Restore(ctx context.Context, opts RestoreOptions) (result *RestoreResult, err error) {
	if !opts.Force {
		return nil, apperrors.NewConfirmationRequiredError("restore")
	}

	done := m.audit.LogOperationStart(ctx, "restore", map[string]interface{}{"requested": opts.Path})
	defer func() { done(err, resultDetails(result)) }()

	if err := m.dbConfig.Validate(); err != nil {
		return nil, err
	}

	source, err := m.resolve(opts.Path, PointerLatestBackup)
	if err != nil {
		return nil, err
	}

	kind, ok := m.store.KindOf(source)
	var src databaseSource
	switch {
	case ok && kind == KindSnapshot:
		if src.Snapshot, err = readSnapshot(source); err != nil {
			return nil, err
		}
	case ok && kind == KindSQLDump:
		src.Script = source
	case ok && kind == KindFullArchive:
		return nil, apperrors.NewConfigurationError(
			fmt.Sprintf("%s is a full-system archive", filepath.Base(source)), nil).
			WithUserMessage("Use full-restore for full-system archives.")
	default:
		return nil, apperrors.NewConfigurationError(
			fmt.Sprintf("%s is not a .sql dump or .json snapshot", filepath.Base(source)), nil)
	}

	safety, err := m.Backup(ctx, "pre-restore")
	if err != nil {
		return nil, apperrors.WrapError(err, "safety backup failed, nothing was restored")
	}

	result = &RestoreResult{Source: source, SafetyBackup: safety.Path}
	if result.Method, err = m.restoreDatabase(ctx, src); err != nil {
		return result, err
	}

	if err := m.store.WritePointer(PointerLastRestore, source); err != nil {
		return result, err
	}
	return result, nil
}

// FullRestore restores the datastore and every file tree recorded in a
// full-system archive. A full pre-restore backup is taken first.
func (m *Manager) FullRestore(ctx context.Context, opts RestoreOptions) (result *RestoreResult, err error) {
	if !opts.Force {
		return nil, apperrors.NewConfirmationRequiredError("full-restore")
	}

	done := m.audit.LogOperationStart(ctx, "full_restore", map[string]interface{}{"requested": opts.Path})
	defer func() { done(err, resultDetails(result)) }()

	if err := m.dbConfig.Validate(); err != nil {
		return nil, err
	}

	source, err := m.resolve(opts.Path, PointerLatestFull)
	if err != nil {
		return nil, err
	}

	err = withStaging("dbvault-full-restore-*", func(staging string) error {
		manifest, err := m.extract(source, staging)
		if err != nil {
			return err
		}
		if err := manifest.VerifyChecksums(staging); err != nil {
			return err
		}

		var src databaseSource
		if manifest.Includes(SnapshotEntry) {
			if src.Snapshot, err = readSnapshot(filepath.Join(staging, filepath.FromSlash(SnapshotEntry))); err != nil {
				return err
			}
		} else {
			src.Script = filepath.Join(staging, filepath.FromSlash(DumpEntry))
		}

		safety, _, err := m.FullBackup(ctx, "pre-restore")
		if err != nil {
			return apperrors.WrapError(err, "safety backup failed, nothing was restored")
		}

		result = &RestoreResult{Source: source, SafetyBackup: safety.Path}
		if result.Method, err = m.restoreDatabase(ctx, src); err != nil {
			return err
		}

		result.FilesRestored, err = m.restoreFiles(staging, manifest)
		return err
	})
	if err != nil {
		return result, err
	}

	if err := m.store.WritePointer(PointerLastRestore, source); err != nil {
		return result, err
	}
	return result, nil
}

// resolve returns path if given, otherwise the pointer's target
func (m *Manager) resolve(path, pointer string) (string, error) {
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", apperrors.NewFilesystemError("failed to resolve artifact path", err)
		}
		if !exists(abs) {
			return "", apperrors.NewNotFoundError(fmt.Sprintf("artifact %s does not exist", path), nil)
		}
		return abs, nil
	}

	target, ok, err := m.store.ReadPointer(pointer)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperrors.NewNotFoundError(
			fmt.Sprintf("no artifact given and %s does not point to an existing backup", pointer), nil)
	}
	return target, nil
}

// restoreDatabase walks the restore plan until one method succeeds or one
// fails for a reason other than a missing binary.
func (m *Manager) restoreDatabase(ctx context.Context, src databaseSource) (RestoreMethod, error) {
	plan := PlanDatabaseRestore(src.Snapshot != nil, src.Script != "")
	if len(plan) == 0 {
		return "", apperrors.NewArchiveError("artifact contains nothing to restore", nil)
	}

	for _, method := range plan {
		var err error
		switch method {
		case MethodSnapshot:
			err = m.loadSnapshot(ctx, src.Snapshot)
		case MethodNative:
			err = m.tools.Apply(ctx, m.dbConfig, src.Script)
			if err != nil && database.IsToolMissing(err) {
				m.logger.WithContext(ctx).WithField("error", err.Error()).Warn("psql unavailable, executing script directly")
				continue
			}
		case MethodExecutor:
			err = m.executeScript(ctx, src.Script)
		}

		if err != nil {
			return method, err
		}
		m.logger.WithContext(ctx).WithField("method", string(method)).Info("Database restored")
		return method, nil
	}

	return "", apperrors.NewArchiveError("no restore method succeeded", nil)
}

func (m *Manager) loadSnapshot(ctx context.Context, doc *dump.Document) error {
	db, err := m.conn(ctx)
	if err != nil {
		return err
	}
	return m.snapshots.Load(ctx, db, doc)
}

// executeScript sends the whole script as one simple-protocol Exec. The
// script's own BEGIN/COMMIT make it atomic.
func (m *Manager) executeScript(ctx context.Context, path string) error {
	script, err := os.ReadFile(path)
	if err != nil {
		return apperrors.NewFilesystemError("failed to read restore script", err)
	}

	db, err := m.conn(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, string(script)); err != nil {
		return apperrors.NewQueryError("restore script failed", err)
	}
	return nil
}

// restoreFiles replaces every upload directory and config file the archive
// holds. Paths the archive does not hold are left untouched.
func (m *Manager) restoreFiles(staging string, manifest *Manifest) ([]string, error) {
	var restored []string

	for _, name := range manifest.Uploads {
		target, ok := m.config.UploadPath(name)
		if !ok {
			m.logger.WithField("upload", name).Warn("Archive upload source is not configured, skipping")
			continue
		}
		if err := replacePath(filepath.Join(staging, UploadsDir, name), target); err != nil {
			return restored, apperrors.NewFilesystemError(fmt.Sprintf("failed to restore upload %s", name), err)
		}
		restored = append(restored, target)
	}

	for _, base := range manifest.ConfigFiles {
		target, ok := m.config.ConfigFilePath(base)
		if !ok {
			m.logger.WithField("config_file", base).Warn("Archive config file is not in the allow-list, skipping")
			continue
		}
		if err := replacePath(filepath.Join(staging, ConfigDir, base), target); err != nil {
			return restored, apperrors.NewFilesystemError(fmt.Sprintf("failed to restore config file %s", base), err)
		}
		restored = append(restored, target)
	}

	return restored, nil
}

func readSnapshot(path string) (*dump.Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewFilesystemError("failed to open snapshot", err)
	}
	defer file.Close()

	return dump.Decode(file)
}

func resultDetails(result *RestoreResult) map[string]interface{} {
	if result == nil {
		return nil
	}
	return map[string]interface{}{
		"source":        result.Source,
		"safety_backup": result.SafetyBackup,
		"method":        string(result.Method),
	}
}
