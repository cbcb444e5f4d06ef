package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"dbvault/internal/database"
	"dbvault/internal/dump"
	apperrors "dbvault/internal/errors"
	"dbvault/internal/logging"
)

// Options wires a Manager to its collaborators
type Options struct {
	Database database.Config
	Backup   Config
	// Connector opens the datastore connection on first use.
	Connector database.DatabaseService
	Tools     database.ToolRunner
	Logger    *logging.Logger
	Audit     *AuditLogger
}

// Manager runs backups and restores against one datastore and one backup directory
type Manager struct {
	dbConfig    database.Config
	config      Config
	connector   database.DatabaseService
	db          *sql.DB
	tools       database.ToolRunner
	store       *LocalStore
	compression *CompressionManager
	logical     *dump.LogicalEngine
	snapshots   *dump.SnapshotEngine
	logger      *logging.Logger
	audit       *AuditLogger
	now         func() time.Time
}

// NewManager creates a backup manager. The database configuration is only
// checked when an operation needs it.
func NewManager(opts Options) (*Manager, error) {
	config := opts.Backup
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	connector := opts.Connector
	if connector == nil {
		connector = database.NewServiceWithLogger(logger)
	}

	tools := opts.Tools
	if tools == nil {
		tools = database.NewNativeTools(logger)
	}

	audit := opts.Audit
	if audit == nil {
		var err error
		if audit, err = NewAuditLogger(AuditLoggerConfig{Logger: logger}); err != nil {
			return nil, err
		}
	}

	m := &Manager{
		dbConfig:    opts.Database,
		config:      config,
		connector:   connector,
		tools:       tools,
		store:       NewLocalStore(config.Directory),
		compression: NewCompressionManager(),
		logical:     dump.NewLogicalEngine(logger),
		snapshots:   dump.NewSnapshotEngine(logger),
		logger:      logger,
		audit:       audit,
		now:         time.Now,
	}
	m.store.now = func() time.Time { return m.now() }
	return m, nil
}

// Close releases the datastore connection if one was opened
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	err := m.connector.Close(m.db)
	m.db = nil
	return err
}

func (m *Manager) conn(ctx context.Context) (*sql.DB, error) {
	if m.db != nil {
		return m.db, nil
	}
	db, err := m.connector.Connect(ctx, m.dbConfig)
	if err != nil {
		return nil, err
	}
	m.db = db
	return db, nil
}

// Backup writes a SQL dump of the datastore and moves the latest-backup
// pointer to it. pg_dump is tried first; any failure falls back to the
// logical dump engine without surfacing the native error.
func (m *Manager) Backup(ctx context.Context, label string) (artifact *Artifact, err error) {
	done := m.audit.LogOperationStart(ctx, "backup", map[string]interface{}{"label": label})
	defer func() {
		details := map[string]interface{}{}
		if artifact != nil {
			details["path"] = artifact.Path
		}
		done(err, details)
	}()

	if err := m.dbConfig.Validate(); err != nil {
		return nil, err
	}
	if err := m.store.EnsureDirectory(); err != nil {
		return nil, err
	}

	path, err := m.store.NewArtifactPath(label, ".sql")
	if err != nil {
		return nil, err
	}

	if err := m.store.WriteAtomic(path, func(partial string) error {
		return m.dumpSQL(ctx, partial)
	}); err != nil {
		return nil, err
	}

	if err := m.store.WritePointer(PointerLatestBackup, path); err != nil {
		return nil, err
	}

	return m.describe(path), nil
}

// dumpSQL writes a plain SQL dump to path
func (m *Manager) dumpSQL(ctx context.Context, path string) error {
	nativeErr := m.tools.Dump(ctx, m.dbConfig, path, database.DumpOptions{})
	if nativeErr == nil {
		return nil
	}
	m.nativeDumpFailed(ctx, path, nativeErr)

	db, err := m.conn(ctx)
	if err != nil {
		return err
	}

	return writeFile(path, func(w io.Writer) error {
		return m.logical.Dump(ctx, db, w)
	})
}

func (m *Manager) nativeDumpFailed(ctx context.Context, path string, err error) {
	m.logger.WithContext(ctx).WithField("error", err.Error()).Warn("Native dump unavailable, using logical dump engine")
	_ = os.Remove(path)
}

// stageDatabase writes the SQL dump and the structured snapshot. Both are
// read inside one transaction whose snapshot is exported to pg_dump, so the
// two files describe the same database state.
func (m *Manager) stageDatabase(ctx context.Context, staging string) error {
	db, err := m.conn(ctx)
	if err != nil {
		return err
	}

	dumpPath := filepath.Join(staging, filepath.FromSlash(DumpEntry))
	snapshotPath := filepath.Join(staging, filepath.FromSlash(SnapshotEntry))

	return dump.ReadOnly(ctx, db, func(catalog *dump.Catalog) error {
		id, err := catalog.ExportSnapshot(ctx)
		if err != nil {
			return err
		}

		if nativeErr := m.tools.Dump(ctx, m.dbConfig, dumpPath, database.DumpOptions{Snapshot: id}); nativeErr != nil {
			m.nativeDumpFailed(ctx, dumpPath, nativeErr)
			if err := writeFile(dumpPath, func(w io.Writer) error {
				return m.logical.DumpCatalog(ctx, catalog, w)
			}); err != nil {
				return err
			}
		}

		doc, err := m.snapshots.CaptureCatalog(ctx, catalog)
		if err != nil {
			return err
		}
		return writeFile(snapshotPath, func(w io.Writer) error { return dump.Encode(w, doc) })
	})
}

// FullBackup bundles a SQL dump, a structured snapshot, the configured
// upload directories and config files into one compressed archive.
func (m *Manager) FullBackup(ctx context.Context, label string) (artifact *Artifact, manifest *Manifest, err error) {
	done := m.audit.LogOperationStart(ctx, "full_backup", map[string]interface{}{"label": label})
	defer func() {
		details := map[string]interface{}{}
		if artifact != nil {
			details["path"] = artifact.Path
		}
		if manifest != nil {
			details["included"] = manifest.Included
		}
		done(err, details)
	}()

	if err := m.dbConfig.Validate(); err != nil {
		return nil, nil, err
	}
	if err := m.store.EnsureDirectory(); err != nil {
		return nil, nil, err
	}

	compressor, err := m.compression.GetCompressor(m.config.Compression)
	if err != nil {
		return nil, nil, apperrors.NewConfigurationError("unsupported compression", err)
	}

	var path string
	err = withStaging("dbvault-full-backup-*", func(staging string) error {
		manifest, err = m.stage(ctx, staging, label)
		if err != nil {
			return err
		}

		path, err = m.store.NewArtifactPath(label, compressor.Extension())
		if err != nil {
			return err
		}

		return m.store.WriteFileAtomic(path, func(w io.Writer) error {
			cw, err := m.compression.NewWriter(w, compressor.GetAlgorithm(), m.config.CompressionLevel)
			if err != nil {
				return apperrors.NewArchiveError("failed to start compression", err)
			}
			if err := packDirectory(staging, cw); err != nil {
				cw.Close()
				return err
			}
			if err := cw.Close(); err != nil {
				return apperrors.NewArchiveError("failed to finish compression", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}

	if err := m.store.WritePointer(PointerLatestFull, path); err != nil {
		return nil, nil, err
	}

	return m.describe(path), manifest, nil
}

// stage assembles the archive tree under staging and writes its manifest
func (m *Manager) stage(ctx context.Context, staging, label string) (*Manifest, error) {
	manifest := NewManifest(label, m.config.Compression, m.now())

	if err := os.MkdirAll(filepath.Join(staging, DatabaseDir), 0755); err != nil {
		return nil, apperrors.NewFilesystemError("failed to prepare staging directory", err)
	}

	if err := m.stageDatabase(ctx, staging); err != nil {
		return nil, err
	}

	for _, entry := range []string{DumpEntry, SnapshotEntry} {
		sum, err := FileChecksum(filepath.Join(staging, filepath.FromSlash(entry)))
		if err != nil {
			return nil, apperrors.NewFilesystemError(fmt.Sprintf("failed to checksum %s", entry), err)
		}
		manifest.Included = append(manifest.Included, entry)
		manifest.Checksums[entry] = sum
	}

	for _, upload := range m.config.Uploads {
		info, err := os.Stat(upload.Path)
		if err != nil || !info.IsDir() {
			m.logger.WithField("upload", upload.Name).Warn("Upload directory not found, skipping")
			continue
		}

		entry := UploadsDir + "/" + upload.Name
		target := filepath.Join(staging, UploadsDir, upload.Name)
		if err := copyTree(upload.Path, target); err != nil {
			m.logger.WithFields(map[string]interface{}{
				"upload": upload.Name,
				"error":  err.Error(),
			}).Warn("Failed to copy upload directory, skipping")
			_ = os.RemoveAll(target)
			continue
		}
		manifest.Included = append(manifest.Included, entry)
		manifest.Uploads = append(manifest.Uploads, upload.Name)
	}

	for _, file := range m.config.ConfigFiles {
		info, err := os.Stat(file)
		if err != nil || !info.Mode().IsRegular() {
			m.logger.WithField("config_file", file).Warn("Config file not found, skipping")
			continue
		}

		base := filepath.Base(file)
		target := filepath.Join(staging, ConfigDir, base)
		if err := copyFile(file, target, info.Mode().Perm()); err != nil {
			m.logger.WithFields(map[string]interface{}{
				"config_file": file,
				"error":       err.Error(),
			}).Warn("Failed to copy config file, skipping")
			_ = os.Remove(target)
			continue
		}
		manifest.Included = append(manifest.Included, ConfigDir+"/"+base)
		manifest.ConfigFiles = append(manifest.ConfigFiles, base)
	}

	if err := manifest.WriteFile(filepath.Join(staging, filepath.FromSlash(ManifestEntry))); err != nil {
		return nil, err
	}
	return manifest, nil
}

// Inspect reads the manifest of an archive without restoring it
func (m *Manager) Inspect(path string) (*Manifest, error) {
	var manifest *Manifest
	err := withStaging("dbvault-inspect-*", func(staging string) error {
		var err error
		manifest, err = m.extract(path, staging)
		return err
	})
	return manifest, err
}

// extract unpacks an archive into dir and returns its validated manifest
func (m *Manager) extract(path, dir string) (*Manifest, error) {
	compressor, err := m.compression.Detect(path)
	if err != nil {
		return nil, apperrors.NewArchiveError("not a full-system archive", err)
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("archive %s does not exist", path), err)
		}
		return nil, apperrors.NewFilesystemError("failed to open archive", err)
	}
	defer file.Close()

	reader, err := compressor.NewReader(file)
	if err != nil {
		return nil, apperrors.NewArchiveError("failed to open compressed stream", err)
	}
	defer reader.Close()

	if err := unpackArchive(reader, dir); err != nil {
		return nil, err
	}

	return ReadManifest(filepath.Join(dir, filepath.FromSlash(ManifestEntry)))
}

func (m *Manager) describe(path string) *Artifact {
	artifact, ok := m.store.Describe(path)
	if !ok {
		kind, _ := m.store.KindOf(path)
		artifact = Artifact{Path: path, Kind: kind, Timestamp: m.now().UTC()}
	}
	if info, err := os.Stat(path); err == nil {
		artifact.Size = info.Size()
	}
	return &artifact
}

func writeFile(path string, fn func(w io.Writer) error) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return apperrors.NewFilesystemError("failed to create file", err)
	}
	if err := fn(file); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return apperrors.NewFilesystemError("failed to close file", err)
	}
	return nil
}
