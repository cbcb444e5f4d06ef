package backup

import (
	"context"
)

// Orchestrator runs backups and restores against one datastore
type Orchestrator interface {
	Backup(ctx context.Context, label string) (*Artifact, error)
	FullBackup(ctx context.Context, label string) (*Artifact, *Manifest, error)
	Restore(ctx context.Context, opts RestoreOptions) (*RestoreResult, error)
	FullRestore(ctx context.Context, opts RestoreOptions) (*RestoreResult, error)
	Close() error
}

// Catalog lists and examines artifacts without touching the datastore
type Catalog interface {
	List() ([]Artifact, error)
	Pointers() (map[string]string, error)
	Inspect(path string) (*Manifest, error)
	Verify(ctx context.Context, path string) (*VerifyReport, error)
}

// Service is the full surface the command line drives
type Service interface {
	Orchestrator
	Catalog
}

var _ Service = (*Manager)(nil)
