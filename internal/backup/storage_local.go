package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	apperrors "dbvault/internal/errors"
)

// ArtifactKind distinguishes the files a backup run can produce
type ArtifactKind string

const (
	KindSQLDump     ArtifactKind = "sql-dump"
	KindSnapshot    ArtifactKind = "structured-snapshot"
	KindFullArchive ArtifactKind = "full-archive"
)

// Pointer files live in the backup directory and hold one absolute path
const (
	PointerLatestBackup = "latest-backup"
	PointerLatestFull   = "latest-full-backup"
	PointerLastRestore  = "last-restore"
)

// TimestampLayout is the UTC timestamp embedded in artifact names
const TimestampLayout = "20060102T150405.000Z"

const partialSuffix = ".partial"

var (
	labelUnsafe  = regexp.MustCompile(`[^a-z0-9_-]`)
	artifactName = regexp.MustCompile(`^(.*)-(\d{8}T\d{6}\.\d{3}Z)(?:-\d+)?$`)
)

// Artifact is one backup file in the backup directory. It is never modified
// after it has been written.
type Artifact struct {
	Path      string       `json:"path" yaml:"path"`
	Label     string       `json:"label" yaml:"label"`
	Timestamp time.Time    `json:"timestamp" yaml:"timestamp"`
	Kind      ArtifactKind `json:"kind" yaml:"kind"`
	Size      int64        `json:"size" yaml:"size"`
}

// LocalStore names, writes and lists artifacts in the backup directory
type LocalStore struct {
	basePath    string
	permissions os.FileMode
	compression *CompressionManager
	now         func() time.Time
}

// NewLocalStore creates a store rooted at basePath
func NewLocalStore(basePath string) *LocalStore {
	return &LocalStore{
		basePath:    basePath,
		permissions: 0755,
		compression: NewCompressionManager(),
		now:         time.Now,
	}
}

// GetBasePath returns the backup directory
func (ls *LocalStore) GetBasePath() string {
	return ls.basePath
}

// EnsureDirectory creates the backup directory if it doesn't exist
func (ls *LocalStore) EnsureDirectory() error {
	if err := os.MkdirAll(ls.basePath, ls.permissions); err != nil {
		return apperrors.NewFilesystemError(fmt.Sprintf("failed to create backup directory %s", ls.basePath), err)
	}
	return nil
}

// SanitizeLabel makes a label safe for use in a file name
func SanitizeLabel(label string) string {
	sanitized := labelUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(label)), "-")
	if strings.Trim(sanitized, "-") == "" {
		return "backup"
	}
	return sanitized
}

// NewArtifactPath returns an unused path for label with the given extension
func (ls *LocalStore) NewArtifactPath(label, ext string) (string, error) {
	base := fmt.Sprintf("%s-%s", SanitizeLabel(label), ls.now().UTC().Format(TimestampLayout))

	for attempt := 0; attempt < 1000; attempt++ {
		name := base
		if attempt > 0 {
			name = fmt.Sprintf("%s-%d", base, attempt)
		}
		path, err := filepath.Abs(filepath.Join(ls.basePath, name+ext))
		if err != nil {
			return "", apperrors.NewFilesystemError("failed to resolve artifact path", err)
		}
		if !exists(path) && !exists(path+partialSuffix) {
			return path, nil
		}
	}

	return "", apperrors.NewFilesystemError(fmt.Sprintf("no free artifact name for %s", base), nil)
}

// WriteAtomic writes path through a partial file that is renamed only after
// write succeeds. A failed write leaves nothing behind.
func (ls *LocalStore) WriteAtomic(path string, write func(partial string) error) error {
	partial := path + partialSuffix
	_ = os.Remove(partial)

	if err := write(partial); err != nil {
		_ = os.Remove(partial)
		return err
	}

	info, err := os.Stat(partial)
	if err != nil {
		return apperrors.NewFilesystemError("artifact was not written", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(partial)
		return apperrors.NewFilesystemError(fmt.Sprintf("artifact %s is empty", filepath.Base(path)), nil)
	}

	if err := os.Rename(partial, path); err != nil {
		_ = os.Remove(partial)
		return apperrors.NewFilesystemError("failed to finalize artifact", err)
	}
	return nil
}

// WriteFileAtomic streams fn's output into path through a partial file
func (ls *LocalStore) WriteFileAtomic(path string, fn func(w io.Writer) error) error {
	return ls.WriteAtomic(path, func(partial string) error {
		file, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return apperrors.NewFilesystemError("failed to create artifact", err)
		}

		if err := fn(file); err != nil {
			file.Close()
			return err
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return apperrors.NewFilesystemError("failed to sync artifact", err)
		}
		if err := file.Close(); err != nil {
			return apperrors.NewFilesystemError("failed to close artifact", err)
		}
		return nil
	})
}

// WritePointer atomically replaces the named pointer with target's absolute path
func (ls *LocalStore) WritePointer(name, target string) error {
	abs, err := filepath.Abs(target)
	if err != nil {
		return apperrors.NewFilesystemError("failed to resolve pointer target", err)
	}

	tmp, err := os.CreateTemp(ls.basePath, "."+name+"-*")
	if err != nil {
		return apperrors.NewFilesystemError(fmt.Sprintf("failed to create pointer %s", name), err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(abs + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.NewFilesystemError(fmt.Sprintf("failed to write pointer %s", name), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.NewFilesystemError(fmt.Sprintf("failed to write pointer %s", name), err)
	}

	if err := os.Rename(tmpName, filepath.Join(ls.basePath, name)); err != nil {
		os.Remove(tmpName)
		return apperrors.NewFilesystemError(fmt.Sprintf("failed to update pointer %s", name), err)
	}
	return nil
}

// ReadPointer returns the pointer's target. A missing pointer, an empty one,
// or one whose target no longer exists all report ok=false.
func (ls *LocalStore) ReadPointer(name string) (string, bool, error) {
	data, err := os.ReadFile(filepath.Join(ls.basePath, name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, apperrors.NewFilesystemError(fmt.Sprintf("failed to read pointer %s", name), err)
	}

	target := strings.TrimSpace(string(data))
	if target == "" || !exists(target) {
		return "", false, nil
	}
	return target, true, nil
}

// List returns every artifact in the backup directory, oldest first
func (ls *LocalStore) List() ([]Artifact, error) {
	entries, err := os.ReadDir(ls.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewFilesystemError("failed to list backups", err)
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		artifact, ok := ls.Describe(filepath.Join(ls.basePath, entry.Name()))
		if !ok {
			continue
		}
		if info, err := entry.Info(); err == nil {
			artifact.Size = info.Size()
		}
		artifacts = append(artifacts, artifact)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		if !artifacts[i].Timestamp.Equal(artifacts[j].Timestamp) {
			return artifacts[i].Timestamp.Before(artifacts[j].Timestamp)
		}
		return artifacts[i].Path < artifacts[j].Path
	})
	return artifacts, nil
}

// Describe parses an artifact file name. ok is false for files that are not
// finished artifacts.
func (ls *LocalStore) Describe(path string) (Artifact, bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, partialSuffix) {
		return Artifact{}, false
	}

	kind, stem, ok := ls.splitExtension(name)
	if !ok {
		return Artifact{}, false
	}

	match := artifactName.FindStringSubmatch(stem)
	if match == nil {
		return Artifact{}, false
	}
	ts, err := time.Parse(TimestampLayout, match[2])
	if err != nil {
		return Artifact{}, false
	}

	return Artifact{Path: path, Label: match[1], Timestamp: ts, Kind: kind}, true
}

// KindOf classifies a path by its extension
func (ls *LocalStore) KindOf(path string) (ArtifactKind, bool) {
	kind, _, ok := ls.splitExtension(filepath.Base(path))
	return kind, ok
}

func (ls *LocalStore) splitExtension(name string) (ArtifactKind, string, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".sql"):
		return KindSQLDump, name[:len(name)-len(".sql")], true
	case strings.HasSuffix(lower, ".json"):
		return KindSnapshot, name[:len(name)-len(".json")], true
	}

	if compressor, err := ls.compression.Detect(lower); err == nil {
		ext := compressor.Extension()
		if !strings.HasSuffix(lower, ext) {
			ext = ".tgz"
		}
		return KindFullArchive, name[:len(name)-len(ext)], true
	}
	return "", "", false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
