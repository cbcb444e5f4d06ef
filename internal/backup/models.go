package backup

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	apperrors "dbvault/internal/errors"

	"golang.org/x/crypto/blake2b"
)

// ManifestVersion is the manifest layout written by this build
const ManifestVersion = 1

// Archive layout
const (
	DatabaseDir      = "database"
	UploadsDir       = "uploads"
	ConfigDir        = "config"
	DumpEntry        = "database/dump.sql"
	SnapshotEntry    = "database/snapshot.json"
	ManifestEntry    = "meta/manifest.json"
	ChecksumBlake2b  = "blake2b-256"
	manifestFileMode = 0644
)

// Manifest lists exactly what a full-system archive contains
type Manifest struct {
	FormatVersion int             `json:"formatVersion" yaml:"formatVersion"`
	CreatedAt     time.Time       `json:"createdAt" yaml:"createdAt"`
	Label         string          `json:"label" yaml:"label"`
	Compression   CompressionType `json:"compression" yaml:"compression"`
	// Included holds archive-relative paths, slash separated.
	Included    []string `json:"included" yaml:"included"`
	Uploads     []string `json:"uploads" yaml:"uploads"`
	ConfigFiles []string `json:"configFiles" yaml:"configFiles"`
	// Checksums maps database file entries to their digests.
	Checksums         map[string]string `json:"checksums" yaml:"checksums"`
	ChecksumAlgorithm string            `json:"checksumAlgorithm" yaml:"checksumAlgorithm"`
}

// NewManifest creates an empty manifest
func NewManifest(label string, compression CompressionType, createdAt time.Time) *Manifest {
	return &Manifest{
		FormatVersion:     ManifestVersion,
		CreatedAt:         createdAt.UTC(),
		Label:             label,
		Compression:       compression,
		Included:          []string{},
		Uploads:           []string{},
		ConfigFiles:       []string{},
		Checksums:         map[string]string{},
		ChecksumAlgorithm: ChecksumBlake2b,
	}
}

// Includes reports whether entry is listed in the manifest
func (m *Manifest) Includes(entry string) bool {
	for _, included := range m.Included {
		if included == entry {
			return true
		}
	}
	return false
}

// Validate validates the manifest
func (m *Manifest) Validate() error {
	var errors ValidationErrors

	if m.FormatVersion < 1 || m.FormatVersion > ManifestVersion {
		errors.Add("formatVersion", "unsupported manifest version", m.FormatVersion)
	}
	if m.CreatedAt.IsZero() {
		errors.Add("createdAt", "creation time is required", nil)
	}

	for _, entry := range m.Included {
		if !isSafeEntry(entry) {
			errors.Add("included", "path escapes the archive", entry)
		}
	}
	for entry := range m.Checksums {
		if !m.Includes(entry) {
			errors.Add("checksums", "checksum for a path that is not included", entry)
		}
	}
	if !m.Includes(DumpEntry) && !m.Includes(SnapshotEntry) {
		errors.Add("included", "archive contains no database files", nil)
	}

	if errors.HasErrors() {
		return apperrors.NewArchiveError("invalid manifest", errors)
	}
	return nil
}

// VerifyChecksums compares every recorded digest against the files under root
func (m *Manifest) VerifyChecksums(root string) error {
	for entry, want := range m.Checksums {
		got, err := FileChecksum(filepath.Join(root, filepath.FromSlash(entry)))
		if err != nil {
			return apperrors.NewArchiveError(fmt.Sprintf("cannot verify %s", entry), err)
		}
		if got != want {
			return apperrors.NewArchiveError(fmt.Sprintf("checksum mismatch for %s", entry), nil).
				WithContext("expected", want).
				WithContext("actual", got)
		}
	}
	return nil
}

// WriteFile writes the manifest as indented JSON
func (m *Manifest) WriteFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return apperrors.NewArchiveError("failed to encode manifest", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperrors.NewFilesystemError("failed to create manifest directory", err)
	}
	if err := os.WriteFile(path, data, manifestFileMode); err != nil {
		return apperrors.NewFilesystemError("failed to write manifest", err)
	}
	return nil
}

// ReadManifest reads and validates a manifest file
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewArchiveError("archive has no manifest", err)
		}
		return nil, apperrors.NewFilesystemError("failed to read manifest", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, apperrors.NewArchiveError("failed to decode manifest", err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// FileChecksum returns the hex BLAKE2b-256 digest of a file
func FileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// isSafeEntry accepts clean, relative, slash-separated paths inside the archive
func isSafeEntry(entry string) bool {
	if entry == "" || strings.HasPrefix(entry, "/") || strings.Contains(entry, `\`) {
		return false
	}
	cleaned := path.Clean(entry)
	return cleaned == entry && cleaned != "." && cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}
