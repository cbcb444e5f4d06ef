package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "dbvault/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validManifest() *Manifest {
	m := NewManifest("weekly", CompressionTypeGzip, testNow)
	m.Included = []string{DumpEntry, SnapshotEntry, "uploads/avatars"}
	m.Uploads = []string{"avatars"}
	m.Checksums[DumpEntry] = "aa"
	return m
}

func TestManifest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Manifest)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Manifest) {}},
		{name: "snapshot only", mutate: func(m *Manifest) {
			m.Included = []string{SnapshotEntry}
			m.Checksums = map[string]string{}
		}},
		{name: "future version", mutate: func(m *Manifest) { m.FormatVersion = ManifestVersion + 1 }, wantErr: true},
		{name: "no creation time", mutate: func(m *Manifest) { m.CreatedAt = time.Time{} }, wantErr: true},
		{name: "escaping entry", mutate: func(m *Manifest) { m.Included = append(m.Included, "../../etc/passwd") }, wantErr: true},
		{name: "absolute entry", mutate: func(m *Manifest) { m.Included = append(m.Included, "/etc/passwd") }, wantErr: true},
		{name: "checksum for missing entry", mutate: func(m *Manifest) { m.Checksums["config/app.yaml"] = "bb" }, wantErr: true},
		{name: "no database files", mutate: func(m *Manifest) {
			m.Included = []string{"uploads/avatars"}
			m.Checksums = map[string]string{}
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest()
			tt.mutate(m)
			err := m.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrorTypeArchive, apperrors.GetErrorType(err))
		})
	}
}

func TestManifest_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta", "manifest.json")
	m := validManifest()

	require.NoError(t, m.WriteFile(path))

	got, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m.Included, got.Included)
	assert.Equal(t, m.Checksums, got.Checksums)
	assert.Equal(t, ChecksumBlake2b, got.ChecksumAlgorithm)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
}

func TestReadManifest_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadManifest(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeArchive, apperrors.GetErrorType(err))

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{"), 0644))
	_, err = ReadManifest(garbage)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeArchive, apperrors.GetErrorType(err))
}

func TestManifest_VerifyChecksums(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, DatabaseDir), 0755))
	dumpPath := filepath.Join(root, filepath.FromSlash(DumpEntry))
	require.NoError(t, os.WriteFile(dumpPath, []byte("SELECT 1;"), 0644))

	sum, err := FileChecksum(dumpPath)
	require.NoError(t, err)
	assert.Len(t, sum, 64)

	m := NewManifest("weekly", CompressionTypeGzip, testNow)
	m.Included = []string{DumpEntry}
	m.Checksums[DumpEntry] = sum
	assert.NoError(t, m.VerifyChecksums(root))

	require.NoError(t, os.WriteFile(dumpPath, []byte("SELECT 2;"), 0644))
	err = m.VerifyChecksums(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch for database/dump.sql")

	require.NoError(t, os.Remove(dumpPath))
	assert.Error(t, m.VerifyChecksums(root))
}

func TestIsSafeEntry(t *testing.T) {
	for _, entry := range []string{DumpEntry, "uploads/avatars", "config/.env"} {
		assert.True(t, isSafeEntry(entry), entry)
	}
	for _, entry := range []string{"", ".", "..", "../x", "a/../../x", "/abs", `a\b`, "a//b", "a/"} {
		assert.False(t, isSafeEntry(entry), entry)
	}
}
