package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	apperrors "dbvault/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_VerifySnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	snapshot := filepath.Join(t.TempDir(), "notes.json")
	writeNotesSnapshot(t, snapshot)

	report, err := env.manager.Verify(context.Background(), snapshot)
	require.NoError(t, err)

	assert.Equal(t, KindSnapshot, report.Kind)
	assert.Equal(t, 1, report.Tables)
	assert.Equal(t, 1, report.Rows)
	assert.Zero(t, env.connector.connects)
}

func TestManager_VerifySQLDump(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := t.TempDir()

	script := filepath.Join(dir, "nightly.sql")
	require.NoError(t, os.WriteFile(script, []byte("SELECT 1;"), 0644))
	report, err := env.manager.Verify(context.Background(), script)
	require.NoError(t, err)
	assert.Equal(t, KindSQLDump, report.Kind)

	empty := filepath.Join(dir, "empty.sql")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	_, err = env.manager.Verify(context.Background(), empty)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeArchive, apperrors.GetErrorType(err))
}

func TestManager_VerifyErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := t.TempDir()

	_, err := env.manager.Verify(context.Background(), filepath.Join(dir, "missing.sql"))
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0644))
	_, err = env.manager.Verify(context.Background(), other)
	require.Error(t, err)
	assert.True(t, apperrors.IsConfigurationError(err))
}
