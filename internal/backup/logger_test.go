package backup

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"dbvault/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAuditLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestAuditLogger_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "dbvault.log")
	audit, err := NewAuditLogger(AuditLoggerConfig{
		Logger:        logging.NewNopLogger(),
		AuditLogFile:  path,
		CorrelationID: "run-1",
	})
	require.NoError(t, err)

	done := audit.LogOperationStart(context.Background(), "backup", map[string]interface{}{"label": "nightly"})
	done(nil, map[string]interface{}{"path": "/backups/nightly.sql"})

	failed := audit.LogOperationStart(context.Background(), "restore", nil)
	failed(errors.New("psql exited with status 3"), nil)

	require.NoError(t, audit.Close())

	lines := readAuditLines(t, path)
	require.Len(t, lines, 4)

	assert.Equal(t, "run-1", lines[0]["correlation_id"])
	assert.Equal(t, "backup", lines[0]["operation"])
	assert.Equal(t, "started", lines[0]["result"])

	assert.Equal(t, "completed", lines[1]["result"])
	details := lines[1]["details"].(map[string]interface{})
	assert.Equal(t, "nightly", details["label"])
	assert.Equal(t, "/backups/nightly.sql", details["path"])
	assert.Contains(t, details, "duration")

	assert.Equal(t, "restore", lines[3]["operation"])
	assert.Equal(t, "failed", lines[3]["result"])
	assert.Equal(t, "psql exited with status 3", lines[3]["details"].(map[string]interface{})["error"])
}

func TestAuditLogger_MirrorsToApplicationLog(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelVerbose, Output: &buf, Format: "json"})
	require.NoError(t, err)

	audit, err := NewAuditLogger(AuditLoggerConfig{Logger: logger})
	require.NoError(t, err)
	assert.NotEmpty(t, audit.GetCorrelationID())

	audit.WithCorrelationID("run-2").LogOperationStart(context.Background(), "full_backup", nil)(nil, nil)

	assert.Contains(t, buf.String(), `"correlation_id":"run-2"`)
	assert.Contains(t, buf.String(), "Backup operation completed")
	assert.NoError(t, audit.Close())
}
