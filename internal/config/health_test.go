package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type availableTools map[string]bool

func (p availableTools) Available(binary string) bool { return p[binary] }

func healthyConfig(t *testing.T) *Config {
	config := Default()
	config.Database.URL = "postgres://app@localhost/app"
	config.Backup.Directory = filepath.Join(t.TempDir(), "backups")
	return config
}

func TestRunHealthCheck_Healthy(t *testing.T) {
	result := RunHealthCheck(healthyConfig(t), availableTools{"pg_dump": true, "psql": true})

	assert.Equal(t, StatusHealthy, result.OverallHealth)
	assert.Empty(t, result.Issues)
	assert.Equal(t, StatusHealthy, result.ComponentStatus["backup_directory"])
}

func TestRunHealthCheck_MissingToolsDegrade(t *testing.T) {
	result := RunHealthCheck(healthyConfig(t), availableTools{"pg_dump": true})

	assert.Equal(t, StatusDegraded, result.OverallHealth)
	assert.Equal(t, StatusDegraded, result.ComponentStatus["psql"])
	require.Len(t, result.Issues, 1)
	assert.Contains(t, result.Issues[0], "psql not found")
}

func TestRunHealthCheck_MissingURLIsUnhealthy(t *testing.T) {
	config := healthyConfig(t)
	config.Database.URL = ""

	result := RunHealthCheck(config, nil)

	assert.Equal(t, StatusUnhealthy, result.OverallHealth)
	assert.Equal(t, StatusUnhealthy, result.ComponentStatus["connection_string"])
	assert.Equal(t, StatusDegraded, result.ComponentStatus["pg_dump"])
	assert.Len(t, result.Issues, 3)
}
