package config

import (
	"os"
	"path/filepath"
	"sort"
)

// Health states for individual checks and the overall report
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ToolProbe reports whether an external binary can be executed
type ToolProbe interface {
	Available(binary string) bool
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	OverallHealth   string            `json:"overall_health" yaml:"overall_health"`
	ComponentStatus map[string]string `json:"component_status" yaml:"component_status"`
	Issues          []string          `json:"issues" yaml:"issues"`
}

// RunHealthCheck checks that backups can run with config. Missing native
// tools only degrade the result because the logical engine covers them.
func RunHealthCheck(config *Config, tools ToolProbe) *HealthCheckResult {
	result := &HealthCheckResult{
		OverallHealth:   StatusHealthy,
		ComponentStatus: make(map[string]string),
	}

	if err := config.Validate(); err != nil {
		result.fail("configuration", StatusUnhealthy, "Configuration validation failed: "+err.Error())
	} else {
		result.ComponentStatus["configuration"] = StatusHealthy
	}

	if err := config.Database.Validate(); err != nil {
		result.fail("connection_string", StatusUnhealthy, "No database connection string is configured")
	} else {
		result.ComponentStatus["connection_string"] = StatusHealthy
	}

	if err := checkWritable(config.Backup.Directory); err != nil {
		result.fail("backup_directory", StatusUnhealthy, "Backup directory is not writable: "+err.Error())
	} else {
		result.ComponentStatus["backup_directory"] = StatusHealthy
	}

	for name, binary := range map[string]string{"pg_dump": config.Database.PgDumpPath, "psql": config.Database.PsqlPath} {
		if tools != nil && tools.Available(binary) {
			result.ComponentStatus[name] = StatusHealthy
			continue
		}
		result.fail(name, StatusDegraded, name+" not found, the logical engine will be used instead")
	}

	sort.Strings(result.Issues)
	return result
}

func (r *HealthCheckResult) fail(component, status, issue string) {
	r.ComponentStatus[component] = status
	r.Issues = append(r.Issues, issue)
	if status == StatusUnhealthy || r.OverallHealth == StatusHealthy {
		r.OverallHealth = status
	}
}

// checkWritable creates the directory if needed and probes write access
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".permission_test")
	if err := os.WriteFile(probe, []byte("test"), 0644); err != nil {
		return err
	}
	return os.Remove(probe)
}
