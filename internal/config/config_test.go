package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "procjobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	ctx := context.Background()

	// No config file anywhere near the temp working directory.
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "procjobs.db", cfg.Store.Path)
	assert.Equal(t, 20, cfg.Exec.MaxSyncWait)
	assert.Equal(t, time.Second, cfg.Exec.PollInterval)
	assert.Equal(t, 10, cfg.Paging.DefaultLimit)
	assert.Equal(t, 100, cfg.Paging.MaxLimit)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Processes)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9090
  base_url: https://jobs.example.com
store:
  path: /var/lib/procjobs/jobs.db
exec:
  max_sync_wait: 45
paging:
  default_limit: 25
  max_limit: 200
log_level: debug
processes:
  - id: resample
    sync: true
    async: true
  - id: reproject
    provider: geoserver
    workflow: true
    async: true
`)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://jobs.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "/var/lib/procjobs/jobs.db", cfg.Store.Path)
	assert.Equal(t, 45, cfg.Exec.MaxSyncWait)
	assert.Equal(t, 25, cfg.Paging.DefaultLimit)
	assert.Equal(t, "debug", cfg.LogLevel)

	require.Len(t, cfg.Processes, 2)
	assert.Equal(t, "resample", cfg.Processes[0].ID)
	assert.True(t, cfg.Processes[0].Sync)
	assert.Equal(t, "geoserver", cfg.Processes[1].Provider)
	assert.True(t, cfg.Processes[1].Workflow)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PROCJOBS_SERVER_PORT", "7070")
	t.Setenv("PROCJOBS_LOG_LEVEL", "warn")

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errPart string
	}{
		{
			name:    "port out of range",
			content: "server:\n  port: 70000\n",
			errPart: "port",
		},
		{
			name:    "negative max sync wait",
			content: "exec:\n  max_sync_wait: -1\n",
			errPart: "max_sync_wait",
		},
		{
			name:    "zero default limit",
			content: "paging:\n  default_limit: 0\n",
			errPart: "default_limit",
		},
		{
			name:    "max limit below default",
			content: "paging:\n  default_limit: 50\n  max_limit: 10\n",
			errPart: "max_limit",
		},
		{
			name:    "empty process id",
			content: "processes:\n  - id: \"\"\n",
			errPart: "empty id",
		},
		{
			name:    "duplicate process id",
			content: "processes:\n  - id: resample\n  - id: resample\n",
			errPart: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(context.Background(), path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
