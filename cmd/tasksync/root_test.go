package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, remoteURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
app:
  name: tasksync-test
database:
  path: %s
remote:
  base_url: %s
  probe_timeout: 1s
sync:
  batch_size: 5
  max_retries: 3
logging:
  level: error
  output: stderr
`, filepath.Join(dir, "data", "tasksync.db"), remoteURL)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, defaultConfigPath, resolveConfigPath(""))

	t.Setenv("CONFIG_PATH", "/etc/tasksync.yaml")
	assert.Equal(t, "/etc/tasksync.yaml", resolveConfigPath(""))
	assert.Equal(t, "custom.yaml", resolveConfigPath("custom.yaml"))
}

func TestProbeCommand(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer remote.Close()

	out, err := runCLI(t, "--config", writeConfig(t, remote.URL), "probe")
	require.NoError(t, err)
	assert.Contains(t, out, "online")
}

func TestProbeCommandOffline(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer remote.Close()

	out, err := runCLI(t, "--config", writeConfig(t, remote.URL), "probe")
	require.Error(t, err)
	assert.Contains(t, out, "offline")
}

func TestStatusCommandEmptyQueue(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer remote.Close()

	out, err := runCLI(t, "--config", writeConfig(t, remote.URL), "status")
	require.NoError(t, err)

	var status statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 0, status.Pending)
	assert.Equal(t, 0, status.Failed)
	assert.Nil(t, status.LastSyncedAt)
	assert.True(t, status.Online)
}

func TestSyncCommandEmptyQueue(t *testing.T) {
	var batches atomic.Int32
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sync/batch" {
			batches.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer remote.Close()

	out, err := runCLI(t, "--config", writeConfig(t, remote.URL), "sync")
	require.NoError(t, err)
	assert.Contains(t, out, `"success": true`)
	assert.Zero(t, batches.Load())
}

func TestRequeueCommandUnknownTask(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer remote.Close()

	_, err := runCLI(t, "--config", writeConfig(t, remote.URL), "requeue", "missing-task")
	require.Error(t, err)
}

func TestRequeueCommandRequiresTaskID(t *testing.T) {
	_, err := runCLI(t, "requeue")
	require.Error(t, err)
}
