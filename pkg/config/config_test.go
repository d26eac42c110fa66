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

func TestExpandEnv_PrecedenceOrder(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "SET" {
			return "from-env", true
		}
		return "", false
	}
	out := ExpandEnv("a=${SET:-default} b=${UNSET:-fallback} c=${SET} d=${UNSET} e=$SET", lookup)
	assert.Equal(t, "a=from-env b=fallback c=from-env d= e=from-env", out)
}

func TestLoadEnvFiles_PopulatesProcessEnvFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("AGENTKERNEL_TEST_DOTENV=from-dotenv\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()
	defer os.Unsetenv("AGENTKERNEL_TEST_DOTENV")

	require.NoError(t, LoadEnvFiles())
	assert.Equal(t, "from-dotenv", os.Getenv("AGENTKERNEL_TEST_DOTENV"))
}

func TestLoadEnvFiles_MissingFilesAreNotAnError(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	assert.NoError(t, LoadEnvFiles())
}

func TestLoadBytes_YAML(t *testing.T) {
	os.Setenv("AGENTKERNEL_TEST_DSN", "postgres://test")
	defer os.Unsetenv("AGENTKERNEL_TEST_DSN")

	raw := []byte(`
policy_file: /etc/agentkernel/policy.yaml
manifest_dir: /etc/agentkernel/manifests
store:
  backend: postgres
  dsn: ${AGENTKERNEL_TEST_DSN}
rate_limit:
  rules:
    - kind: requests-per-minute
      capacity: 60
      refill_per_minute: 60
checkpoint:
  enabled: true
  interval: 30s
audit_sinks:
  - kind: file
    path: /var/log/agentkernel/audit.jsonl
metrics_addr: ":9090"
`)
	cfg, err := LoadBytes(raw, ".yaml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/agentkernel/policy.yaml", cfg.PolicyFile)
	assert.Equal(t, StoreBackend("postgres"), cfg.Store.Backend)
	assert.Equal(t, "postgres://test", cfg.Store.DSN)
	assert.Equal(t, 30*time.Second, cfg.Checkpoint.Interval)
	assert.Len(t, cfg.AuditSinks, 1)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoadBytes_JSON(t *testing.T) {
	raw := []byte(`{"store":{"backend":"memory"},"auditSinks":[{"kind":"console"}]}`)
	cfg, err := LoadBytes(raw, ".json")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
}

func TestLoadBytes_RejectsInvalidStoreConfig(t *testing.T) {
	raw := []byte(`{"store":{"backend":"postgres"}}`)
	_, err := LoadBytes(raw, ".json")
	assert.Error(t, err)
}

func TestSetDefaults_AppliesMemoryStoreAndConsoleSink(t *testing.T) {
	var cfg RuntimeConfig
	cfg.SetDefaults()
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	require.Len(t, cfg.AuditSinks, 1)
	assert.Equal(t, "console", cfg.AuditSinks[0].Kind)
}

func TestLoadFile_ReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"metricsAddr":":9090"}`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoadManifestDir_ParsesValidatesAndSortsByFilename(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("b.yaml", "id: agent-b\nname: Agent B\nversion: \"1.0\"\nentry_point: run\ntrust_level: supervised\n")
	write("a.json", `{"id":"agent-a","name":"Agent A","version":"1.0","entryPoint":"run","trustLevel":"supervised"}`)
	write("ignore.txt", "not a manifest")

	manifests, err := LoadManifestDir(dir)
	require.NoError(t, err)
	require.Len(t, manifests, 2)
	assert.Equal(t, "agent-a", manifests[0].ID)
	assert.Equal(t, "agent-b", manifests[1].ID)
}

func TestLoadManifestDir_RejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	body := `{"id":"dup","name":"Dup","version":"1.0","entryPoint":"run","trustLevel":"supervised"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(body), 0o644))

	_, err := LoadManifestDir(dir)
	assert.Error(t, err)
}

func TestLoadManifestDir_RejectsInvalidManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"name":"no id"}`), 0o644))

	_, err := LoadManifestDir(dir)
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"metricsAddr":":9090"}`), 0o644))

	w := NewWatcher(path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer w.Close()

	changes := make(chan *RuntimeConfig, 1)
	require.NoError(t, w.Watch(ctx, func(cfg *RuntimeConfig) {
		select {
		case changes <- cfg:
		default:
		}
	}))

	require.NoError(t, os.WriteFile(path, []byte(`{"metricsAddr":":9999"}`), 0o644))

	select {
	case cfg := <-changes:
		assert.Equal(t, ":9999", cfg.MetricsAddr)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	w := NewWatcher(path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Watch(ctx, func(*RuntimeConfig) {}))

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
