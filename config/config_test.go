package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv("RELAY_PROJECT_ROOT", root)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, root, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(root, ".relay"), cfg.HarnessDir)
	assert.Equal(t, filepath.Join(root, ".relay", "hooks.json"), cfg.HooksFile)
	assert.Equal(t, filepath.Join(root, ".relay", "messages.json"), cfg.MessagesFile)
	assert.Equal(t, filepath.Join(root, ".relay", "todo.md"), cfg.TodoFile)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.True(t, cfg.Watch())
	assert.Equal(t, DefaultWatchInterval, cfg.WatchInterval)
	assert.Empty(t, cfg.Audit.SQLitePath)
}

func TestLoad_File(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, `
project_root: `+root+`
harness_dir: state
hooks_file: config/hooks.yaml
listen: 0.0.0.0:9000
log:
  level: debug
  format: json
audit:
  sqlite_path: state/audit.db
  meili:
    url: http://localhost:7700
model:
  provider: openai
  name: gpt-4o-mini
  token_env: RELAY_TEST_TOKEN
watch_hooks: false
watch_interval: 500ms
`)
	t.Setenv("RELAY_TEST_TOKEN", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "state"), cfg.HarnessDir)
	assert.Equal(t, filepath.Join(root, "config", "hooks.yaml"), cfg.HooksFile)
	assert.Equal(t, filepath.Join(root, "state", "messages.json"), cfg.MessagesFile)
	assert.Equal(t, filepath.Join(root, "state", "audit.db"), cfg.Audit.SQLitePath)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "http://localhost:7700", cfg.Audit.Meili.URL)
	assert.Equal(t, "sk-test", cfg.Model.Token())
	assert.False(t, cfg.Watch())
	assert.Equal(t, 500*time.Millisecond, cfg.WatchInterval)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "listen: 127.0.0.1:1111\nlog:\n  level: info\n")
	t.Setenv("RELAY_PROJECT_ROOT", t.TempDir())
	t.Setenv("RELAY_LISTEN", "127.0.0.1:2222")
	t.Setenv("RELAY_LOG_LEVEL", "warn")
	t.Setenv("RELAY_MEILI_URL", "http://meili:7700")
	t.Setenv("RELAY_MEILI_KEY", "master")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:2222", cfg.Listen)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "http://meili:7700", cfg.Audit.Meili.URL)
	assert.Equal(t, "master", cfg.Audit.Meili.Key)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{name: "missing file", path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") }},
		{name: "bad yaml", path: func(t *testing.T) string { return writeConfig(t, "listen: [unclosed") }},
		{name: "unknown provider", path: func(t *testing.T) string { return writeConfig(t, "model:\n  provider: carrier-pigeon\n") }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("RELAY_PROJECT_ROOT", t.TempDir())
			_, err := Load(tc.path(t))
			assert.Error(t, err)
		})
	}
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	assert.Empty(t, Find(root))

	path := filepath.Join(root, ".relay", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("listen: 127.0.0.1:1\n"), 0o644))
	assert.Equal(t, path, Find(root))
}

func TestModelConfig_EnvName(t *testing.T) {
	tests := []struct {
		name     string
		input    ModelConfig
		expected string
	}{
		{name: "unset", input: ModelConfig{}, expected: DefaultTokenEnv},
		{name: "openai", input: ModelConfig{Provider: "openai"}, expected: DefaultTokenEnv},
		{name: "github", input: ModelConfig{Provider: "GitHub"}, expected: GitHubTokenEnv},
		{name: "explicit wins", input: ModelConfig{Provider: "github", TokenEnv: "MY_TOKEN"}, expected: "MY_TOKEN"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.input.EnvName())
		})
	}
}
