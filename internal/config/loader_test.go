package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfigFile creates ~/.config/changelogd/config.yaml under a fake
// home directory and returns its path.
func writeConfigFile(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "changelogd")
	require.NoError(t, os.MkdirAll(dir, 0700))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfigFile(t, `
pipeline:
  chunk_size: 1500
  max_workers: 2
llm:
  provider: openai
  model: gpt-4o
  timeout: 30s
server:
  port: 9000
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1500, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 2, cfg.Pipeline.MaxWorkers)
	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "30s", cfg.LLM.Timeout.Duration().String())
	assert.Equal(t, 9000, cfg.Server.Port)

	// Unset fields still get defaults.
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9000
scanner:
  max_tokens: 4000
`, 0600)

	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("SCANNER_VALIDATION_MODE", "none")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "env should win over file")
	assert.Equal(t, 4000, cfg.Scanner.MaxTokens, "file value without env override survives")
	assert.Equal(t, "none", cfg.Scanner.ValidationMode)
}

func TestLoad_GitHubTokenFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GITHUB_TOKEN", "ghp_abc123")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ghp_abc123", cfg.GitHub.Token.Value())
	assert.Equal(t, "[REDACTED]", cfg.GitHub.Token.String())
}

func TestLoad_SecretFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LLM_API_KEY", "sk-ant-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-ant-test", cfg.LLM.APIKey.Value())
}

func TestLoad_RejectsWorldReadableFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9000\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_RejectsPathOutsideAllowedDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	outside := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("server:\n  port: 9000\n"), 0600))

	_, err := Load(outside)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoad_RejectsOversizedFile(t *testing.T) {
	big := "# padding\n" + strings.Repeat("# x\n", maxConfigFileSize/4)
	path := writeConfigFile(t, big, 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file too large")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := writeConfigFile(t, `
llm:
  provider: nonsense
`, 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "pipeline: [unclosed", 0600)

	_, err := Load(path)
	require.Error(t, err)
}

func TestContains_RejectsSiblingDirectories(t *testing.T) {
	assert.True(t, contains("/etc/changelogd", "/etc/changelogd/config.yaml"))
	assert.True(t, contains("/etc/changelogd", "/etc/changelogd/sub/config.yaml"))
	assert.False(t, contains("/etc/changelogd", "/etc/changelogd-evil/config.yaml"))
	assert.False(t, contains("/etc/changelogd", "/etc/config.yaml"))
}

func TestEnvToKey(t *testing.T) {
	assert.Equal(t, "llm.api_key", envToKey("LLM_API_KEY"))
	assert.Equal(t, "github.token", envToKey("GITHUB_TOKEN"))
	assert.Equal(t, "scanner.validation_mode", envToKey("SCANNER_VALIDATION_MODE"))
	assert.Equal(t, "home", envToKey("HOME"))
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureConfigDir())

	info, err := os.Stat(filepath.Join(home, ".config", "changelogd"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}
