package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docstage/internal/foundation/errors"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("generator:\n  command: gen\n"))
	require.NoError(t, err)

	require.Equal(t, "stages", cfg.StagesDir)
	require.Equal(t, ".", cfg.OutputRoot)
	require.Equal(t, ".docstage", cfg.StateDir)
	require.Equal(t, 4, cfg.Build.Workers)
	require.Equal(t, RetryBackoffExponential, cfg.Build.Retry.Mode)
	require.Equal(t, 3, cfg.Build.Retry.Retries())
	require.Equal(t, 5*time.Minute, cfg.Generator.Timeout)
	require.Equal(t, StoreFS, cfg.Store.Backend)
	require.True(t, cfg.HasGenerator())
}

func TestParseExplicitZeroRetries(t *testing.T) {
	cfg, err := Parse([]byte("build:\n  retry:\n    max_retries: 0\n    mode: Linear\n"))
	require.NoError(t, err)
	require.Equal(t, 0, cfg.Build.Retry.Retries())
	require.Equal(t, RetryBackoffLinear, cfg.Build.Retry.Mode)
}

func TestParseExpandsEnvironment(t *testing.T) {
	t.Setenv("DOCSTAGE_TEST_ENDPOINT", "https://gen.example.com/v1")
	cfg, err := Parse([]byte("generator:\n  endpoint: ${DOCSTAGE_TEST_ENDPOINT}\n"))
	require.NoError(t, err)
	require.Equal(t, "https://gen.example.com/v1", cfg.Generator.Endpoint)
}

func TestParseStoreDefaults(t *testing.T) {
	cfg, err := Parse([]byte("state_dir: state\nstore:\n  backend: sqlite\nevents:\n  enabled: true\n"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join("state", "records.db"), cfg.Store.SQLitePath)
	require.Equal(t, filepath.Join("state", "history.db"), cfg.Events.Path)
}

func TestValidationCollectsAllProblems(t *testing.T) {
	_, err := Parse([]byte(`
build:
  retry:
    mode: sometimes
generator:
  command: gen
  endpoint: ftp://nope
store:
  backend: nats
`))
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryConfig))

	msg := err.Error()
	require.Contains(t, msg, "build.retry.mode")
	require.Contains(t, msg, "mutually exclusive")
	require.Contains(t, msg, "http(s) URL")
	require.Contains(t, msg, "store.nats_url")
}

func TestLoadResolvesRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("stages_dir: decls\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "decls"), cfg.Resolve(cfg.StagesDir))
	require.Equal(t, "/abs/path", cfg.Resolve("/abs/path"))
}

func TestLoadReadsDotEnvWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DOCSTAGE_TEST_CMD=from-dotenv\nDOCSTAGE_TEST_KEEP=from-dotenv\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFileName), []byte("generator:\n  command: ${DOCSTAGE_TEST_CMD}\n  model: ${DOCSTAGE_TEST_KEEP}\n"), 0o600))
	t.Setenv("DOCSTAGE_TEST_KEEP", "from-process")
	t.Cleanup(func() { _ = os.Unsetenv("DOCSTAGE_TEST_CMD") })

	cfg, err := Load(filepath.Join(dir, DefaultFileName))
	require.NoError(t, err)
	require.Equal(t, "from-dotenv", cfg.Generator.Command)
	require.Equal(t, "from-process", cfg.Generator.Model)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryConfig))
}

func TestInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, Init(path, false))
	require.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "docstage-generate", cfg.Generator.Command)
}
