package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFiles_LaterFileOverrides(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")

	require.NoError(t, os.WriteFile(base, []byte(`
[queue]
concurrency = 8

[recovery]
timeout_hours = 4
`), 0644))
	require.NoError(t, os.WriteFile(override, []byte(`
[recovery]
timeout_hours = 6

[engine]
extra_terminal_statuses = ["archived"]
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 8, config.Queue.Concurrency)
	assert.Equal(t, 6.0, config.Recovery.TimeoutHours)
	assert.Equal(t, []string{"archived"}, config.Engine.ExtraTerminalStatuses)
	// Untouched defaults survive
	assert.Equal(t, "datamachine_actions", config.Queue.QueueName)
}

func TestLoadFromFiles_EnvOverride(t *testing.T) {
	t.Setenv("DATAMACHINE_BADGER_PATH", "/tmp/dm-env")
	t.Setenv("DATAMACHINE_LOG_OUTPUT", "stdout, file")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/dm-env", config.Storage.Badger.Path)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("DATAMACHINE_CLAUDE_API_KEY", "")

	key, err := ResolveAPIKey("anthropic_api_key", "from-config")
	require.NoError(t, err)
	assert.Equal(t, "from-config", key)

	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	key, err = ResolveAPIKey("anthropic_api_key", "from-config")
	require.NoError(t, err)
	assert.Equal(t, "from-env", key)

	_, err = ResolveAPIKey("unknown_key", "")
	assert.Error(t, err)
}

func TestResolveCronSpec(t *testing.T) {
	spec, err := ResolveCronSpec("hourly")
	require.NoError(t, err)
	assert.Equal(t, "@hourly", spec)

	spec, err = ResolveCronSpec("*/10 * * * *")
	require.NoError(t, err)
	assert.Equal(t, "*/10 * * * *", spec)

	_, err = ResolveCronSpec("whenever")
	assert.Error(t, err)

	_, err = ResolveCronSpec("")
	assert.Error(t, err)
}

func TestLoadFromFiles_VisibilityMustExceedStepTimeout(t *testing.T) {
	config, err := LoadFromFiles()
	require.NoError(t, err, "defaults are consistent")
	assert.NoError(t, config.Validate())

	path := filepath.Join(t.TempDir(), "slow.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[queue]
visibility_timeout = "15m"

[engine]
step_timeout = "30m"
`), 0644))
	_, err = LoadFromFiles(path)
	assert.ErrorContains(t, err, "visibility_timeout")

	config.Queue.VisibilityTimeout = "soon"
	assert.Error(t, config.Validate())

	config.Queue.VisibilityTimeout = "20m"
	config.Engine.StepTimeout = ""
	assert.NoError(t, config.Validate())
}

func TestLoadFromFiles_ShippedDeploymentConfig(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join("..", "..", "deployments", "local", "datamachine.toml"))
	assert.NoError(t, err)
}
