package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"malloy-publisher/internal/domain"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PublisherConfigName), []byte(content), 0o644))
}

func TestLoadPublisherConfig_EnvSubstitution(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BUCKET_NAME", "malloy-models")
	writeConfig(t, dir, `{
		"frozenConfig": false,
		"projects": [
			{"name": "analytics", "packages": [{"name": "flights", "location": "gs://${BUCKET_NAME}/flights"}]}
		]
	}`)

	cfg, err := LoadPublisherConfig(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Projects, 1)
	require.Len(t, cfg.Projects[0].Packages, 1)
	assert.Equal(t, "gs://malloy-models/flights", cfg.Projects[0].Packages[0].Location)
}

func TestLoadPublisherConfig_MissingVariableIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{
		"projects": [
			{"name": "analytics", "readme": "${DEFINITELY_NOT_SET_VAR}"}
		]
	}`)

	_, err := LoadPublisherConfig(dir)
	require.Error(t, err)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "Environment variable '${DEFINITELY_NOT_SET_VAR}' is not set in configuration file", err.Error())
}

func TestLoadPublisherConfig_KeysAreNeverSubstituted(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KEY_NAME", "surprise")
	// A ${...} token in an object key position must stay literal.
	writeConfig(t, dir, `{
		"frozenConfig": false,
		"projects": [],
		"${KEY_NAME}": "value"
	}`)

	cfg, err := LoadPublisherConfig(dir)
	require.NoError(t, err)
	assert.Empty(t, cfg.Projects)
}

func TestLoadPublisherConfig_EmptyValueIsValidSubstitution(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EMPTY_VAR", "")
	writeConfig(t, dir, `{
		"projects": [{"name": "p", "readme": "prefix-${EMPTY_VAR}-suffix"}]
	}`)

	cfg, err := LoadPublisherConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "prefix--suffix", cfg.Projects[0].Readme)
}

func TestLoadPublisherConfig_LowercaseTokensStayLiteral(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{
		"projects": [{"name": "p", "readme": "${not_a_var} stays"}]
	}`)

	cfg, err := LoadPublisherConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "${not_a_var} stays", cfg.Projects[0].Readme)
}

func TestLoadPublisherConfig_AbsentFileYieldsDefault(t *testing.T) {
	cfg, err := LoadPublisherConfig(t.TempDir())
	require.NoError(t, err)
	assert.False(t, cfg.FrozenConfig)
	assert.Empty(t, cfg.Projects)
}

func TestFrozenConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"frozenConfig": true, "projects": []}`)
	assert.True(t, FrozenConfig(dir))
	assert.False(t, FrozenConfig(t.TempDir()))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"# comment\nDOTENV_TEST_A=hello\nDOTENV_TEST_B=\"quoted value\"\n"), 0o644))
	t.Setenv("DOTENV_TEST_A", "")
	t.Setenv("DOTENV_TEST_B", "")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "hello", os.Getenv("DOTENV_TEST_A"))
	assert.Equal(t, "quoted value", os.Getenv("DOTENV_TEST_B"))
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("PUBLISHER_PORT", "")
	t.Setenv("PUBLISHER_HOST", "")
	t.Setenv("PUBLISHER_PATH", "")
	t.Setenv("SERVER_ROOT", t.TempDir())
	t.Setenv("MALLOY_SERVICE_URL", "http://localhost:4040")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, "localhost:4000", cfg.ListenAddr())
	assert.Equal(t, ".publisher", cfg.PublisherPath)
}

func TestLoadFromEnv_BadPort(t *testing.T) {
	t.Setenv("PUBLISHER_PORT", "not-a-port")
	_, err := LoadFromEnv()
	require.Error(t, err)
}
