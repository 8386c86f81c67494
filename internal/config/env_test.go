package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEnv(t *testing.T) {
	vars := map[string]string{
		EnvURL:      "http://merch:9000",
		EnvUserFile: "/data/users.json",
	}
	env := ReadEnv(func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	})

	assert.Equal(t, "http://merch:9000", env.URL)
	assert.Equal(t, "/data/users.json", env.UserFile)
	assert.Empty(t, env.AuthTokenFile)
}

func TestEnv_Apply(t *testing.T) {
	cfg := Default()
	cfg.Dataset.TokensFile = "/from/profile.json"

	Env{URL: "http://other:1", UserFile: "/u.json"}.Apply(cfg)

	assert.Equal(t, "http://other:1", cfg.Settings.BaseURL)
	assert.Equal(t, "/u.json", cfg.Dataset.UsersFile)
	assert.Equal(t, "/from/profile.json", cfg.Dataset.TokensFile)

	Env{}.Apply(cfg)
	assert.Equal(t, "http://other:1", cfg.Settings.BaseURL)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte(EnvAuthTokenFile+"=/tmp/tokens.json\n"+EnvURL+"=http://dotenv:1\n"), 0o600))

	t.Setenv(EnvURL, "http://real:2")
	t.Setenv(EnvAuthTokenFile, "")
	require.NoError(t, os.Unsetenv(EnvAuthTokenFile))

	require.NoError(t, LoadEnvFile(path))

	env := ReadEnv(os.LookupEnv)
	assert.Equal(t, "http://real:2", env.URL, "real environment wins over dotenv")
	assert.Equal(t, "/tmp/tokens.json", env.AuthTokenFile)

	assert.Error(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
}

func TestLoadEnvFile_DefaultMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.NoError(t, LoadEnvFile(""))
}
