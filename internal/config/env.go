package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables read by the harness.
const (
	EnvURL           = "APPTEST_URL"
	EnvUserFile      = "APPTEST_USER_FILE"
	EnvAuthTokenFile = "APPTEST_AUTH_TOKEN_FILE"
)

// DefaultEnvFile is loaded when present and no other file is named.
const DefaultEnvFile = ".env"

// Env holds the environment-supplied settings.
type Env struct {
	URL           string
	UserFile      string
	AuthTokenFile string
}

// LoadEnvFile loads variables from a dotenv file into the process
// environment. Variables already set are left alone. An empty path loads
// DefaultEnvFile if it exists.
func LoadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(DefaultEnvFile); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// ReadEnv reads the harness variables through lookup, typically os.LookupEnv.
func ReadEnv(lookup func(string) (string, bool)) Env {
	var env Env
	env.URL, _ = lookup(EnvURL)
	env.UserFile, _ = lookup(EnvUserFile)
	env.AuthTokenFile, _ = lookup(EnvAuthTokenFile)
	return env
}

// Apply copies every non-empty variable into the profile.
func (e Env) Apply(c *TestConfig) {
	if e.URL != "" {
		c.Settings.BaseURL = e.URL
	}
	if e.UserFile != "" {
		c.Dataset.UsersFile = e.UserFile
	}
	if e.AuthTokenFile != "" {
		c.Dataset.TokensFile = e.AuthTokenFile
	}
}
