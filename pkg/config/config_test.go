package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("XDEPLOY_TOKEN_SECRET", testSecret)
	t.Setenv("XDEPLOY_ENCRYPTION_KEY", "aa"+testSecret)
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "xdeploy", cfg.Mongo.Database)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
}

func TestEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("XDEPLOY_PORT", "9000")
	t.Setenv("XDEPLOY_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("XDEPLOY_READ_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
}

func TestYAMLFileThenEnvWins(t *testing.T) {
	setRequired(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "7070"
mongo:
  database: fromfile
`), 0o600))
	t.Setenv("XDEPLOY_CONFIG_FILE", path)
	t.Setenv("XDEPLOY_MONGO_DATABASE", "fromenv")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port, "file value used when env is unset")
	assert.Equal(t, "fromenv", cfg.Mongo.Database, "env overrides file")
}

func TestValidation(t *testing.T) {
	t.Setenv("XDEPLOY_ENCRYPTION_KEY", "aa"+testSecret)
	t.Setenv("XDEPLOY_TOKEN_SECRET", "too-short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token secret")
}

func TestMissingEncryptionKey(t *testing.T) {
	t.Setenv("XDEPLOY_TOKEN_SECRET", testSecret)
	t.Setenv("XDEPLOY_ENCRYPTION_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encryption key")
}
