package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiredFieldMissing(t *testing.T) {
	t.Setenv("DATABASE_FILE_PATH", "")
	t.Setenv("BOOKS_DIRECTORY", "")
	t.Setenv("CONFIG_FILE", "/nonexistent/config.yaml")

	cfg, err := New()
	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required config")
	assert.Contains(t, err.Error(), "DATABASE_FILE_PATH")
	assert.Contains(t, err.Error(), "database_file_path")
}

func TestNew_BooksDirectoryMissing(t *testing.T) {
	t.Setenv("DATABASE_FILE_PATH", "/tmp/test.db")
	t.Setenv("BOOKS_DIRECTORY", "")
	t.Setenv("CONFIG_FILE", "/nonexistent/config.yaml")

	cfg, err := New()
	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOOKS_DIRECTORY")
}

func TestNew_WithEnvVar(t *testing.T) {
	t.Setenv("DATABASE_FILE_PATH", "/tmp/test.db")
	t.Setenv("BOOKS_DIRECTORY", "/tmp/books")
	t.Setenv("CONFIG_FILE", "/nonexistent/config.yaml")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.db", cfg.DatabaseFilePath)
	assert.Equal(t, "/tmp/books", cfg.BooksDirectory)
}

func TestNew_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database_file_path: /data/shelfstone.db
books_directory: /data/books
covers_directory: /data/covers
server_port: 8080
database_debug: true
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("CONFIG_FILE", configPath)

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "/data/shelfstone.db", cfg.DatabaseFilePath)
	assert.Equal(t, "/data/books", cfg.BooksDirectory)
	assert.Equal(t, "/data/covers", cfg.CoversDirectory)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.True(t, cfg.DatabaseDebug)
}

func TestNew_EnvVarOverridesConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database_file_path: /data/from-file.db
books_directory: /data/books
server_port: 8080
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("CONFIG_FILE", configPath)
	t.Setenv("DATABASE_FILE_PATH", "/data/from-env.db")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := New()
	require.NoError(t, err)
	// Env vars should override config file
	assert.Equal(t, "/data/from-env.db", cfg.DatabaseFilePath)
	assert.Equal(t, 9090, cfg.ServerPort)
}

func TestNew_Defaults(t *testing.T) {
	t.Setenv("DATABASE_FILE_PATH", "/tmp/test.db")
	t.Setenv("BOOKS_DIRECTORY", "/tmp/books")
	t.Setenv("CONFIG_FILE", "/nonexistent/config.yaml")

	cfg, err := New()
	require.NoError(t, err)

	// Check defaults are applied
	assert.Equal(t, "./data/covers", cfg.CoversDirectory)
	assert.Equal(t, 3, cfg.DatabaseMaxRetries)
	assert.False(t, cfg.DatabaseDebug)
	assert.False(t, cfg.ScanExistingOnStartup)
	assert.Equal(t, 10, cfg.ScanIntervalSeconds)
	assert.Equal(t, "0.0.0.0", cfg.ServerHost)
	assert.Equal(t, 3690, cfg.ServerPort)
	assert.Equal(t, 5, cfg.DatabaseConnectRetryCount)
	assert.Equal(t, 2*time.Second, cfg.DatabaseConnectRetryDelay)
}

func TestNew_ScanInterval(t *testing.T) {
	t.Setenv("DATABASE_FILE_PATH", "/tmp/test.db")
	t.Setenv("BOOKS_DIRECTORY", "/tmp/books")
	t.Setenv("CONFIG_FILE", "/nonexistent/config.yaml")
	t.Setenv("SCAN_INTERVAL_SECONDS", "3")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.ScanIntervalSeconds)
	assert.Equal(t, 3*time.Second, cfg.ScanInterval())
}

func TestNewForTest(t *testing.T) {
	cfg := NewForTest()
	assert.Equal(t, ":memory:", cfg.DatabaseFilePath)
	assert.Equal(t, "./tmp/books", cfg.BooksDirectory)
	assert.Equal(t, "./tmp/covers", cfg.CoversDirectory)
	assert.Equal(t, "127.0.0.1", cfg.ServerHost)
	assert.Equal(t, 0, cfg.ServerPort)
	assert.Equal(t, time.Second, cfg.ScanInterval())
}
