package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PAGE_SIZE", "10")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, int64(25<<20), cfg.MaxUploadBytes)
	assert.Equal(t, "chat.events", cfg.AMQPExchange)
}

func TestLoadFileThenEnv(t *testing.T) {
	chdir(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"9000\"\npage_size: 25\nstore_backend: memory\nsession_backend: memory\n"), 0o600))

	t.Setenv("CHAT_CONFIG_FILE", path)
	t.Setenv("PAGE_SIZE", "30")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 30, cfg.PageSize)
	assert.Equal(t, "memory", cfg.StoreBackend)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REDIS_ADDR=redis:6379\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("REDIS_ADDR") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
}

func TestLoadErrors(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("COMMAND_BURST", "lots")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("COMMAND_BURST", "10")
	t.Setenv("SESSION_BACKEND", "ldap")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("SESSION_BACKEND", "memory")
	_, err = Load()
	assert.Error(t, err)
}

func TestSeedUsers(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SESSION_BACKEND", "memory")
	t.Setenv("SEED_USERS", " alice:t1, bob:t2 ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice:t1", "bob:t2"}, cfg.SeedUsers)

	name, token, ok := SplitSeed(cfg.SeedUsers[1])
	assert.True(t, ok)
	assert.Equal(t, "bob", name)
	assert.Equal(t, "t2", token)

	t.Setenv("SEED_USERS", "carol")
	_, err = Load()
	assert.Error(t, err)
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
