package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"":            DevMode,
		"dev":         DevMode,
		"Production":  ProMode,
		" prod ":      ProMode,
		"testing":     TestMode,
		"unsupported": DevMode,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseMode(in), in)
	}
}

func TestCurrentMode(t *testing.T) {
	t.Setenv(ModeEnvKey, "test")
	assert.Equal(t, TestMode, CurrentMode())
}

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	settings, _, err := Load(Options{BasePath: t.TempDir(), AllowMissing: true, Mode: DevMode})
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, settings.Lifecycle.UIReadyTimeout)
	assert.Equal(t, 64, settings.UIThread.QueueSize)
	assert.Equal(t, 8, settings.Coordinator.PoolSize)
	assert.Equal(t, ":8086", settings.Introspect.Addr)
	assert.Equal(t, "plugins", settings.Plugins.ManifestDir)
	assert.True(t, settings.Plugins.AutoLoad)
	assert.Equal(t, "info", settings.Log.Level)
}

func TestLoad_NoFiles(t *testing.T) {
	_, _, err := Load(Options{BasePath: t.TempDir(), Mode: DevMode})
	assert.ErrorIs(t, err, ErrNoConfigFiles)
}

func TestLoad_ModeOverridesAndEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
lifecycle:
  ui_ready_timeout: 2s
coordinator:
  pool_size: 4
plugins:
  autoload: false
  notes:
    greeting: hello
log:
  level: debug
`)
	writeFile(t, dir, "config.prod.yaml", `
coordinator:
  pool_size: 16
`)
	writeFile(t, dir, "config.dev.yaml", `
coordinator:
  pool_size: 2
`)
	t.Setenv("PLUGIND_INTROSPECT_ADDR", "127.0.0.1:9000")

	settings, cfg, err := Load(Options{BasePath: dir, Mode: ProMode})
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, settings.Lifecycle.UIReadyTimeout)
	assert.Equal(t, 16, settings.Coordinator.PoolSize)
	assert.False(t, settings.Plugins.AutoLoad)
	assert.Equal(t, "debug", settings.Log.Level)
	assert.Equal(t, "127.0.0.1:9000", settings.Introspect.Addr)

	assert.Equal(t, "hello", cfg.Sub("plugins").GetString("notes.greeting"))
	assert.NotNil(t, cfg.Sub("missing"))
	assert.Equal(t, []string{
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "config.prod.yaml"),
	}, cfg.Files())
}

func TestLoad_InvalidSettings(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "coordinator:\n  pool_size: -1\n")

	_, _, err := Load(Options{BasePath: dir, Mode: DevMode})
	assert.ErrorContains(t, err, "invalid settings")
}

func TestConfig_GetSet(t *testing.T) {
	cfg, err := NewConfig(Options{BasePath: t.TempDir(), AllowMissing: true})
	require.NoError(t, err)

	cfg.Set("uithread.queue_size", 3)
	assert.Equal(t, 3, cfg.Get("uithread.queue_size"))

	settings, err := cfg.Settings()
	require.NoError(t, err)
	assert.Equal(t, 3, settings.UIThread.QueueSize)
}

func TestConfig_Watch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "coordinator:\n  pool_size: 4\n")

	cfg, err := NewConfig(Options{BasePath: dir, Mode: DevMode})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan *Settings, 16)
	done := make(chan error, 1)
	go func() {
		done <- cfg.Watch(ctx, zap.NewNop(), func(s *Settings, err error) {
			if err == nil {
				changes <- s
			}
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, "config.yaml", "coordinator:\n  pool_size: 12\n")

	// A rewrite may be seen half-written first; wait for the final content.
	deadline := time.After(2 * time.Second)
	for observed := false; !observed; {
		select {
		case s := <-changes:
			observed = s.Coordinator.PoolSize == 12
		case <-deadline:
			t.Fatal("config change was not observed")
		}
	}
	assert.Equal(t, 12, cfg.Get("coordinator.pool_size"))

	cancel()
	require.NoError(t, <-done)
}
