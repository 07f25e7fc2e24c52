package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/changeops/internal/tenantctx"
)

func writeInitialConfig(t *testing.T, path string) {
	t.Helper()
	content := `
llm:
  provider: openai
  model: gpt-4o-mini
dispatcher:
  concurrency: 4
capabilities:
  profiles:
    READ_ONLY:
      - FS_READ
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "changeops.yaml")
	writeInitialConfig(t, configPath)

	changed := make(chan *Config, 4)
	w, err := NewWatcher(configPath, nil, func(c *Config) { changed <- c }, nil)
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	time.Sleep(20 * time.Millisecond)
	content := `
llm:
  provider: anthropic
  model: claude-test
dispatcher:
  concurrency: 8
capabilities:
  profiles:
    READ_ONLY:
      - FS_READ
      - NET_OUT
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	select {
	case cfg := <-changed:
		assert.Equal(t, "anthropic", cfg.LLM.Provider)
		assert.Equal(t, 8, cfg.Dispatcher.Concurrency)
		profile := tenantctx.ResolveProfile("READ_ONLY")
		assert.True(t, profile.Has(tenantctx.TokenNetOut))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcher_InvalidReloadCallsOnError(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "changeops.yaml")
	writeInitialConfig(t, configPath)

	errs := make(chan error, 4)
	w, err := NewWatcher(configPath, nil, nil, func(e error) { errs <- e })
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(configPath, []byte("llm:\n  provider: \"\"\n"), 0644))

	select {
	case e := <-errs:
		assert.Error(t, e)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}
}
