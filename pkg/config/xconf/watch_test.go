package xconf

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWatch_Reload(t *testing.T) {
	path := writeFile(t, "gate.yaml", gateYAML)
	cfg, err := New(path)
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		reloads int
		lastErr error
	)
	w, err := Watch(cfg, func(_ Config, err error) {
		mu.Lock()
		defer mu.Unlock()
		reloads++
		lastErr = err
	}, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte("gate: {burst: 42}"), 0o600))

	assert.Eventually(t, func() bool {
		return cfg.Client().Int("gate.burst") == 42
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, reloads, 1)
	assert.NoError(t, lastErr)
}

func TestWatch_Debounce(t *testing.T) {
	path := writeFile(t, "gate.yaml", gateYAML)
	cfg, err := New(path)
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		reloads int
	)
	w, err := Watch(cfg, func(Config, error) {
		mu.Lock()
		reloads++
		mu.Unlock()
	}, WithDebounce(200*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	for i := range 5 {
		require.NoError(t, os.WriteFile(path, []byte("gate: {burst: "+string(rune('1'+i))+"}"), 0o600))
		time.Sleep(10 * time.Millisecond)
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reloads >= 1
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, w.Close())
	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, reloads, 5, "rapid writes should be merged")
}

func TestWatch_Errors(t *testing.T) {
	cfg, err := NewFromBytes([]byte("a: 1"), FormatYAML)
	require.NoError(t, err)
	_, err = Watch(cfg, nil)
	assert.ErrorIs(t, err, ErrNotWatchable)
}

func TestWatcher_CloseIdempotent(t *testing.T) {
	cfg, err := New(writeFile(t, "gate.yaml", gateYAML))
	require.NoError(t, err)
	w, err := Watch(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	// Close 之后 Run 立即返回
	require.NoError(t, w.Run(context.Background()))
}
