package follow

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *collector) add(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func appendTo(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(text)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func startFollower(t *testing.T, path string, opts Options) *collector {
	t.Helper()
	opts.PollInterval = 20 * time.Millisecond

	f, err := New(path, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	c := &collector{}
	go func() { done <- f.Run(ctx, c.add) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return c
}

func TestFollowerEmitsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	require.NoError(t, os.WriteFile(path, []byte("old line\n"), 0644))

	c := startFollower(t, path, Options{})
	time.Sleep(100 * time.Millisecond)

	appendTo(t, path, "first\nsecond\r\npart")
	require.Eventually(t, func() bool { return len(c.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, c.snapshot())

	appendTo(t, path, "ial\n")
	require.Eventually(t, func() bool { return len(c.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "partial", c.snapshot()[2])
}

func TestFollowerFromStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\n"), 0644))

	c := startFollower(t, path, Options{FromStart: true})
	require.Eventually(t, func() bool { return len(c.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, c.snapshot())
}

func TestFollowerHandlesTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0644))

	c := startFollower(t, path, Options{FromStart: true})
	require.Eventually(t, func() bool { return len(c.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Truncate(path, 0))
	time.Sleep(100 * time.Millisecond)
	appendTo(t, path, "four\n")

	require.Eventually(t, func() bool { return len(c.snapshot()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "four", c.snapshot()[3])
}

func TestNewRequiresExistingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.log"), Options{})
	assert.Error(t, err)
}
