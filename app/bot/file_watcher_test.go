package bot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HoboStank/discord-scammer-defense/lib/detect"
)

func TestScanner_WatchPatterns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.txt")
	require.NoError(t, os.WriteFile(path, []byte("free nitro\n"), 0o600))

	s := newTestScanner(Params{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.WatchPatterns(ctx, path) }()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("crypto pump\nverify your wallet\n"), 0o600))

	assert.Eventually(t, func() bool {
		patterns := s.detector.Patterns()
		return len(patterns) == 2 && patterns[0] == "crypto pump"
	}, 2*time.Second, 50*time.Millisecond, "patterns should reload on file change")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on ctx cancel")
	}
}

func TestScanner_WatchMissingFile(t *testing.T) {
	s := newTestScanner(Params{})
	err := s.WatchPatterns(context.Background(), "/nonexistent/patterns.txt")
	assert.Error(t, err)
}

func TestScanner_UpdatePatterns(t *testing.T) {
	s := newTestScanner(Params{})
	s.UpdatePatterns([]string{"Custom Scam", "another one"})
	assert.Equal(t, []string{"custom scam", "another one"}, s.detector.Patterns())

	s.UpdatePatterns(nil)
	assert.Equal(t, detect.DefaultPatterns, s.detector.Patterns(), "empty list falls back to defaults")
}
