package bot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/go-pkgz/lgr"
)

// watch starts watching file for changes and calls onDataChange callback,
// used for dynamic reloading of the scam patterns file
func watch(ctx context.Context, path string, onDataChange func(io.Reader) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	done := make(chan bool)
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				lgr.Printf("[INFO] stopping watcher for %s, %v", path, ctx.Err())
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					data, e := readFile(path)
					if e != nil {
						lgr.Printf("[WARN] failed to read updated file %s: %v", path, e)
						continue
					}
					if e = onDataChange(data); e != nil {
						lgr.Printf("[WARN] failed to load updated file %s: %v", path, e)
						continue
					}
				}
			case e, ok := <-watcher.Errors:
				if !ok {
					return
				}
				lgr.Printf("[WARN] watcher error: %v", e)
			}
		}
	}()

	if err = watcher.Add(path); err != nil {
		return fmt.Errorf("failed to add %s to watcher: %w", path, err)
	}
	<-done
	return nil
}

// WatchPatterns reloads the scanner's patterns whenever the file changes, blocks until ctx is done
func (s *Scanner) WatchPatterns(ctx context.Context, path string) error {
	return watch(ctx, path, func(r io.Reader) error {
		count, err := s.detector.LoadPatterns(r)
		if err != nil {
			return fmt.Errorf("failed to reload patterns from %s: %w", path, err)
		}
		lgr.Printf("[INFO] reloaded %d scam patterns from %s", count, path)
		return nil
	})
}

func readFile(path string) (io.Reader, error) {
	file, err := os.Open(path) //nolint gosec // path is controlled by the app
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return bytes.NewReader(data), nil
}
