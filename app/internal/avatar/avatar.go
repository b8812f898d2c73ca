// Package avatar fetches and decodes member avatars for image comparison.
package avatar

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/go-pkgz/repeater/v2"

	"github.com/HoboStank/discord-scammer-defense/lib/detect"
)

// HTTPClient is a minimal http client interface
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads avatar images with retries and decodes them
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
	retries int
}

const maxAvatarSize = 10 * 1024 * 1024 // 10MB

// NewFetcher creates a fetcher with the given client, per-request timeout and retry count.
// Nil client defaults to http.DefaultClient.
func NewFetcher(client HTTPClient, timeout time.Duration, retries int) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if retries <= 0 {
		retries = 3
	}
	return &Fetcher{client: client, timeout: timeout, retries: retries}
}

// Fetch downloads and decodes the avatar at the given url. Transient failures
// are retried, decode failures are not.
func (f *Fetcher) Fetch(ctx context.Context, url string) (image.Image, error) {
	if url == "" {
		return nil, fmt.Errorf("empty avatar url")
	}

	var img image.Image
	fetch := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("failed to make request: %w", err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch avatar: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %s for %s", resp.Status, url)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarSize))
		if err != nil {
			return fmt.Errorf("failed to read avatar body: %w", err)
		}
		img, err = detect.DecodeImage(data)
		if err != nil {
			return fmt.Errorf("failed to decode avatar: %w", err)
		}
		return nil
	}

	if err := repeater.NewFixed(f.retries, 200*time.Millisecond).Do(ctx, fetch, detect.ErrImageDecode); err != nil {
		return nil, fmt.Errorf("avatar fetch failed for %s: %w", url, err)
	}
	return img, nil
}
