package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
)

// ErrTooLarge is returned when a download exceeds its limit.
var ErrTooLarge = errors.New("media: file exceeds size limit")

// Resolver turns a platform file id into a download URL.
type Resolver interface {
	FileURL(ctx context.Context, fileID string) (string, error)
}

// Downloader fetches remote files to local paths.
type Downloader struct {
	resolver Resolver
	client   *http.Client
}

// NewDownloader returns a Downloader. A nil client uses http.DefaultClient.
func NewDownloader(resolver Resolver, client *http.Client) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{resolver: resolver, client: client}
}

// Download saves fileID to dst, refusing files larger than maxBytes
// (no limit when maxBytes <= 0). On failure dst is removed.
func (d *Downloader) Download(ctx context.Context, fileID, dst string, maxBytes int64) (int64, error) {
	url, err := d.resolver.FileURL(ctx, fileID)
	if err != nil {
		return 0, fmt.Errorf("resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return 0, ErrTooLarge
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}

	var src io.Reader = resp.Body
	if maxBytes > 0 {
		src = io.LimitReader(resp.Body, maxBytes+1)
	}
	n, err := io.Copy(out, src)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err == nil && maxBytes > 0 && n > maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(dst)
		if errors.Is(err, ErrTooLarge) {
			return 0, err
		}
		return 0, fmt.Errorf("write %s: %w", dst, err)
	}
	return n, nil
}
