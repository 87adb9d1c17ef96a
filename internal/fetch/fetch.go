// Package fetch streams single remote files to local paths.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/discord_archiver/internal/logctx"
)

// chunkSize bounds how much of a response body is held in memory at once.
const chunkSize = 8 * 1024

// TransferError represents a failed fetch of a single remote file: a non-200
// response or a transport failure. The job continues past it; the failure is
// recorded and reported at the end of the run.
type TransferError struct {
	URL        string
	StatusCode int // 0 for non-HTTP failures
	Err        error
}

func (e *TransferError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch failed for %s: HTTP %d", e.URL, e.StatusCode)
	}

	return fmt.Sprintf("fetch failed for %s: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Fetcher downloads remote files. It does not retry and does not verify
// content length or checksums.
type Fetcher struct {
	client *http.Client
}

func New(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}

	return &Fetcher{client: client}
}

// Fetch streams the resource at url into targetPath in fixed-size chunks.
// Any non-200 status or transport failure yields a TransferError.
func (f *Fetcher) Fetch(ctx context.Context, url, targetPath string) error {
	logger := logctx.From(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return &TransferError{URL: url, Err: err}
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &TransferError{URL: url, StatusCode: resp.StatusCode}
	}

	out, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}

	defer out.Close()

	// A truncated file must not be left behind: it would occupy the name
	// and push a retry to a collision suffix.
	discard := func() {
		out.Close()

		if removeErr := os.Remove(targetPath); removeErr != nil {
			logger.Warn("failed to remove partial file", "target", targetPath, "err", removeErr)
		}
	}

	var written int64

	buf := make([]byte, chunkSize)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				discard()

				return fmt.Errorf("failed to write target file: %w", writeErr)
			}

			written += int64(n)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}

			discard()

			return &TransferError{URL: url, Err: readErr}
		}
	}

	logger.Debug("fetched file", "target", targetPath, "size", humanize.Bytes(uint64(written)))

	return nil
}
