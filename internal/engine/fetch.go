package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/vfaronov/httpheader"

	"github.com/hoardr-dl/hoardr/internal/engine/types"
)

const fetchBufferSize = 64 * 1024

// fetchResult describes a completed transfer still sitting at its
// temporary path. The caller either finalizes or discards it.
type fetchResult struct {
	TmpPath string
	Bytes   int64
}

// fetchToTemp streams a URL to destPath plus the incomplete suffix.
// Unexpected statuses become *types.StatusError (with Retry-After decoded
// on 429); local write failures become *types.DiskError so they classify
// as permanent.
func fetchToTemp(ctx context.Context, client *http.Client, fetchURL, destPath, userAgent string) (fetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return fetchResult{}, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fetchResult{}, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		statusErr := &types.StatusError{Code: resp.StatusCode, URL: fetchURL}
		if resp.StatusCode == http.StatusTooManyRequests {
			if at := httpheader.RetryAfter(resp.Header); !at.IsZero() {
				if d := time.Until(at); d > 0 {
					statusErr.RetryAfter = d
				}
			}
		}
		return fetchResult{}, statusErr
	}

	tmpPath := destPath + types.IncompleteSuffix
	out, err := os.Create(tmpPath)
	if err != nil {
		return fetchResult{}, &types.DiskError{Path: tmpPath, Err: err}
	}

	success := false
	defer func() {
		out.Close()
		if !success {
			os.Remove(tmpPath)
		}
	}()

	var written int64
	buf := make([]byte, fetchBufferSize)
	for {
		select {
		case <-ctx.Done():
			return fetchResult{}, ctx.Err()
		default:
		}

		nr, readErr := resp.Body.Read(buf)
		if nr > 0 {
			nw, writeErr := out.Write(buf[:nr])
			written += int64(nw)
			if writeErr != nil {
				return fetchResult{}, &types.DiskError{Path: tmpPath, Err: writeErr}
			}
			if nw != nr {
				return fetchResult{}, &types.DiskError{Path: tmpPath, Err: io.ErrShortWrite}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return fetchResult{}, fmt.Errorf("read %s: %w", fetchURL, readErr)
		}
	}

	if err := out.Sync(); err != nil {
		return fetchResult{}, &types.DiskError{Path: tmpPath, Err: err}
	}
	if err := out.Close(); err != nil {
		return fetchResult{}, &types.DiskError{Path: tmpPath, Err: err}
	}

	success = true
	return fetchResult{TmpPath: tmpPath, Bytes: written}, nil
}

// finalize moves the temporary file to its destination, falling back to a
// copy when rename crosses devices.
func finalize(tmpPath, destPath string) error {
	if err := os.Rename(tmpPath, destPath); err == nil {
		return nil
	}
	if err := copyFile(tmpPath, destPath); err != nil {
		return &types.DiskError{Path: destPath, Err: err}
	}
	os.Remove(tmpPath)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
