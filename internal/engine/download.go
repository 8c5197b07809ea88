package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/nuslumi/luminus-sync/internal/logging"
)

// DownloadFunc performs one attempt at writing a resource's content to the
// temp file at temp. It returns a *RetryableError (via Retry or Fail) for
// any failure the infinite-retry loop should act on; any other error is
// treated as permanent.
type DownloadFunc func(ctx context.Context, temp string) error

// InfiniteRetryDownload runs attempt against temp in a loop with no backoff
// delay between attempts, retrying forever on Retry errors and stopping
// immediately on Fail errors, context cancellation, or success. On success
// it atomically renames temp to dest. retry.Attempts(0) means unbounded per
// the library's own documented semantics; retry.Delay(0) with
// retry.FixedDelay suppresses any backoff between attempts.
func InfiniteRetryDownload(ctx context.Context, dest, temp string, attempt DownloadFunc, log logging.Logger) error {
	attemptN := 0
	err := retry.Do(
		func() error {
			attemptN++
			if err := attempt(ctx, temp); err != nil {
				return err
			}
			if err := os.Rename(temp, dest); err != nil {
				return retry.Unrecoverable(fmt.Errorf("%w: committing download: %v", ErrFilesystem, err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var re *RetryableError
			if errors.As(err, &re) {
				return re.ShouldRetry()
			}
			return false
		}),
		retry.OnRetry(func(n uint, err error) {
			if removeErr := os.Remove(temp); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
				log.Warn().Err(removeErr).Str("temp", temp).Msg("failed to remove temp file before retry")
			}
			log.Debug().Uint("attempt", n).Err(err).Str("dest", dest).Msg("retrying download")
		}),
	)
	if err != nil {
		_ = os.Remove(temp)
		var re *RetryableError
		if errors.As(err, &re) {
			return re.err
		}
		return err
	}
	return nil
}

// DoRetryableDownload runs the full per-resource state machine: PreparePath
// decides whether anything needs to happen at all, before acquires
// whatever protocol-specific data the download needs (a signed URL, a set
// of HLS stream specs, ...) exactly once, InfiniteRetryDownload drives the
// attempt loop, and a final os.Chtimes stamps the file with the resource's
// server-reported modification time so future runs compare against it.
//
// T is the type of data before acquires, letting each resource kind plug in
// its own protocol-specific payload without DoRetryableDownload knowing its
// shape.
func DoRetryableDownload[T any](
	ctx context.Context,
	dest, temp string,
	overwrite OverwriteMode,
	lastUpdated time.Time,
	before func(ctx context.Context) (T, error),
	download func(ctx context.Context, data T, temp string) error,
	log logging.Logger,
) (OverwriteResult, error) {
	shouldDownload, result, err := PreparePath(dest, overwrite, lastUpdated)
	if err != nil {
		return OverwriteResult{}, err
	}
	if !shouldDownload {
		return result, nil
	}

	data, err := before(ctx)
	if err != nil {
		return OverwriteResult{}, err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return OverwriteResult{}, fmt.Errorf("%w: creating directory: %v", ErrFilesystem, err)
	}

	attempt := func(ctx context.Context, temp string) error {
		return download(ctx, data, temp)
	}
	if err := InfiniteRetryDownload(ctx, dest, temp, attempt, log); err != nil {
		return OverwriteResult{}, err
	}

	if err := os.Chtimes(dest, lastUpdated, lastUpdated); err != nil {
		return OverwriteResult{}, fmt.Errorf("%w: setting mtime: %v", ErrFilesystem, err)
	}

	return result, nil
}

// StreamToFile issues req and streams its response body to temp, classifying
// failures by where they happen: errors reading the response body are
// transient (Retry), errors opening or writing the temp file are permanent
// (Fail). Loaders needing custom
// headers (Range, Referer, desktop User-Agent for Panopto/Zoom) build req
// themselves and call this directly; DownloadSimple is the common case of a
// bare GET.
func StreamToFile(ctx context.Context, client HTTPDoer, req *http.Request, temp string) error {
	f, err := os.Create(temp)
	if err != nil {
		return Fail(fmt.Errorf("%w: opening temp file: %v", ErrFilesystem, err))
	}
	defer f.Close()

	resp, err := client.Do(req)
	if err != nil {
		return Retry(fmt.Errorf("sending request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Retry(fmt.Errorf("server returned status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return Fail(fmt.Errorf("server returned status %d", resp.StatusCode))
	}

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return Fail(fmt.Errorf("%w: writing to disk: %v", ErrFilesystem, writeErr))
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return Retry(fmt.Errorf("streaming response body: %w", readErr))
		}
	}
}

// DownloadSimple implements Resource.Download for any SimpleDownloadable:
// resolve dest/temp from destRoot and r.Path(), acquire the download URL
// once via r.DownloadURL, then StreamToFile a bare GET against it.
func DownloadSimple(ctx context.Context, r SimpleDownloadable, client HTTPDoer, destRoot string, overwrite OverwriteMode, log logging.Logger) (OverwriteResult, error) {
	dest, temp := ResolvePaths(destRoot, r.Path())
	return DoRetryableDownload(ctx, dest, temp, overwrite, r.LastUpdated(),
		func(ctx context.Context) (string, error) {
			return r.DownloadURL(ctx)
		},
		func(ctx context.Context, url string, temp string) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return Fail(fmt.Errorf("building request: %w", err))
			}
			return StreamToFile(ctx, client, req, temp)
		},
		log,
	)
}
