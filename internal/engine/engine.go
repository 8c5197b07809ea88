// Package engine implements the resource/download abstraction at the heart
// of luminus-sync: the Resource interface every loader implements, the
// overwrite-mode state machine that decides whether a local file needs
// refreshing, and the infinite-retry commit-to-disk primitive every
// download eventually funnels through.
package engine

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"
)

// Sentinel errors. Callers inspect these with errors.Is; loaders wrap them
// with additional context via fmt.Errorf("...: %w", err).
var (
	ErrPermissionDenied    = errors.New("engine: permission denied retrieving file metadata")
	ErrMetadataUnavailable = errors.New("engine: unable to retrieve file metadata")
	ErrFilesystem          = errors.New("engine: filesystem error")
)

// HTTPDoer is the minimal HTTP surface engine needs. *http.Client satisfies
// it directly; internal/httpclient.Client does not (it only exposes Send),
// so callers pass its HTTP field.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// OverwriteMode controls what PreparePath does when a local file already
// exists and is older than the remote resource.
type OverwriteMode int

const (
	Skip OverwriteMode = iota
	Overwrite
	Rename
)

func (m OverwriteMode) String() string {
	switch m {
	case Skip:
		return "skip"
	case Overwrite:
		return "overwrite"
	case Rename:
		return "rename"
	default:
		return "unknown"
	}
}

// OverwriteResultKind classifies what PreparePath/DoRetryableDownload
// actually did for one resource.
type OverwriteResultKind int

const (
	NewFile OverwriteResultKind = iota
	AlreadyHave
	Skipped
	Overwritten
	Renamed
)

// OverwriteResult is the outcome of resolving one resource against the
// local filesystem. RenamedPath is only meaningful when Kind is Renamed.
type OverwriteResult struct {
	Kind        OverwriteResultKind
	RenamedPath string
}

// RetryableError tags an error from a download attempt as either Retry
// (transient, the attempt loop should clean up and try again forever) or
// Fail (permanent, the attempt loop should give up immediately).
type RetryableError struct {
	retry bool
	err   error
}

// Retry wraps err as a transient failure: the caller should clean up its
// partial state and attempt the download again.
func Retry(err error) *RetryableError { return &RetryableError{retry: true, err: err} }

// Fail wraps err as a permanent failure: the caller should give up.
func Fail(err error) *RetryableError { return &RetryableError{retry: false, err: err} }

func (e *RetryableError) Error() string   { return e.err.Error() }
func (e *RetryableError) Unwrap() error   { return e.err }
func (e *RetryableError) ShouldRetry() bool {
	return e != nil && e.retry
}

// Resource is anything the sync engine can locate, uniquify a path for, and
// download. Every loader package (workbin, multimedia, panopto, zoomrec)
// produces concrete types implementing this interface; internal/orchestrator
// operates purely in terms of it, handing internal/uniquify a minimal Entry
// view of each one.
type Resource interface {
	ID() string
	Path() string
	SetPath(path string)
	LastUpdated() time.Time
	Download(ctx context.Context, client HTTPDoer, destRoot string, overwrite OverwriteMode) (OverwriteResult, error)
}

// SimpleDownloadable is the narrower contract for resources whose download
// is "fetch this URL and stream it to disk" with no extra protocol dance.
// Such resources implement Download by delegating to DownloadSimple instead
// of reimplementing the retry/commit state machine.
type SimpleDownloadable interface {
	Resource
	DownloadURL(ctx context.Context) (string, error)
}

// ResolvePaths derives the destination file path and its sibling temp-file
// path from a destination root and a resource's forward-slash relative
// path. The temp file lives next to the final destination so the final
// os.Rename is same-filesystem and therefore atomic.
func ResolvePaths(destRoot, relPath string) (dest, temp string) {
	dest = filepath.Join(destRoot, filepath.FromSlash(relPath))
	temp = filepath.Join(filepath.Dir(dest), "~!"+filepath.Base(dest))
	return dest, temp
}
