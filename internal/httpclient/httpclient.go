// Package httpclient builds the single shared HTTP client used for every
// LumiNUS/ADFS/Panopto/Zoom request, and provides an infinite-retry send
// primitive: retry transport-level failures forever with no backoff, and
// hand HTTP-status interpretation back to the caller instead of guessing
// at it here.
package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/net/publicsuffix"

	"github.com/nuslumi/luminus-sync/internal/engine"
	"github.com/nuslumi/luminus-sync/internal/logging"
)

// ErrTooManyRedirects is returned when a request follows more than
// MaxRedirects hops without settling.
var ErrTooManyRedirects = errors.New("httpclient: too many redirects")

// ErrBuild is a permanent failure from a caller-provided request builder.
var ErrBuild = errors.New("httpclient: building request")

const (
	// MaxRedirects is the hop cap a redirect chain may follow before Send
	// gives up on it.
	MaxRedirects = 5
	// DefaultTimeout bounds any single HTTP round trip.
	DefaultTimeout = 60 * time.Second
)

// Config tunes the shared client. PinnedCAPEM, when non-empty, is appended
// to the system root pool so a corporate TLS-inspecting proxy or an
// institution-specific intermediate CA between here and ADFS validates.
type Config struct {
	Timeout     time.Duration
	PinnedCAPEM []byte
}

// New builds the shared *http.Client: cookie jar enabled, HTTP/2 disabled on
// the transport (ADFS expects title-case HTTP/1.1 headers, which
// http.Header.Set/Add already produce; disabling HTTP/2 avoids h2's header
// folding changing that), root pool optionally augmented with a pinned CA,
// and a redirect policy capped at MaxRedirects hops.
func New(cfg Config) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("httpclient: building cookie jar: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ForceAttemptHTTP2 = false
	transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}

	if len(cfg.PinnedCAPEM) > 0 {
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(cfg.PinnedCAPEM) {
			return nil, fmt.Errorf("httpclient: pinned CA PEM contained no usable certificates")
		}
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.RootCAs = pool
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &http.Client{
		Jar:       jar,
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= MaxRedirects {
				return fmt.Errorf("%w: %d hops following %s", ErrTooManyRedirects, len(via), req.URL)
			}
			return nil
		},
	}, nil
}

// ContentMode selects how Send encodes the request body: a bare request
// with no body, a JSON body, or a URL-encoded form body.
type ContentMode int

const (
	ContentNone ContentMode = iota
	ContentJSON
	ContentForm
)

// Client wraps a *http.Client with the infinite-retry send primitive.
// Everything in this package below New is in terms of this primitive;
// internal/api layers LumiNUS-specific headers and JSON decoding on top.
type Client struct {
	HTTP *http.Client
	Log  logging.Logger
}

// NewClient wraps an already-built *http.Client, typically the one New
// above returns, or a test double for internal/api's unit tests.
func NewClient(httpClient *http.Client, log logging.Logger) *Client {
	return &Client{HTTP: httpClient, Log: log}
}

// BuildFunc customizes a request after Send has attached method, URL and
// body; used for adding auth/APIM headers and other per-call customization
// uniformly across modes.
type BuildFunc func(req *http.Request) error

// Send implements the infinite-retry primitive: serialize the body once,
// then loop building a fresh request (body and all — http.NewRequest
// consumes the reader) and sending it, retrying forever on transport-level
// send failures with no backoff, and returning the response as soon as the
// send itself succeeds regardless of status code. Callers interpret status
// codes; Send never does.
func (c *Client) Send(ctx context.Context, method, rawURL string, mode ContentMode, form url.Values, jsonBody []byte, build BuildFunc) (*http.Response, error) {
	var bodyBytes []byte
	var contentType string

	switch mode {
	case ContentForm:
		if form != nil {
			bodyBytes = []byte(form.Encode())
		}
		contentType = "application/x-www-form-urlencoded"
	case ContentJSON:
		bodyBytes = jsonBody
		contentType = "application/json"
	}

	var resp *http.Response
	err := retry.Do(
		func() error {
			var bodyReader io.Reader
			if bodyBytes != nil {
				bodyReader = strings.NewReader(string(bodyBytes))
			}
			req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("%w: %v", ErrBuild, err))
			}
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}
			if build != nil {
				if err := build(req); err != nil {
					return retry.Unrecoverable(fmt.Errorf("%w: %v", ErrBuild, err))
				}
			}

			r, sendErr := c.HTTP.Do(req)
			if sendErr != nil {
				return engine.Retry(fmt.Errorf("sending request to %s: %w", rawURL, sendErr))
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var re *engine.RetryableError
			if errors.As(err, &re) {
				return re.ShouldRetry()
			}
			return false
		}),
		retry.OnRetry(func(n uint, err error) {
			c.Log.Warn().Uint("attempt", n+1).Err(err).Str("url", rawURL).Msg("retrying request after transport failure")
		}),
	)
	if err != nil {
		var re *engine.RetryableError
		if errors.As(err, &re) {
			return nil, re.Unwrap()
		}
		return nil, err
	}
	return resp, nil
}
