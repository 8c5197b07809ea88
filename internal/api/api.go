// Package api is the thin LumiNUS-specific facade over internal/httpclient
// and internal/auth: it attaches the APIM subscription key and bearer
// headers, (de)serializes JSON, and exposes CustomRequest for the
// Panopto/Zoom endpoints that live outside the LumiNUS API surface
// entirely.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nuslumi/luminus-sync/internal/auth"
	"github.com/nuslumi/luminus-sync/internal/httpclient"
)

// BaseURL is LumiNUS's versioned API root; every relative path given to
// Client.Get/PostForm/GetJSON/PostFormJSON is resolved against it.
const BaseURL = "https://luminus.nus.edu.sg/v2/api/"

// SubscriptionKey is the APIM subscription key LumiNUS's gateway requires
// on every request, including the ADFS token exchange.
const SubscriptionKey = "6963c200ca9440de8fa1eede730d8f7e"

var (
	ErrDeserialize = errors.New("api: deserializing JSON response")
	ErrStatus      = errors.New("api: unexpected HTTP status")
)

// Client wraps a session's bearer token and the shared retrying HTTP
// client, presenting LumiNUS endpoints as plain Go methods.
type Client struct {
	session *auth.Session
	base    *url.URL
}

// New builds a Client bound to an authenticated Session.
func New(session *auth.Session) (*Client, error) {
	base, err := url.Parse(BaseURL)
	if err != nil {
		return nil, fmt.Errorf("api: parsing base URL: %w", err)
	}
	return &Client{session: session, base: base}, nil
}

// HTTP exposes the underlying retrying client. It is not itself an
// engine.HTTPDoer; its HTTP field is the raw *http.Client that
// internal/engine.StreamToFile takes.
func (c *Client) HTTP() *httpclient.Client { return c.session.HTTP }

// Session exposes the bound session, e.g. so loaders can call LoginZoom.
func (c *Client) Session() *auth.Session { return c.session }

func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("api: parsing path %q: %w", path, err)
	}
	return c.base.ResolveReference(ref).String(), nil
}

func (c *Client) authenticate(req *http.Request) error {
	req.Header.Set("Ocp-Apim-Subscription-Key", SubscriptionKey)
	req.Header.Set("Authorization", "Bearer "+c.session.Token)
	return nil
}

// Get issues an authenticated GET against a path relative to BaseURL and
// returns the raw response for callers that don't want JSON decoding
// (e.g. workbin's signed-URL redirect targets).
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	full, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	return c.session.HTTP.Send(ctx, http.MethodGet, full, httpclient.ContentNone, nil, nil, c.authenticate)
}

// PostForm issues an authenticated POST with a URL-encoded form body.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	full, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	return c.session.HTTP.Send(ctx, http.MethodPost, full, httpclient.ContentForm, form, nil, c.authenticate)
}

// GetJSON GETs path and decodes the JSON response body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	return decodeJSON(resp, out)
}

// PostFormJSON POSTs form to path and decodes the JSON response into out.
func (c *Client) PostFormJSON(ctx context.Context, path string, form url.Values, out any) error {
	resp, err := c.PostForm(ctx, path, form)
	if err != nil {
		return err
	}
	return decodeJSON(resp, out)
}

func decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	return nil
}

// CustomRequest is the escape hatch for Panopto and Zoom endpoints that
// live entirely outside the LumiNUS API (no base URL, no APIM header, no
// bearer) but still want the shared infinite-retry send and desktop-UA
// quirks those services require. build receives the freshly-constructed
// request for the caller to finish customizing (headers, body already set
// by mode/form/jsonBody).
func (c *Client) CustomRequest(ctx context.Context, method, fullURL string, mode httpclient.ContentMode, form url.Values, jsonBody []byte, build httpclient.BuildFunc) (*http.Response, error) {
	return c.session.HTTP.Send(ctx, method, fullURL, mode, form, jsonBody, build)
}

// DesktopUserAgent is the fixed User-Agent Panopto and Zoom's web tier
// require; a mobile/bot-looking UA makes Panopto answer with HTTP 500.
const DesktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
