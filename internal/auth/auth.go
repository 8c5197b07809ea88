// Package auth implements two login flows: the primary ADFS
// authorization-code exchange that every run requires, and the optional,
// lazily-triggered Zoom SAML SSO relay needed only when Zoom recordings
// are requested.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/net/html"
	"golang.org/x/oauth2"
	"golang.org/x/text/unicode/norm"

	"github.com/nuslumi/luminus-sync/internal/httpclient"
	"github.com/nuslumi/luminus-sync/internal/logging"
)

// Error Type values for AuthError.
const (
	TypeInvalidCredentials = "invalid_credentials"
	TypeMissingCode        = "missing_code"
	TypeTokenExchange      = "token_exchange"
	TypeMalformedResponse  = "malformed_response"
	TypeZoomRelay          = "zoom_relay"
)

// AuthError is a distinct, inspectable login failure. Type is a stable
// string a caller can switch on; Err, when present, carries the underlying
// cause for %w-wrapping and logging.
type AuthError struct {
	Type   string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %s: %v", e.Type, e.Reason, e.Err)
	}
	return fmt.Sprintf("auth: %s: %s", e.Type, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Config holds the fixed parameters of the ADFS/LumiNUS/Zoom environment.
// None of these vary per run; they are constants of the institution's
// deployment, not user-supplied flags.
type Config struct {
	AuthorizeURL      string
	TokenURL          string
	ClientID          string
	Resource          string
	RedirectURI       string
	SubscriptionKey   string
	ZoomSignInURL     string
	ZoomProfilePrefix string
}

// DefaultConfig returns the fixed ADFS/LumiNUS/Zoom endpoint set
// cmd/luminus-sync wires up at startup. SubscriptionKey is duplicated here
// as a literal rather than referencing api.SubscriptionKey, since
// internal/api already imports internal/auth for Session and importing it
// back would cycle.
func DefaultConfig() Config {
	return Config{
		AuthorizeURL:      "https://luminus.nus.edu.sg/auth/oauth2/authorize",
		TokenURL:          "https://luminus.nus.edu.sg/v2/api/login/adfstoken",
		ClientID:          "verso",
		Resource:          "https://luminus.nus.edu.sg",
		RedirectURI:       "https://luminus.nus.edu.sg/auth/callback",
		SubscriptionKey:   "6963c200ca9440de8fa1eede730d8f7e",
		ZoomSignInURL:     "https://nus-sg.zoom.us/signin",
		ZoomProfilePrefix: "https://nus-sg.zoom.us/profile",
	}
}

// Session is the credential-bearing context every subsequent API call
// rides on. Its lifetime is the process: Login constructs it once, and
// LoginZoom is the only thing allowed to mutate it afterward, exactly once,
// guarded by zoomOnce.
type Session struct {
	Token      string
	HTTP       *httpclient.Client
	FFmpegPath string

	zoomOnce          sync.Once
	zoomAuthenticated bool
	zoomErr           error
}

// ZoomAuthenticated reports whether LoginZoom has already completed
// successfully for this session.
func (s *Session) ZoomAuthenticated() bool {
	return s.zoomAuthenticated
}

type adfsTokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Login runs the primary ADFS authorization-code flow and returns a new
// Session carrying the resulting bearer token.
func Login(ctx context.Context, client *httpclient.Client, cfg Config, username, password string) (*Session, error) {
	log := logging.FromContext(ctx)

	nonce, err := randomHex(16)
	if err != nil {
		return nil, fmt.Errorf("auth: generating nonce: %w", err)
	}

	oauthCfg := &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURI,
		Endpoint:    oauth2.Endpoint{AuthURL: cfg.AuthorizeURL},
	}
	authURL := oauthCfg.AuthCodeURL(nonce,
		oauth2.SetAuthURLParam("resource", cfg.Resource),
		oauth2.SetAuthURLParam("nonce", nonce),
	)

	form := url.Values{
		"UserName":   {norm.NFC.String(username)},
		"Password":   {norm.NFC.String(password)},
		"AuthMethod": {"FormsAuthentication"},
	}

	resp, err := client.Send(ctx, http.MethodPost, authURL, httpclient.ContentForm, form, nil, nil)
	if err != nil {
		return nil, &AuthError{Type: TypeInvalidCredentials, Reason: "posting login form to ADFS", Err: err}
	}
	defer resp.Body.Close()

	finalURL := ""
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	if !strings.HasPrefix(finalURL, cfg.RedirectURI) {
		return nil, &AuthError{Type: TypeInvalidCredentials, Reason: "login did not redirect back to LumiNUS; credentials are likely wrong"}
	}

	parsedFinal, err := url.Parse(finalURL)
	if err != nil {
		return nil, &AuthError{Type: TypeMissingCode, Reason: "parsing redirect URL", Err: err}
	}
	code := parsedFinal.Query().Get("code")
	if code == "" {
		return nil, &AuthError{Type: TypeMissingCode, Reason: "redirect URL carried no code parameter"}
	}

	tokenForm := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {cfg.ClientID},
		"resource":     {cfg.Resource},
		"redirect_uri": {cfg.RedirectURI},
		"code":         {code},
	}
	tokenResp, err := client.Send(ctx, http.MethodPost, cfg.TokenURL, httpclient.ContentForm, tokenForm, nil, func(req *http.Request) error {
		req.Header.Set("Ocp-Apim-Subscription-Key", cfg.SubscriptionKey)
		return nil
	})
	if err != nil {
		return nil, &AuthError{Type: TypeTokenExchange, Reason: "exchanging code for token", Err: err}
	}
	defer tokenResp.Body.Close()

	if tokenResp.StatusCode < 200 || tokenResp.StatusCode >= 300 {
		return nil, &AuthError{Type: TypeTokenExchange, Reason: fmt.Sprintf("login/adfstoken returned status %d", tokenResp.StatusCode)}
	}

	var decoded adfsTokenResponse
	if err := json.NewDecoder(tokenResp.Body).Decode(&decoded); err != nil {
		return nil, &AuthError{Type: TypeMalformedResponse, Reason: "decoding token response", Err: err}
	}
	if decoded.AccessToken == "" {
		return nil, &AuthError{Type: TypeMalformedResponse, Reason: "token response carried no access_token"}
	}

	logTokenExpiry(log, decoded.AccessToken)

	return &Session{Token: decoded.AccessToken, HTTP: client}, nil
}

// logTokenExpiry reads the exp claim off the already-signed ADFS token for
// a diagnostic log line only; we hold no ADFS signing key to verify it.
func logTokenExpiry(log logging.Logger, token string) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		log.Debug().Err(err).Msg("could not parse session token to log its expiry")
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	log.Info().Time("expires_at", exp.Time).Msg("session token expiry")
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// LoginZoom runs the Zoom SAML SSO relay exactly once per Session, caching
// both success and failure so repeated calls (one per Zoom resource that
// needs a signed-in cookie jar) don't repeat the three-hop relay.
func (s *Session) LoginZoom(ctx context.Context, cfg Config) error {
	s.zoomOnce.Do(func() {
		s.zoomErr = loginZoom(ctx, s.HTTP, cfg)
		s.zoomAuthenticated = s.zoomErr == nil
	})
	return s.zoomErr
}

func loginZoom(ctx context.Context, client *httpclient.Client, cfg Config) error {
	signInResp, err := client.Send(ctx, http.MethodGet, cfg.ZoomSignInURL, httpclient.ContentNone, nil, nil, nil)
	if err != nil {
		return &AuthError{Type: TypeZoomRelay, Reason: "fetching Zoom sign-in page", Err: err}
	}
	defer signInResp.Body.Close()

	idpURL, samlRequest, err := extractForm(signInResp.Body, "SAMLRequest")
	if err != nil {
		return &AuthError{Type: TypeZoomRelay, Reason: "parsing Zoom sign-in form", Err: err}
	}

	idpResp, err := client.Send(ctx, http.MethodPost, idpURL, httpclient.ContentForm, url.Values{"SAMLRequest": {samlRequest}}, nil, nil)
	if err != nil {
		return &AuthError{Type: TypeZoomRelay, Reason: "posting SAMLRequest to ADFS", Err: err}
	}
	defer idpResp.Body.Close()

	ssoURL, samlResponse, err := extractForm(idpResp.Body, "SAMLResponse")
	if err != nil {
		return &AuthError{Type: TypeZoomRelay, Reason: "parsing ADFS SAML response form", Err: err}
	}

	ssoResp, err := client.Send(ctx, http.MethodPost, ssoURL, httpclient.ContentForm, url.Values{"SAMLResponse": {samlResponse}}, nil, func(req *http.Request) error {
		req.Header.Set("Referer", cfg.AuthorizeURL)
		return nil
	})
	if err != nil {
		return &AuthError{Type: TypeZoomRelay, Reason: "posting SAMLResponse to Zoom", Err: err}
	}
	defer ssoResp.Body.Close()

	finalURL := ""
	if ssoResp.Request != nil && ssoResp.Request.URL != nil {
		finalURL = ssoResp.Request.URL.String()
	}
	if !strings.HasPrefix(finalURL, cfg.ZoomProfilePrefix) {
		return &AuthError{Type: TypeZoomRelay, Reason: "Zoom SSO did not land on the expected profile page"}
	}
	return nil
}

// extractForm parses the first <form method="post"> in body and returns its
// action attribute plus the value of the named input, both HTML-entity
// decoded. golang.org/x/net/html already decodes entities while tokenizing
// attribute values; the explicit html.UnescapeString pass below is a
// defensive second pass, since federated-login relays are known to
// double-encode the occasional ampersand in SAMLRequest/SAMLResponse blobs.
func extractForm(body io.Reader, inputName string) (action, value string, err error) {
	doc, err := html.Parse(body)
	if err != nil {
		return "", "", fmt.Errorf("parsing HTML: %w", err)
	}

	var form *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if form != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "form" && attr(n, "method") == "post" {
			form = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if form == nil {
		return "", "", fmt.Errorf("no <form method=post> found")
	}
	action = html.UnescapeString(attr(form, "action"))

	var input *html.Node
	var findInput func(*html.Node)
	findInput = func(n *html.Node) {
		if input != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "input" && attr(n, "name") == inputName {
			input = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findInput(c)
		}
	}
	findInput(form)
	if input == nil {
		return "", "", fmt.Errorf("no <input name=%q> found in form", inputName)
	}
	value = html.UnescapeString(attr(input, "value"))
	return action, value, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
