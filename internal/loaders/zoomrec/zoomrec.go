// Package zoomrec loads and downloads a module's Zoom cloud recordings: it
// lists a module's conferences, resolves each one's cloud-recorded
// instances, and for multi-instance conferences appends a " (i)" suffix to
// keep each instance's filename distinct.
package zoomrec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/nuslumi/luminus-sync/internal/api"
	"github.com/nuslumi/luminus-sync/internal/auth"
	"github.com/nuslumi/luminus-sync/internal/engine"
	"github.com/nuslumi/luminus-sync/internal/httpclient"
	"github.com/nuslumi/luminus-sync/internal/logging"
	"github.com/nuslumi/luminus-sync/internal/sanitize"
)

const (
	zoomOrigin        = "https://nus-sg.zoom.us/"
	validatePasswdURL = zoomOrigin + "rec/validate_meet_passwd"
	sharePathPrefix   = "/rec/share"

	// maxCloudRecordNotFoundAttempts bounds the retry budget for the
	// cloudrecord endpoint's nested code=404 ("recording not uploaded yet"),
	// distinct from the unbounded retry the HTTP client layer already
	// applies to transport failures.
	maxCloudRecordNotFoundAttempts = 5
)

var viewMp4URLPattern = regexp.MustCompile(`viewMp4Url:\s*'([^']*)'`)

type conference struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	StartDate          string `json:"startDate"`
	IsPublishRecordURL bool   `json:"isPublishRecordURL"`
	RecordType         int    `json:"recordType"`
}

type conferenceList struct {
	Data []conference `json:"data"`
}

type recordInstance struct {
	ShareURL string `json:"shareURL"`
	Password string `json:"password"`
}

type cloudRecordResponse struct {
	Code            int              `json:"code"`
	RecordInstances []recordInstance `json:"recordInstances"`
}

// Recording is a single Zoom cloud-recorded instance of a conference,
// identified by its signed share URL and optional viewing password.
type Recording struct {
	client    *api.Client
	session   *auth.Session
	authCfg   auth.Config
	path      string
	shareURL  string
	password  string
	startDate time.Time
}

// ID returns the share URL rather than the conference ID: share URLs are
// unique per recorded instance, while a conference can have several
// recorded instances sharing one conference ID, so only the share URL is
// safe to use as the uniquification key.
func (r *Recording) ID() string             { return r.shareURL }
func (r *Recording) Path() string           { return r.path }
func (r *Recording) SetPath(path string)    { r.path = path }
func (r *Recording) LastUpdated() time.Time { return r.startDate }

// Download acquires a fresh MP4 URL on every attempt (re-running the
// password dance from scratch), since a share link or password can expire
// between a failed attempt and a retry; that's why the retryable-download
// abstraction takes a closure here rather than a plain value.
func (r *Recording) Download(ctx context.Context, client engine.HTTPDoer, destRoot string, overwrite engine.OverwriteMode) (engine.OverwriteResult, error) {
	dest, temp := engine.ResolvePaths(destRoot, r.path)
	return engine.DoRetryableDownload(ctx, dest, temp, overwrite, r.startDate,
		func(ctx context.Context) (struct{}, error) {
			if err := r.session.LoginZoom(ctx, r.authCfg); err != nil {
				return struct{}{}, fmt.Errorf("zoomrec: zoom SSO: %w", err)
			}
			return struct{}{}, nil
		},
		func(ctx context.Context, _ struct{}, temp string) error {
			mp4URL, err := resolveMP4URL(ctx, r.client, r.shareURL, r.password)
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, mp4URL, nil)
			if err != nil {
				return engine.Fail(fmt.Errorf("building request: %w", err))
			}
			req.Header.Set("Range", "bytes=0-")
			req.Header.Set("Referer", zoomOrigin)
			req.Header.Set("User-Agent", api.DesktopUserAgent)
			return engine.StreamToFile(ctx, client, req, temp)
		},
		logging.FromContext(ctx),
	)
}

func setDesktopUA(req *http.Request) error {
	req.Header.Set("User-Agent", api.DesktopUserAgent)
	return nil
}

// resolveMP4URL runs the share-link/password dance against the live Zoom
// share page and returns the direct MP4 URL scraped from the final video
// page's HTML.
func resolveMP4URL(ctx context.Context, client *api.Client, shareURL, password string) (string, error) {
	resp, err := client.CustomRequest(ctx, http.MethodGet, shareURL, httpclient.ContentNone, nil, nil, setDesktopUA)
	if err != nil {
		return "", fmt.Errorf("zoomrec: fetching share page: %w", err)
	}

	if isSharePage(resp) {
		sharePageBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return "", engine.Retry(fmt.Errorf("zoomrec: reading share page: %w", readErr))
		}
		meetID, meetIDErr := extractMeetID(strings.NewReader(string(sharePageBody)))
		if meetIDErr != nil {
			return "", engine.Fail(fmt.Errorf("zoomrec: %w", meetIDErr))
		}
		resp, err = unlockWithPassword(ctx, client, shareURL, meetID, password)
		if err != nil {
			return "", err
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", engine.Retry(fmt.Errorf("zoomrec: reading video page: %w", err))
	}

	match := viewMp4URLPattern.FindSubmatch(body)
	if match == nil {
		return "", engine.Fail(fmt.Errorf("zoomrec: video page carried no viewMp4Url"))
	}
	return string(match[1]), nil
}

func isSharePage(resp *http.Response) bool {
	return resp.Request != nil && resp.Request.URL != nil && strings.HasPrefix(resp.Request.URL.Path, sharePathPrefix)
}

type validatePasswdResponse struct {
	Status bool `json:"status"`
}

func unlockWithPassword(ctx context.Context, client *api.Client, shareURL, meetID, password string) (*http.Response, error) {
	form := url.Values{
		"id":        {meetID},
		"passwd":    {password},
		"action":    {"viewdetailpage"},
		"recaptcha": {""},
	}
	validateResp, err := client.CustomRequest(ctx, http.MethodPost, validatePasswdURL, httpclient.ContentForm, form, nil, func(req *http.Request) error {
		req.Header.Set("Referer", shareURL)
		return setDesktopUA(req)
	})
	if err != nil {
		return nil, fmt.Errorf("zoomrec: validating recording password: %w", err)
	}
	defer validateResp.Body.Close()

	var decoded validatePasswdResponse
	if err := json.NewDecoder(validateResp.Body).Decode(&decoded); err != nil {
		return nil, engine.Fail(fmt.Errorf("zoomrec: decoding password validation response: %w", err))
	}
	if !decoded.Status {
		return nil, engine.Fail(fmt.Errorf("zoomrec: recording password rejected"))
	}

	resp, err := client.CustomRequest(ctx, http.MethodGet, shareURL, httpclient.ContentNone, nil, nil, setDesktopUA)
	if err != nil {
		return nil, fmt.Errorf("zoomrec: re-fetching share page after password: %w", err)
	}
	if isSharePage(resp) {
		resp.Body.Close()
		return nil, engine.Fail(fmt.Errorf("zoomrec: recording password was rejected"))
	}
	return resp, nil
}

// extractMeetID scrapes the #meetId hidden input's value out of the share
// page's HTML, the same value the share page's own JavaScript reads before
// posting to validate_meet_passwd.
func extractMeetID(body io.Reader) (string, error) {
	doc, err := html.Parse(body)
	if err != nil {
		return "", fmt.Errorf("zoomrec: parsing share page HTML: %w", err)
	}
	var value string
	var found bool
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found {
			return
		}
		if n.Type == html.ElementNode && n.Data == "input" && attr(n, "id") == "meetId" {
			value = attr(n, "value")
			found = true
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if !found {
		return "", fmt.Errorf("zoomrec: no #meetId input found")
	}
	return value, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func appendNumber(name string, number int) string {
	return fmt.Sprintf("%s (%d)", name, number)
}

// Load lists moduleID's conferences and returns the Zoom recordings
// available for it. Conferences are filtered to isPublishRecordURL=true,
// preferred over the legacy recordType==1 flag, which plays no part in the
// decision; a conference where the two disagree is logged at warn, so an
// operator can notice the API drifting.
func Load(ctx context.Context, client *api.Client, session *auth.Session, authCfg auth.Config, moduleID, path string) ([]*Recording, error) {
	var conferences conferenceList
	if err := client.GetJSON(ctx, "zoom/Meeting/"+moduleID+"/Meetings?offset=0&sortby=startDate%20asc&populate=null", &conferences); err != nil {
		return nil, fmt.Errorf("zoomrec: listing conferences: %w", err)
	}

	log := logging.FromContext(ctx)
	results := make([][]*Recording, len(conferences.Data))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range conferences.Data {
		i, c := i, c
		if c.IsPublishRecordURL != (c.RecordType == 1) {
			log.Warn().Str("conference_id", c.ID).Bool("is_publish_record_url", c.IsPublishRecordURL).Int("record_type", c.RecordType).Msg("conference recording-availability flags disagree")
		}
		if !c.IsPublishRecordURL {
			continue
		}
		g.Go(func() error {
			recs, err := loadCloudRecord(gctx, client, session, authCfg, c, path)
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var flat []*Recording
	for _, r := range results {
		flat = append(flat, r...)
	}
	return flat, nil
}

func loadCloudRecord(ctx context.Context, client *api.Client, session *auth.Session, authCfg auth.Config, c conference, path string) ([]*Recording, error) {
	record, err := fetchCloudRecord(ctx, client, c.ID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		// Exhausted the 404 retry budget: treat as "no recording uploaded yet".
		return nil, nil
	}

	startDate, err := time.Parse(time.RFC3339, c.StartDate)
	if err != nil {
		return nil, fmt.Errorf("zoomrec: parsing startDate for conference %s: %w", c.ID, err)
	}

	cleanName := sanitize.Filename(c.Name)
	recordings := make([]*Recording, 0, len(record.RecordInstances))
	switch len(record.RecordInstances) {
	case 0:
		// No recording for this meeting; maybe it hasn't been uploaded yet.
	case 1:
		inst := record.RecordInstances[0]
		recordings = append(recordings, &Recording{
			client: client, session: session, authCfg: authCfg,
			path:      joinPath(path, sanitize.ReplaceExtension(cleanName, "mp4")),
			shareURL:  inst.ShareURL,
			password:  inst.Password,
			startDate: startDate,
		})
	default:
		for i, inst := range record.RecordInstances {
			recordings = append(recordings, &Recording{
				client: client, session: session, authCfg: authCfg,
				path:      joinPath(path, sanitize.ReplaceExtension(appendNumber(cleanName, i+1), "mp4")),
				shareURL:  inst.ShareURL,
				password:  inst.Password,
				startDate: startDate,
			})
		}
	}
	return recordings, nil
}

// fetchCloudRecord polls zoom/Meeting/{id}/cloudrecord, interpreting its
// nested status code: code=400 means rate-limited and is retried
// indefinitely (the same no-backoff shape as every other retry in this
// codebase); code=404 means "not recorded yet" and is retried up to
// maxCloudRecordNotFoundAttempts times before giving up; any other code is
// accepted as final. A nil, nil return means the 404 budget was exhausted.
func fetchCloudRecord(ctx context.Context, client *api.Client, conferenceID string) (*cloudRecordResponse, error) {
	notFoundAttempts := 0
	var result *cloudRecordResponse
	err := retry.Do(
		func() error {
			var resp cloudRecordResponse
			if err := client.GetJSON(ctx, "zoom/Meeting/"+conferenceID+"/cloudrecord", &resp); err != nil {
				return retry.Unrecoverable(fmt.Errorf("zoomrec: fetching cloud record: %w", err))
			}
			switch resp.Code {
			case 400:
				return fmt.Errorf("zoomrec: cloudrecord rate-limited (code 400)")
			case 404:
				notFoundAttempts++
				if notFoundAttempts >= maxCloudRecordNotFoundAttempts {
					result = nil
					return nil
				}
				return fmt.Errorf("zoomrec: cloudrecord not yet available (code 404), attempt %d", notFoundAttempts)
			default:
				result = &resp
				return nil
			}
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
