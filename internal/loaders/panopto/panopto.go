// Package panopto implements the LTI launch/relay shared by the two Panopto
// resource families: externally-hosted multimedia and web lectures. Both
// start with an LTI launch through LumiNUS, land on a Panopto page carrying
// session/delivery identifiers in its final URL, then hit Panopto's own
// Data.svc/DeliveryInfo.aspx endpoints directly.
package panopto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nuslumi/luminus-sync/internal/api"
	"github.com/nuslumi/luminus-sync/internal/engine"
	"github.com/nuslumi/luminus-sync/internal/ffmpeg"
	"github.com/nuslumi/luminus-sync/internal/httpclient"
	"github.com/nuslumi/luminus-sync/internal/logging"
	"github.com/nuslumi/luminus-sync/internal/sanitize"
)

// GetSessionsURL and DeliveryInfoURL are Panopto's own endpoints, entirely
// outside LumiNUS's API surface. They are variables only so tests can point
// them at an httptest.Server.
var (
	GetSessionsURL  = "https://mediaweb.ap.panopto.com/Panopto/Services/Data.svc/GetSessions"
	DeliveryInfoURL = "https://mediaweb.ap.panopto.com/Panopto/Pages/Viewer/DeliveryInfo.aspx"
)

var (
	ErrStatus      = errors.New("panopto: unexpected HTTP status")
	ErrDeserialize = errors.New("panopto: deserializing JSON response")
	ErrNoStreams   = errors.New("panopto: delivery info carried no streams")
)

type launchQueryParam struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type launchDetails struct {
	LaunchURL string             `json:"launchURL"`
	DataItems []launchQueryParam `json:"dataItems"`
}

func setDesktopUA(req *http.Request) error {
	req.Header.Set("User-Agent", api.DesktopUserAgent)
	return nil
}

// Launch performs the LTI launch at apiPath (a LumiNUS-relative path) and
// POSTs the resulting launchURL/dataItems to Panopto, returning the final
// response after redirects. Callers inspect resp.Request.URL for the
// identifier Panopto embedded in it (a fragment or query parameter,
// depending on which flow is launching).
func Launch(ctx context.Context, client *api.Client, apiPath string) (*http.Response, error) {
	var details launchDetails
	if err := client.GetJSON(ctx, apiPath, &details); err != nil {
		return nil, fmt.Errorf("panopto: fetching launch details for %s: %w", apiPath, err)
	}

	form := url.Values{}
	for _, item := range details.DataItems {
		form.Set(item.Key, item.Value)
	}

	resp, err := client.CustomRequest(ctx, http.MethodPost, details.LaunchURL, httpclient.ContentForm, form, nil, setDesktopUA)
	if err != nil {
		return nil, fmt.Errorf("panopto: launching %s: %w", details.LaunchURL, err)
	}
	return resp, nil
}

type deliveryInfoResponse struct {
	Delivery struct {
		Streams []struct {
			RelativeStart float64 `json:"RelativeStart"`
			StreamURL     string  `json:"StreamUrl"`
		} `json:"Streams"`
	} `json:"Delivery"`
}

// GetStreamSpecs POSTs Panopto's DeliveryInfo.aspx for deliveryID and
// returns the muxer-ready stream list, mimicking the exact form fields
// Panopto's own web frontend sends.
func GetStreamSpecs(ctx context.Context, client *api.Client, deliveryID string) ([]ffmpeg.StreamSpec, error) {
	form := url.Values{
		"deliveryId":                 {deliveryID},
		"invocationId":               {""},
		"isLiveNotes":                {"false"},
		"refreshAuthCookie":          {"true"},
		"isActiveBroadcast":          {"false"},
		"isEditing":                  {"false"},
		"isKollectiveAgentInstalled": {"false"},
		"isEmbed":                    {"false"},
		"responseType":               {"json"},
	}

	resp, err := client.CustomRequest(ctx, http.MethodPost, DeliveryInfoURL, httpclient.ContentForm, form, nil, setDesktopUA)
	if err != nil {
		return nil, fmt.Errorf("panopto: fetching delivery info for %s: %w", deliveryID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	var info deliveryInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	if len(info.Delivery.Streams) == 0 {
		return nil, ErrNoStreams
	}

	specs := make([]ffmpeg.StreamSpec, len(info.Delivery.Streams))
	for i, s := range info.Delivery.Streams {
		specs[i] = ffmpeg.StreamSpec{StreamURLPath: s.StreamURL, OffsetSeconds: s.RelativeStart}
	}
	return specs, nil
}

// ExternalVideo is a Panopto-hosted video reachable through a module's
// external-tool multimedia channel. It has no server-reported modification
// time, so its LastUpdated is the Unix epoch, matching the original's
// deliberate SystemTime::UNIX_EPOCH sentinel.
type ExternalVideo struct {
	client *api.Client
	muxer  *ffmpeg.Muxer
	id     string
	path   string
}

func (v *ExternalVideo) ID() string            { return v.id }
func (v *ExternalVideo) Path() string          { return v.path }
func (v *ExternalVideo) SetPath(path string)   { v.path = path }
func (v *ExternalVideo) LastUpdated() time.Time { return time.Unix(0, 0).UTC() }

func (v *ExternalVideo) Download(ctx context.Context, _ engine.HTTPDoer, destRoot string, overwrite engine.OverwriteMode) (engine.OverwriteResult, error) {
	dest, temp := engine.ResolvePaths(destRoot, v.path)
	return engine.DoRetryableDownload(ctx, dest, temp, overwrite, v.LastUpdated(),
		func(ctx context.Context) ([]ffmpeg.StreamSpec, error) {
			return GetStreamSpecs(ctx, v.client, v.id)
		},
		func(ctx context.Context, specs []ffmpeg.StreamSpec, temp string) error {
			return v.muxer.MuxMulti(ctx, specs, temp)
		},
		logging.FromContext(ctx),
	)
}

type externalSessionsEnvelope struct {
	D struct {
		Results []struct {
			DeliveryID  string `json:"DeliveryID"`
			SessionName string `json:"SessionName"`
		} `json:"results"`
	} `json:"d"`
}

type getSessionsRequest struct {
	QueryParameters struct {
		FolderID string `json:"folderID"`
	} `json:"queryParameters"`
}

// LoadExternalChannel launches the mediaweb LTI tool for one external
// multimedia channel, extracts the Panopto folder ID from the resulting
// URL's fragment, and lists that folder's sessions as ExternalVideos.
func LoadExternalChannel(ctx context.Context, client *api.Client, muxer *ffmpeg.Muxer, channelID, channelName, path string) ([]*ExternalVideo, error) {
	resp, err := Launch(ctx, client, "lti/Launch/mediaweb?context_id="+channelID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	folderID, err := extractFolderID(resp)
	if err != nil {
		return nil, err
	}

	var reqBody getSessionsRequest
	reqBody.QueryParameters.FolderID = folderID
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("panopto: encoding GetSessions request: %w", err)
	}

	sessResp, err := client.CustomRequest(ctx, http.MethodPost, GetSessionsURL, httpclient.ContentJSON, nil, jsonBody, nil)
	if err != nil {
		return nil, fmt.Errorf("panopto: fetching sessions for folder %s: %w", folderID, err)
	}
	defer sessResp.Body.Close()

	if sessResp.StatusCode < 200 || sessResp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrStatus, sessResp.StatusCode)
	}
	var envelope externalSessionsEnvelope
	if err := json.NewDecoder(sessResp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}

	channelPath := joinPath(path, sanitize.Filename(channelName))
	videos := make([]*ExternalVideo, 0, len(envelope.D.Results))
	for _, r := range envelope.D.Results {
		videos = append(videos, &ExternalVideo{
			client: client,
			muxer:  muxer,
			id:     r.DeliveryID,
			path:   joinPath(channelPath, sanitize.ReplaceExtension(sanitize.Filename(r.SessionName), "mp4")),
		})
	}
	return videos, nil
}

// extractFolderID pulls the folderID out of a launch response's URL
// fragment, which Panopto renders as #folderID="xxxxxx" — note the embedded
// quote characters, which url.ParseQuery leaves untouched and this function
// strips explicitly, mirroring the original's manual quote-stripping.
func extractFolderID(resp *http.Response) (string, error) {
	if resp.Request == nil || resp.Request.URL == nil {
		return "", fmt.Errorf("panopto: launch response carried no final URL")
	}
	fragment := resp.Request.URL.Fragment
	if fragment == "" {
		return "", fmt.Errorf("panopto: launch response URL missing folder ID fragment")
	}
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return "", fmt.Errorf("panopto: parsing folder ID fragment %q: %w", fragment, err)
	}
	folderID := strings.Trim(values.Get("folderID"), `"`)
	if folderID == "" {
		return "", fmt.Errorf("panopto: empty folder ID in fragment %q", fragment)
	}
	return folderID, nil
}

// WebLectureVideo is a Panopto-hosted recording of a module's configured
// web lecture channel. Unlike ExternalVideo it carries a real
// server-reported last-updated timestamp from the weblecture session list,
// but its delivery ID (needed to mux streams) is only discoverable by
// re-launching the LTI tool at download time, since the session list never
// exposes it directly.
type WebLectureVideo struct {
	client   *api.Client
	muxer    *ffmpeg.Muxer
	moduleID string
	id       string
	path     string
	lastUpdated time.Time
}

func (v *WebLectureVideo) ID() string             { return v.id }
func (v *WebLectureVideo) Path() string           { return v.path }
func (v *WebLectureVideo) SetPath(path string)    { v.path = path }
func (v *WebLectureVideo) LastUpdated() time.Time { return v.lastUpdated }

func (v *WebLectureVideo) Download(ctx context.Context, _ engine.HTTPDoer, destRoot string, overwrite engine.OverwriteMode) (engine.OverwriteResult, error) {
	dest, temp := engine.ResolvePaths(destRoot, v.path)
	return engine.DoRetryableDownload(ctx, dest, temp, overwrite, v.lastUpdated,
		func(ctx context.Context) ([]ffmpeg.StreamSpec, error) {
			deliveryID, err := v.resolveDeliveryID(ctx)
			if err != nil {
				return nil, err
			}
			return GetStreamSpecs(ctx, v.client, deliveryID)
		},
		func(ctx context.Context, specs []ffmpeg.StreamSpec, temp string) error {
			return v.muxer.MuxMulti(ctx, specs, temp)
		},
		logging.FromContext(ctx),
	)
}

func (v *WebLectureVideo) resolveDeliveryID(ctx context.Context) (string, error) {
	resp, err := Launch(ctx, v.client, fmt.Sprintf("lti/Launch/panopto?context_id=%s&resource_link_id=%s", v.moduleID, v.id))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.Request == nil || resp.Request.URL == nil {
		return "", fmt.Errorf("panopto: web lecture launch carried no final URL")
	}
	deliveryID := resp.Request.URL.Query().Get("id")
	if deliveryID == "" {
		return "", fmt.Errorf("panopto: web lecture launch URL missing id parameter")
	}
	return deliveryID, nil
}

type weblectureHandle struct {
	ID string `json:"id"`
}

type weblectureSession struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	LastUpdatedDate string `json:"lastUpdatedDate"`
}

type weblectureSessionList struct {
	Data []weblectureSession `json:"data"`
}

// LoadWebLectures lists a module's web lecture sessions. A module with no
// web lecture tool configured returns a non-2xx from weblecture/?ParentID=;
// that is treated as "no web lectures" rather than an error, matching the
// original's `Err(_) => Ok(vec![])`.
func LoadWebLectures(ctx context.Context, client *api.Client, muxer *ffmpeg.Muxer, moduleID, path string) ([]*WebLectureVideo, error) {
	var handle weblectureHandle
	if err := client.GetJSON(ctx, "weblecture/?ParentID="+moduleID, &handle); err != nil {
		return nil, nil
	}

	var resp weblectureSessionList
	if err := client.GetJSON(ctx, "weblecture/"+handle.ID+"/sessions", &resp); err != nil {
		return nil, fmt.Errorf("panopto: listing web lecture sessions: %w", err)
	}

	videos := make([]*WebLectureVideo, 0, len(resp.Data))
	for _, s := range resp.Data {
		lastUpdated, err := time.Parse(time.RFC3339, s.LastUpdatedDate)
		if err != nil {
			return nil, fmt.Errorf("panopto: parsing lastUpdatedDate for %s: %w", s.ID, err)
		}
		videos = append(videos, &WebLectureVideo{
			client:      client,
			muxer:       muxer,
			moduleID:    moduleID,
			id:          s.ID,
			path:        joinPath(path, sanitize.ReplaceExtension(sanitize.Filename(s.Name), "mp4")),
			lastUpdated: lastUpdated,
		})
	}
	return videos, nil
}

// LoadExternalChannels fans out LoadExternalChannel across every external
// channel id/name pair concurrently, using the same errgroup-per-sibling
// shape as internal/loaders/workbin.
func LoadExternalChannels(ctx context.Context, client *api.Client, muxer *ffmpeg.Muxer, channels map[string]string, path string) ([]*ExternalVideo, error) {
	type keyed struct {
		id, name string
	}
	ordered := make([]keyed, 0, len(channels))
	for id, name := range channels {
		ordered = append(ordered, keyed{id, name})
	}

	results := make([][]*ExternalVideo, len(ordered))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range ordered {
		i, c := i, c
		g.Go(func() error {
			videos, err := LoadExternalChannel(gctx, client, muxer, c.id, c.name, path)
			if err != nil {
				return err
			}
			results[i] = videos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var flat []*ExternalVideo
	for _, r := range results {
		flat = append(flat, r...)
	}
	return flat, nil
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
