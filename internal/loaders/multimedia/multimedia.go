// Package multimedia loads a module's multimedia channels, splitting them
// into internally-hosted videos (fetched directly from LumiNUS's own
// streaming endpoints) and externally-hosted ones (Panopto channels
// launched through LTI). One listing fetch enumerates every channel, and
// channels fan out by their is_external_tool flag.
package multimedia

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nuslumi/luminus-sync/internal/api"
	"github.com/nuslumi/luminus-sync/internal/engine"
	"github.com/nuslumi/luminus-sync/internal/ffmpeg"
	"github.com/nuslumi/luminus-sync/internal/loaders/panopto"
	"github.com/nuslumi/luminus-sync/internal/logging"
	"github.com/nuslumi/luminus-sync/internal/sanitize"
)

type channel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	IsExternalTool bool   `json:"isExternalTool"`
}

type channelList struct {
	Data []channel `json:"data"`
}

type internalMedia struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	LastUpdatedDate string  `json:"lastUpdatedDate"`
	StreamURLPath   *string `json:"streamUrlPath"`
}

type internalMediaList struct {
	Data []internalMedia `json:"data"`
}

// InternalVideo is a video streamed directly from a LumiNUS-hosted
// multimedia channel, not routed through Panopto.
type InternalVideo struct {
	client        *api.Client
	muxer         *ffmpeg.Muxer
	id            string
	streamURLPath string
	path          string
	lastUpdated   time.Time
}

func (v *InternalVideo) ID() string             { return v.id }
func (v *InternalVideo) Path() string           { return v.path }
func (v *InternalVideo) SetPath(path string)    { v.path = path }
func (v *InternalVideo) LastUpdated() time.Time { return v.lastUpdated }

func (v *InternalVideo) Download(ctx context.Context, _ engine.HTTPDoer, destRoot string, overwrite engine.OverwriteMode) (engine.OverwriteResult, error) {
	dest, temp := engine.ResolvePaths(destRoot, v.path)
	return engine.DoRetryableDownload(ctx, dest, temp, overwrite, v.lastUpdated,
		func(ctx context.Context) (string, error) {
			return v.streamURLPath, nil
		},
		func(ctx context.Context, streamURLPath, temp string) error {
			return v.muxer.Stream(ctx, streamURLPath, temp)
		},
		logging.FromContext(ctx),
	)
}

// Load lists moduleID's multimedia channels once and fans each channel's
// content out concurrently: internal channels via loadChannel, external
// (Panopto-backed) channels via panopto.LoadExternalChannel. One goroutine
// per channel, mirroring the original's single future::join_all over all
// channels.
func Load(ctx context.Context, client *api.Client, muxer *ffmpeg.Muxer, moduleID, path string) ([]*InternalVideo, []*panopto.ExternalVideo, error) {
	var channels channelList
	if err := client.GetJSON(ctx, "multimedia/?populate=contentSummary&ParentID="+moduleID, &channels); err != nil {
		return nil, nil, fmt.Errorf("multimedia: listing channels: %w", err)
	}

	internalResults := make([][]*InternalVideo, len(channels.Data))
	externalResults := make([][]*panopto.ExternalVideo, len(channels.Data))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range channels.Data {
		i, c := i, c
		g.Go(func() error {
			if c.IsExternalTool {
				videos, err := panopto.LoadExternalChannel(gctx, client, muxer, c.ID, c.Name, path)
				if err != nil {
					return err
				}
				externalResults[i] = videos
				return nil
			}
			videos, err := loadChannel(gctx, client, muxer, c, path)
			if err != nil {
				return err
			}
			internalResults[i] = videos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var internal []*InternalVideo
	var external []*panopto.ExternalVideo
	for _, r := range internalResults {
		internal = append(internal, r...)
	}
	for _, r := range externalResults {
		external = append(external, r...)
	}
	return internal, external, nil
}

func loadChannel(ctx context.Context, client *api.Client, muxer *ffmpeg.Muxer, c channel, path string) ([]*InternalVideo, error) {
	var medias internalMediaList
	if err := client.GetJSON(ctx, "multimedia/"+c.ID+"/medias", &medias); err != nil {
		return nil, fmt.Errorf("multimedia: listing medias for channel %s: %w", c.ID, err)
	}

	channelPath := joinPath(path, sanitize.Filename(c.Name))
	videos := make([]*InternalVideo, 0, len(medias.Data))
	for _, m := range medias.Data {
		// Not every multimedia entry is a video; those without a stream URL
		// are skipped, matching the original's filter_map over stream_url_path.
		if m.StreamURLPath == nil {
			continue
		}
		lastUpdated, err := time.Parse(time.RFC3339, m.LastUpdatedDate)
		if err != nil {
			return nil, fmt.Errorf("multimedia: parsing lastUpdatedDate for %s: %w", m.ID, err)
		}
		videos = append(videos, &InternalVideo{
			client:        client,
			muxer:         muxer,
			id:            m.ID,
			streamURLPath: *m.StreamURLPath,
			path:          joinPath(channelPath, sanitize.ReplaceExtension(sanitize.Filename(m.Name), "mp4")),
			lastUpdated:   lastUpdated,
		})
	}
	return videos, nil
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
