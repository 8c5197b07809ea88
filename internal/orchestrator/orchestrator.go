// Package orchestrator drives one sync run across every enrolled module:
// listing modules, fanning each requested resource family's loader out,
// uniquifying paths, and dispatching downloads under a per-family
// concurrency budget. Modules are processed serially, one at a time, each
// accumulating its own result; within a module, the requested resource
// families are loaded and dispatched one after another, and each family's
// downloads run concurrently under its own bounded worker pool.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nuslumi/luminus-sync/internal/announce"
	"github.com/nuslumi/luminus-sync/internal/api"
	"github.com/nuslumi/luminus-sync/internal/auth"
	"github.com/nuslumi/luminus-sync/internal/config"
	"github.com/nuslumi/luminus-sync/internal/engine"
	"github.com/nuslumi/luminus-sync/internal/ffmpeg"
	"github.com/nuslumi/luminus-sync/internal/loaders/multimedia"
	"github.com/nuslumi/luminus-sync/internal/loaders/panopto"
	"github.com/nuslumi/luminus-sync/internal/loaders/workbin"
	"github.com/nuslumi/luminus-sync/internal/loaders/zoomrec"
	"github.com/nuslumi/luminus-sync/internal/logging"
	"github.com/nuslumi/luminus-sync/internal/sanitize"
	"github.com/nuslumi/luminus-sync/internal/uniquify"
)

// FamilyResult is the outcome of loading and (optionally) downloading one
// resource family for one module: every resource's final relative path,
// plus download/skip counts and per-resource errors. A non-empty Errors
// never means the family as a whole failed — the orchestrator collects
// per-resource errors and keeps going.
type FamilyResult struct {
	Listed     []string
	Downloaded int
	Skipped    int
	Errors     []error
}

// ModuleResult is every family's outcome for one module, plus the
// announcement print error if --announcements was requested.
type ModuleResult struct {
	Module      api.Module
	AnnounceErr error
	Workbin     FamilyResult
	Multimedia  FamilyResult
	WebLectures FamilyResult
	Conferences FamilyResult
}

// Summary is the whole run's outcome, one ModuleResult per processed module.
type Summary struct {
	Modules []ModuleResult
}

// Orchestrator holds everything a run needs that doesn't change per module:
// the authenticated API client and session, the fixed auth.Config needed to
// re-trigger the lazy Zoom SSO relay, the resolved CLI/file configuration,
// and the ffmpeg muxer every video loader shares.
type Orchestrator struct {
	client  *api.Client
	session *auth.Session
	authCfg auth.Config
	cfg     config.Resolved
	muxer   *ffmpeg.Muxer
	stdout  io.Writer
}

// New builds an Orchestrator ready to Run.
func New(client *api.Client, session *auth.Session, authCfg auth.Config, cfg config.Resolved, stdout io.Writer) *Orchestrator {
	return &Orchestrator{
		client:  client,
		session: session,
		authCfg: authCfg,
		cfg:     cfg,
		muxer:   ffmpeg.New(cfg.FFmpegPath),
		stdout:  stdout,
	}
}

// Run lists every module the session can see, restricts it to the
// requested term and module codes, and processes each serially. Modules
// are independent of one another, so serial iteration here costs nothing:
// all real parallelism lives inside each module's per-family download
// dispatch. Listing modules is a precondition for everything else: a
// failure here aborts the whole run.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	log := logging.FromContext(ctx)

	modules, err := o.client.Modules(ctx, o.cfg.Term)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: listing modules: %w", err)
	}
	modules = filterModules(modules, o.cfg.Modules)

	summary := &Summary{Modules: make([]ModuleResult, 0, len(modules))}
	for _, m := range modules {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		log.Info().Str("module_code", m.Code).Str("module_id", m.ID).Msg("processing module")
		summary.Modules = append(summary.Modules, o.processModule(ctx, m))
	}
	return summary, nil
}

func filterModules(modules []api.Module, codes []string) []api.Module {
	if len(codes) == 0 {
		return modules
	}
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		want[c] = true
	}
	out := make([]api.Module, 0, len(modules))
	for _, m := range modules {
		if want[m.Code] {
			out = append(out, m)
		}
	}
	return out
}

func (o *Orchestrator) processModule(ctx context.Context, m api.Module) ModuleResult {
	result := ModuleResult{Module: m}
	moduleRoot := sanitize.Filename(m.Code)

	if o.cfg.Announcements {
		result.AnnounceErr = o.printAnnouncements(ctx, m)
	}

	if o.cfg.Files || o.cfg.DownloadTo != "" {
		result.Workbin = o.loadAndDispatchWorkbin(ctx, m, moduleRoot)
	}

	if o.cfg.ListMultimedia || o.cfg.DownloadMultimediaTo != "" {
		result.Multimedia = o.loadAndDispatchMultimedia(ctx, m, moduleRoot)
	}

	if o.cfg.ListWebLectures || o.cfg.DownloadWebLecturesTo != "" {
		result.WebLectures = o.loadAndDispatchWebLectures(ctx, m, moduleRoot)
	}

	if o.cfg.ListConferences || o.cfg.DownloadConferencesTo != "" {
		result.Conferences = o.loadAndDispatchConferences(ctx, m, moduleRoot)
	}

	return result
}

func (o *Orchestrator) printAnnouncements(ctx context.Context, m api.Module) error {
	anns, err := o.client.Announcements(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("announcements: %w", err)
	}
	return announce.PrintModule(o.stdout, m.Code, m.Name, anns)
}

func (o *Orchestrator) loadAndDispatchWorkbin(ctx context.Context, m api.Module, moduleRoot string) FamilyResult {
	log := logging.FromContext(ctx)
	includeUploadable := includeUploadableForModule(o.cfg.IncludeUploadableFolders, m)

	files, err := workbin.Load(ctx, o.client, m.ID, moduleRoot, includeUploadable)
	if err != nil {
		return FamilyResult{Errors: []error{fmt.Errorf("workbin: %w", err)}}
	}

	resources := make([]engine.Resource, len(files))
	for i, f := range files {
		resources[i] = f
	}
	return dispatch(ctx, o.httpClient(), resources, o.cfg.DownloadTo, o.cfg.DownloadTo != "", o.cfg.Updated, int64(o.cfg.Concurrency.Workbin), log)
}

// loadAndDispatchMultimedia runs the internal and external pools
// separately, since they hit distinct backends with independent
// concurrency budgets, and merges the two FamilyResults into the one
// --list-multimedia/--download-multimedia-to surface callers see.
func (o *Orchestrator) loadAndDispatchMultimedia(ctx context.Context, m api.Module, moduleRoot string) FamilyResult {
	log := logging.FromContext(ctx)

	internalVideos, externalVideos, err := multimedia.Load(ctx, o.client, o.muxer, m.ID, joinPath(moduleRoot, "Multimedia"))
	if err != nil {
		return FamilyResult{Errors: []error{fmt.Errorf("multimedia: %w", err)}}
	}

	download := o.cfg.DownloadMultimediaTo != ""
	httpClient := o.httpClient()

	internalResources := make([]engine.Resource, len(internalVideos))
	for i, v := range internalVideos {
		internalResources[i] = v
	}
	externalResources := make([]engine.Resource, len(externalVideos))
	for i, v := range externalVideos {
		externalResources[i] = v
	}

	internalResult := dispatch(ctx, httpClient, internalResources, o.cfg.DownloadMultimediaTo, download, o.cfg.Updated, int64(o.cfg.Concurrency.InternalMultimedia), log)
	externalResult := dispatch(ctx, httpClient, externalResources, o.cfg.DownloadMultimediaTo, download, o.cfg.Updated, int64(o.cfg.Concurrency.ExternalMultimedia), log)
	return mergeFamilyResults(internalResult, externalResult)
}

func (o *Orchestrator) loadAndDispatchWebLectures(ctx context.Context, m api.Module, moduleRoot string) FamilyResult {
	log := logging.FromContext(ctx)

	videos, err := panopto.LoadWebLectures(ctx, o.client, o.muxer, m.ID, joinPath(moduleRoot, "Web Lectures"))
	if err != nil {
		return FamilyResult{Errors: []error{fmt.Errorf("weblectures: %w", err)}}
	}

	resources := make([]engine.Resource, len(videos))
	for i, v := range videos {
		resources[i] = v
	}
	download := o.cfg.DownloadWebLecturesTo != ""
	return dispatch(ctx, o.httpClient(), resources, o.cfg.DownloadWebLecturesTo, download, o.cfg.Updated, int64(o.cfg.Concurrency.WebLectures), log)
}

func (o *Orchestrator) loadAndDispatchConferences(ctx context.Context, m api.Module, moduleRoot string) FamilyResult {
	log := logging.FromContext(ctx)

	recordings, err := zoomrec.Load(ctx, o.client, o.session, o.authCfg, m.ID, joinPath(moduleRoot, "Conferences"))
	if err != nil {
		return FamilyResult{Errors: []error{fmt.Errorf("zoomrec: %w", err)}}
	}

	resources := make([]engine.Resource, len(recordings))
	for i, r := range recordings {
		resources[i] = r
	}
	download := o.cfg.DownloadConferencesTo != ""
	return dispatch(ctx, o.httpClient(), resources, o.cfg.DownloadConferencesTo, download, o.cfg.Updated, int64(o.cfg.Concurrency.Zoom), log)
}

// httpClient returns the raw *http.Client every Resource.Download call
// needs. internal/httpclient.Client itself only exposes Send (its
// infinite-retry primitive used by internal/api); its embedded HTTP field
// is the engine.HTTPDoer loaders actually take, which
// internal/engine.StreamToFile calls Do on.
func (o *Orchestrator) httpClient() engine.HTTPDoer {
	return o.session.HTTP.HTTP
}

// dispatch uniquifies resources' paths, always populates Listed, and —
// when download is true — fans downloads out across a semaphore of the
// given weight via errgroup. A per-resource download failure is recorded
// in Errors and never aborts the group or cancels its siblings; only the
// semaphore itself returning an error (context cancellation) stops the
// fan-out early.
func dispatch(ctx context.Context, client engine.HTTPDoer, resources []engine.Resource, destRoot string, download bool, overwrite engine.OverwriteMode, budget int64, log logging.Logger) FamilyResult {
	var result FamilyResult
	if len(resources) == 0 {
		return result
	}

	entries := make([]uniquify.Entry, len(resources))
	for i, r := range resources {
		entries[i] = uniquify.Entry{ID: r.ID(), Path: r.Path(), LastUpdated: r.LastUpdated()}
	}
	resolved := uniquify.Apply(entries)
	for _, r := range resources {
		if p, ok := resolved[r.ID()]; ok {
			r.SetPath(p)
		}
	}

	result.Listed = make([]string, len(resources))
	for i, r := range resources {
		result.Listed[i] = r.Path()
	}
	if !download {
		return result
	}

	sem := semaphore.NewWeighted(budget)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range resources {
		r := r
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			outcome, err := r.Download(gctx, client, destRoot, overwrite)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("%s: %w", r.Path(), err))
				log.Error().Err(err).Str("path", r.Path()).Msg("download failed")
				return nil
			}
			switch outcome.Kind {
			case engine.Skipped, engine.AlreadyHave:
				result.Skipped++
			default:
				result.Downloaded++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("dispatch: %w", err))
	}
	return result
}

func mergeFamilyResults(results ...FamilyResult) FamilyResult {
	var merged FamilyResult
	for _, r := range results {
		merged.Listed = append(merged.Listed, r.Listed...)
		merged.Downloaded += r.Downloaded
		merged.Skipped += r.Skipped
		merged.Errors = append(merged.Errors, r.Errors...)
	}
	return merged
}

// includeUploadableForModule reports whether workbin.Load should recurse
// into submission folders for this module, given the configured
// --include-uploadable-folders scopes: "all" always qualifies; "teaching"
// and "taking" qualify only the modules where the caller holds that
// access level.
func includeUploadableForModule(scopes []config.UploadableScope, m api.Module) bool {
	for _, s := range scopes {
		switch s {
		case config.UploadableAll:
			return true
		case config.UploadableTeaching:
			if m.IsTeaching() {
				return true
			}
		case config.UploadableTaking:
			if m.IsTaking() {
				return true
			}
		}
	}
	return false
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
