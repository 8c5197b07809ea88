// Package workbin enumerates a module's workbin (file tree) and turns each
// leaf into a downloadable engine.SimpleDownloadable. Each directory issues
// two concurrent calls (subdirectories, files) via golang.org/x/sync/errgroup,
// recursing into subdirectories with one goroutine per child.
package workbin

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nuslumi/luminus-sync/internal/api"
	"github.com/nuslumi/luminus-sync/internal/engine"
	"github.com/nuslumi/luminus-sync/internal/logging"
	"github.com/nuslumi/luminus-sync/internal/sanitize"
)

// File is one workbin leaf file; it satisfies engine.SimpleDownloadable.
type File struct {
	client      *api.Client
	id          string
	path        string
	lastUpdated time.Time
}

func (f *File) ID() string             { return f.id }
func (f *File) Path() string           { return f.path }
func (f *File) SetPath(path string)    { f.path = path }
func (f *File) LastUpdated() time.Time { return f.lastUpdated }

type downloadURLResponse struct {
	Data string `json:"data"`
}

// DownloadURL fetches the signed, short-lived download URL LumiNUS mints
// per request; it is never cached since it expires.
func (f *File) DownloadURL(ctx context.Context) (string, error) {
	var resp downloadURLResponse
	if err := f.client.GetJSON(ctx, "files/file/"+f.id+"/downloadurl", &resp); err != nil {
		return "", fmt.Errorf("workbin: fetching download URL for %s: %w", f.id, err)
	}
	if resp.Data == "" {
		return "", fmt.Errorf("workbin: empty download URL for %s", f.id)
	}
	return resp.Data, nil
}

// Download delegates to the shared chunked-HTTP download path; File needs
// no bespoke download behavior.
func (f *File) Download(ctx context.Context, client engine.HTTPDoer, destRoot string, overwrite engine.OverwriteMode) (engine.OverwriteResult, error) {
	return engine.DownloadSimple(ctx, f, client, destRoot, overwrite, logging.FromContext(ctx))
}

type apiEntry struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	AllowUpload     *bool   `json:"allowUpload"`
	CreatorName     *string `json:"creatorName"`
	LastUpdatedDate string  `json:"lastUpdatedDate"`
}

type apiEntryList struct {
	Data []apiEntry `json:"data"`
}

type directoryHandle struct {
	id          string
	path        string
	allowUpload bool
}

// Load recursively walks the workbin tree rooted at dirID, returning a flat
// list of downloadable files. When includeUploadable is false, any
// subdirectory flagged allowUpload (a student submission folder) is pruned
// from the recursion entirely, matching the original's filter-before-recurse
// behavior rather than filtering the flattened result afterward.
func Load(ctx context.Context, client *api.Client, dirID, path string, includeUploadable bool) ([]*File, error) {
	return loadDir(ctx, client, directoryHandle{id: dirID, path: path}, includeUploadable)
}

func loadDir(ctx context.Context, client *api.Client, dh directoryHandle, includeUploadable bool) ([]*File, error) {
	var subdirFiles, ownFiles []*File

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		subdirFiles, err = loadSubdirs(gctx, client, dh, includeUploadable)
		return err
	})
	g.Go(func() error {
		var err error
		ownFiles, err = loadFiles(gctx, client, dh)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return append(subdirFiles, ownFiles...), nil
}

func loadSubdirs(ctx context.Context, client *api.Client, dh directoryHandle, includeUploadable bool) ([]*File, error) {
	var resp apiEntryList
	if err := client.GetJSON(ctx, "files/?ParentID="+dh.id, &resp); err != nil {
		return nil, fmt.Errorf("workbin: listing subdirectories of %s: %w", dh.id, err)
	}

	var children []directoryHandle
	for _, entry := range resp.Data {
		allowUpload := entry.AllowUpload != nil && *entry.AllowUpload
		if allowUpload && !includeUploadable {
			continue
		}
		children = append(children, directoryHandle{
			id:          entry.ID,
			path:        joinPath(dh.path, sanitize.Filename(entry.Name)),
			allowUpload: allowUpload,
		})
	}

	results := make([][]*File, len(children))
	g, gctx := errgroup.WithContext(ctx)
	for i, child := range children {
		i, child := i, child
		g.Go(func() error {
			files, err := loadDir(gctx, client, child, includeUploadable)
			if err != nil {
				return err
			}
			results[i] = files
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var flat []*File
	for _, r := range results {
		flat = append(flat, r...)
	}
	return flat, nil
}

func loadFiles(ctx context.Context, client *api.Client, dh directoryHandle) ([]*File, error) {
	path := "files/" + dh.id + "/file"
	if dh.allowUpload {
		path += "?populate=Creator"
	}

	var resp apiEntryList
	if err := client.GetJSON(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("workbin: listing files of %s: %w", dh.id, err)
	}

	files := make([]*File, 0, len(resp.Data))
	for _, entry := range resp.Data {
		lastUpdated, err := time.Parse(time.RFC3339, entry.LastUpdatedDate)
		if err != nil {
			return nil, fmt.Errorf("workbin: parsing lastUpdatedDate for %s: %w", entry.ID, err)
		}

		name := entry.Name
		if dh.allowUpload {
			creator := "Unknown"
			if entry.CreatorName != nil && *entry.CreatorName != "" {
				creator = *entry.CreatorName
			}
			name = creator + " - " + entry.Name
		}

		files = append(files, &File{
			client:      client,
			id:          entry.ID,
			path:        joinPath(dh.path, sanitize.Filename(name)),
			lastUpdated: lastUpdated,
		})
	}
	return files, nil
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
