// Package uniquify resolves path collisions across the set of resources a
// run is about to download: two resources that would otherwise land on the
// same relative path get the newest one kept under the clean name and
// every older one suffixed with its id.
package uniquify

import (
	"sort"
	"time"

	"github.com/nuslumi/luminus-sync/internal/sanitize"
)

// Entry is the minimal view uniquify needs of a resource: enough to sort and
// rewrite a path without depending on internal/engine, so uniquify stays a
// leaf package both internal/engine and internal/orchestrator can import.
type Entry struct {
	ID          string
	Path        string
	LastUpdated time.Time
}

// Apply sorts entries by (path asc, lastUpdated desc) and, for every run of
// entries sharing a path, keeps the first (newest) one's path unchanged and
// suffixes "_<id>" before the extension on every subsequent one. It returns
// a map from id to the resolved path; callers write the result back via
// Resource.SetPath.
//
// The extension split uses sanitize.SplitStemLastExt: unlike PreparePath's
// rename branch, path uniquification treats only the final dot-delimited
// segment as the extension, so "lecture.tar.gz" collides into
// "lecture.tar_42.gz", not "lecture_42.tar.gz".
func Apply(entries []Entry) map[string]string {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Path != sorted[j].Path {
			return sorted[i].Path < sorted[j].Path
		}
		return sorted[i].LastUpdated.After(sorted[j].LastUpdated)
	})

	result := make(map[string]string, len(sorted))
	var currentPath string
	seenCurrentPath := false
	for _, e := range sorted {
		if !seenCurrentPath || e.Path != currentPath {
			currentPath = e.Path
			seenCurrentPath = true
			result[e.ID] = e.Path
			continue
		}
		result[e.ID] = suffixPath(e.Path, e.ID)
	}
	return result
}

func suffixPath(path, id string) string {
	dir, base := splitDir(path)
	stem, ext := sanitize.SplitStemLastExt(base)
	newBase := sanitize.JoinStemExt(stem+"_"+id, ext)
	if dir == "" {
		return newBase
	}
	return dir + "/" + newBase
}

// splitDir splits a forward-slash relative path into its directory prefix
// (without trailing slash) and final component. Resource paths are built
// with "/" regardless of host OS and only converted to OS paths by
// internal/engine.ResolvePaths, so uniquify never touches filepath.
func splitDir(path string) (dir, base string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return "", path
}
