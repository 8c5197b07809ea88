package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/nuslumi/luminus-sync/internal/sanitize"
)

// PreparePath decides what to do with one resource given the file already
// on disk at dest:
//
//   - no local file                       -> download, NewFile
//   - local mtime >= lastUpdated          -> skip, AlreadyHave
//   - local file stale, mode == Skip      -> skip, Skipped
//   - local file stale, mode == Overwrite -> download, Overwritten
//   - local file stale, mode == Rename    -> move old file aside, download, Renamed
//
// The boolean return reports whether the caller should proceed to download.
func PreparePath(dest string, mode OverwriteMode, lastUpdated time.Time) (bool, OverwriteResult, error) {
	info, err := os.Stat(dest)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, OverwriteResult{Kind: NewFile}, nil
		}
		if errors.Is(err, fs.ErrPermission) {
			return false, OverwriteResult{}, fmt.Errorf("%w: %s", ErrPermissionDenied, dest)
		}
		return false, OverwriteResult{}, fmt.Errorf("%w: %s: %v", ErrMetadataUnavailable, dest, err)
	}

	if !lastUpdated.After(info.ModTime()) {
		return false, OverwriteResult{Kind: AlreadyHave}, nil
	}

	switch mode {
	case Skip:
		return false, OverwriteResult{Kind: Skipped}, nil
	case Overwrite:
		return true, OverwriteResult{Kind: Overwritten}, nil
	case Rename:
		renamedPath, err := renameAside(dest, info.ModTime())
		if err != nil {
			return false, OverwriteResult{}, err
		}
		return true, OverwriteResult{Kind: Renamed, RenamedPath: renamedPath}, nil
	default:
		panic(fmt.Sprintf("engine: unknown overwrite mode %d", mode))
	}
}

// renameAside moves the stale file at dest to "<stem>_autorename_<date><ext>",
// appending a numeric suffix on further collisions. Stem and extension here
// split at the FIRST dot in the filename, so compound extensions like
// ".tar.gz" travel with the renamed copy intact.
func renameAside(dest string, oldMtime time.Time) (string, error) {
	dir := filepath.Dir(dest)
	base := filepath.Base(dest)
	stem, ext := sanitize.SplitStemExt(base)
	newStem := fmt.Sprintf("%s_autorename_%s", stem, oldMtime.Format("2006-01-02"))

	suffixedStem := newStem
	for i := 0; ; {
		renamedPath := filepath.Join(dir, sanitize.JoinStemExt(suffixedStem, ext))
		if _, err := os.Stat(renamedPath); errors.Is(err, fs.ErrNotExist) {
			if err := os.Rename(dest, renamedPath); err != nil {
				return "", fmt.Errorf("%w: renaming existing file aside: %v", ErrFilesystem, err)
			}
			return renamedPath, nil
		}
		i++
		suffixedStem = fmt.Sprintf("%s_%d", newStem, i)
	}
}
