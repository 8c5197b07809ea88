// Package sanitize turns server-provided names into filesystem-safe relative
// path components.
package sanitize

import (
	"regexp"
	"runtime"
	"strings"
)

var (
	windowsIllegal   = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	windowsReserved  = regexp.MustCompile(`(?i)^(CON|PRN|AUX|NUL|COM[1-9]|LPT[1-9])(\..*)?$`)
	trailingDotSpace = regexp.MustCompile(`[. ]+$`)
)

const maxNameLength = 255

// Filename sanitizes name for use as a single path component, choosing the
// platform-appropriate rule set: Windows-reserved-character handling under
// Windows, a more permissive POSIX rule set elsewhere.
func Filename(name string) string {
	if runtime.GOOS == "windows" {
		return FilenameWindows(name)
	}
	return FilenamePOSIX(name)
}

// FilenamePOSIX trims whitespace and replaces the two bytes that are illegal
// or meaningful to every POSIX filesystem (NUL and '/') with '-'.
func FilenamePOSIX(name string) string {
	trimmed := strings.TrimSpace(name)
	replaced := strings.NewReplacer("\x00", "-", "/", "-").Replace(trimmed)
	if replaced == "" {
		return "-"
	}
	return replaced
}

// FilenameWindows applies the full Windows-reserved-character and
// reserved-name rules, replacing illegal characters with '-', stripping
// trailing dots/spaces (illegal as the last character of a Windows name),
// suffixing reserved device names, and truncating to maxNameLength.
func FilenameWindows(name string) string {
	trimmed := strings.TrimSpace(name)
	replaced := windowsIllegal.ReplaceAllString(trimmed, "-")
	replaced = trailingDotSpace.ReplaceAllString(replaced, "")
	if replaced == "" {
		replaced = "-"
	}
	if windowsReserved.MatchString(replaced) {
		replaced = replaced + "-"
	}
	if len(replaced) > maxNameLength {
		replaced = replaced[:maxNameLength]
	}
	return replaced
}

// Idempotent reports whether sanitizing n twice yields the same result as
// sanitizing it once.
func Idempotent(n string) bool {
	return Filename(Filename(n)) == Filename(n)
}

// SplitStemExt splits filename at its FIRST '.', so compound extensions like
// "a.tar.gz" split into ("a", "tar.gz") rather than ("a.tar", "gz"). A
// filename with no '.' has an empty extension.
func SplitStemExt(filename string) (stem, ext string) {
	idx := strings.IndexByte(filename, '.')
	if idx < 0 {
		return filename, ""
	}
	return filename[:idx], filename[idx+1:]
}

// SplitStemLastExt splits filename at its LAST '.', the rule the path
// uniquifier uses for appending a disambiguating id: the newest file's
// "clean" name keeps its full compound extension, and only the final
// segment is treated as the extension for id-suffixing purposes.
func SplitStemLastExt(filename string) (stem, ext string) {
	idx := strings.LastIndexByte(filename, '.')
	if idx <= 0 {
		return filename, ""
	}
	return filename[:idx], filename[idx+1:]
}

// JoinStemExt re-joins a stem and extension produced by either splitter. An
// empty extension yields the bare stem.
func JoinStemExt(stem, ext string) string {
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}

// ReplaceExtension swaps whatever extension name carries (split at the last
// '.') for ext; the multimedia/Panopto/Zoom loaders use it to name their
// muxed output files.
func ReplaceExtension(name, ext string) string {
	stem, _ := SplitStemLastExt(name)
	return JoinStemExt(stem, ext)
}
