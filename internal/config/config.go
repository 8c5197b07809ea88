// Package config assembles luminus-sync's runtime settings: CLI flags as the
// primary source, with an optional --config YAML file layering ambient,
// non-functional defaults beneath them, following a LoadConfig ->
// setDefaults -> override -> Validate pipeline. cmd/luminus-sync's cobra
// flags are the only override layer, since this is a one-shot CLI rather
// than a long-running service.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/nuslumi/luminus-sync/internal/engine"
	"github.com/nuslumi/luminus-sync/internal/logging"
)

// UploadableScope names one of the three values --include-uploadable-folders
// accepts.
type UploadableScope string

const (
	UploadableTaking   UploadableScope = "taking"
	UploadableTeaching UploadableScope = "teaching"
	UploadableAll      UploadableScope = "all"
)

// ParseUploadableScope validates one --include-uploadable-folders value.
func ParseUploadableScope(s string) (UploadableScope, error) {
	switch UploadableScope(s) {
	case UploadableTaking, UploadableTeaching, UploadableAll:
		return UploadableScope(s), nil
	default:
		return "", fmt.Errorf("%w: %q (want one of taking, teaching, all)", ErrInvalidFlagValue, s)
	}
}

// ParseUpdatedMode validates and maps --updated's three accepted values to
// the download engine's OverwriteMode.
func ParseUpdatedMode(s string) (engine.OverwriteMode, error) {
	switch s {
	case "", "skip":
		return engine.Skip, nil
	case "overwrite":
		return engine.Overwrite, nil
	case "rename":
		return engine.Rename, nil
	default:
		return engine.Skip, fmt.Errorf("%w: --updated %q (want one of skip, overwrite, rename)", ErrInvalidFlagValue, s)
	}
}

// ParseTerm validates --term's 4-digit academic term code. An empty string
// means "no --term given": the default Modules filter (current term and
// later) applies instead of pinning to one term.
func ParseTerm(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	if len(s) != 4 {
		return "", fmt.Errorf("%w: --term %q (want a 4-digit academic term, e.g. 2310)", ErrInvalidFlagValue, s)
	}
	if _, err := strconv.Atoi(s); err != nil {
		return "", fmt.Errorf("%w: --term %q (want a 4-digit academic term, e.g. 2310)", ErrInvalidFlagValue, s)
	}
	return s, nil
}

// Options is every flag's validated value. cmd/luminus-sync populates
// this from cobra's flag set; everything downstream (the orchestrator,
// loaders) depends only on this struct, never on cobra.
type Options struct {
	Announcements bool
	Files         bool
	DownloadTo    string

	ListMultimedia        bool
	DownloadMultimediaTo  string
	ListWebLectures       bool
	DownloadWebLecturesTo string
	ListConferences       bool
	DownloadConferencesTo string

	CredentialFile           string
	IncludeUploadableFolders []UploadableScope
	Updated                  engine.OverwriteMode
	Term                     string
	Modules                  []string
	FFmpegPath               string

	// *Set fields record whether the corresponding flag was explicitly
	// passed on the command line (cobra's Flags().Changed), distinguishing
	// "user asked for the default" from "user didn't mention this flag" so
	// Resolve knows whether the --config file is allowed to override it.
	FFmpegPathSet bool
	LogLevel      logging.Level
	LogLevelSet   bool
	LogFormat     logging.Format
	LogFormatSet  bool

	ConfigFile string
}

// DefaultOptions returns the zero-config defaults luminus-sync starts from.
func DefaultOptions() Options {
	return Options{
		CredentialFile: "login.json",
		Updated:        engine.Skip,
		FFmpegPath:     "ffmpeg",
		LogLevel:       logging.LevelInfo,
		LogFormat:      logging.FormatConsole,
	}
}

// Validate checks cross-field requirements Options alone can't express
// (each individual flag value was already validated by its Parse* function
// as it was read off the command line).
func (o Options) Validate() error {
	wantsAnyAction := o.Announcements || o.Files || o.DownloadTo != "" ||
		o.ListMultimedia || o.DownloadMultimediaTo != "" ||
		o.ListWebLectures || o.DownloadWebLecturesTo != "" ||
		o.ListConferences || o.DownloadConferencesTo != ""
	if !wantsAnyAction {
		return fmt.Errorf("%w: pass at least one of --announcements, --files, --download-to, --list-multimedia, --download-multimedia-to, --list-weblectures, --download-weblectures-to, --list-conferences, --download-conferences-to", ErrNoAction)
	}
	return nil
}

// ConcurrencyBudgets holds the five §5 per-family parallelism caps.
type ConcurrencyBudgets struct {
	Workbin            int `yaml:"workbin"`
	InternalMultimedia int `yaml:"internal_multimedia"`
	ExternalMultimedia int `yaml:"external_multimedia"`
	WebLectures        int `yaml:"web_lectures"`
	Zoom               int `yaml:"zoom"`
}

// DefaultConcurrencyBudgets returns the fixed budgets §5 specifies.
func DefaultConcurrencyBudgets() ConcurrencyBudgets {
	return ConcurrencyBudgets{
		Workbin:            64,
		InternalMultimedia: 4,
		ExternalMultimedia: 4,
		WebLectures:        4,
		Zoom:               4,
	}
}

// FileConfig is the shape of the optional --config YAML file: ambient,
// non-functional tuning only, never a functional flag (those come from the
// command line alone, per §6).
type FileConfig struct {
	HTTPTimeoutSeconds int                 `yaml:"http_timeout_seconds"`
	FFmpegPath         string              `yaml:"ffmpeg_path"`
	LogLevel           string              `yaml:"log_level"`
	LogFormat          string              `yaml:"log_format"`
	Concurrency        ConcurrencyBudgets  `yaml:"concurrency"`
}

// LoadFileConfig reads path if non-empty, otherwise returns built-in
// defaults. A present file's zero-valued fields do not clobber defaults:
// unmarshal starts from the default struct so a file overriding only
// log_level leaves concurrency budgets intact.
func LoadFileConfig(path string) (FileConfig, error) {
	fc := FileConfig{
		HTTPTimeoutSeconds: 60,
		FFmpegPath:         "ffmpeg",
		LogLevel:           "info",
		LogFormat:          "console",
		Concurrency:        DefaultConcurrencyBudgets(),
	}
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("%w: reading %s: %v", ErrConfigFile, path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("%w: parsing %s: %v", ErrConfigFile, path, err)
	}
	if fc.Concurrency == (ConcurrencyBudgets{}) {
		fc.Concurrency = DefaultConcurrencyBudgets()
	}
	return fc, nil
}

// Resolved is the final, fully-layered runtime configuration: Options
// verbatim, plus the ambient settings from FileConfig with CLI flags
// (when explicitly set) taking precedence, per §6's "flags > file >
// built-in defaults".
type Resolved struct {
	Options
	HTTPTimeoutSeconds int
	FFmpegPath         string
	LogLevel           logging.Level
	LogFormat          logging.Format
	Concurrency        ConcurrencyBudgets
}

// Resolve layers opts over file: an explicitly-set CLI flag always wins; an
// unset one falls through to the file's value, which itself defaults to
// the built-in constant LoadFileConfig seeds.
func Resolve(opts Options, file FileConfig) Resolved {
	r := Resolved{
		Options:            opts,
		HTTPTimeoutSeconds: file.HTTPTimeoutSeconds,
		FFmpegPath:         file.FFmpegPath,
		LogLevel:           logging.Level(file.LogLevel),
		LogFormat:          logging.Format(file.LogFormat),
		Concurrency:        file.Concurrency,
	}
	if opts.FFmpegPathSet {
		r.FFmpegPath = opts.FFmpegPath
	}
	if opts.LogLevelSet {
		r.LogLevel = opts.LogLevel
	}
	if opts.LogFormatSet {
		r.LogFormat = opts.LogFormat
	}
	return r
}
