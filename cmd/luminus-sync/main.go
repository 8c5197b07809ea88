package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nuslumi/luminus-sync/internal/api"
	"github.com/nuslumi/luminus-sync/internal/auth"
	"github.com/nuslumi/luminus-sync/internal/config"
	"github.com/nuslumi/luminus-sync/internal/httpclient"
	"github.com/nuslumi/luminus-sync/internal/logging"
	"github.com/nuslumi/luminus-sync/internal/orchestrator"
)

var (
	// Version information - set during build via -ldflags.
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	flagAnnouncements bool
	flagFiles         bool
	flagDownloadTo    string

	flagListMultimedia        bool
	flagDownloadMultimediaTo  string
	flagListWebLectures       bool
	flagDownloadWebLecturesTo string
	flagListConferences       bool
	flagDownloadConferencesTo string

	flagCredentialFile           string
	flagIncludeUploadableFolders []string
	flagUpdated                  string
	flagTerm                     string
	flagModules                  []string
	flagFFmpegPath               string

	flagConfigFile string
	flagLogLevel   string
	flagLogFormat  string
)

// credentials is the shape of --credential-file's JSON document.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// buildRootCommand creates and configures the root command.
func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "luminus-sync",
		Short: "Mirror LumiNUS module resources to a local directory",
		Long: `luminus-sync signs in to LumiNUS once per run and, for each module it
can see, downloads the resources named by its flags: workbin files,
internal and externally-hosted lecture videos, web lecture recordings,
and Zoom conference recordings. Files already present on disk are
skipped unless --updated says otherwise.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
	}

	root.AddCommand(createVersionCommand())

	root.Flags().BoolVar(&flagAnnouncements, "announcements", false, "print each module's announcements")
	root.Flags().BoolVar(&flagFiles, "files", false, "list workbin files without downloading")
	root.Flags().StringVar(&flagDownloadTo, "download-to", "", "download workbin files into this directory")

	root.Flags().BoolVar(&flagListMultimedia, "list-multimedia", false, "list lecture recordings without downloading")
	root.Flags().StringVar(&flagDownloadMultimediaTo, "download-multimedia-to", "", "download lecture recordings into this directory")
	root.Flags().BoolVar(&flagListWebLectures, "list-weblectures", false, "list web lecture recordings without downloading")
	root.Flags().StringVar(&flagDownloadWebLecturesTo, "download-weblectures-to", "", "download web lecture recordings into this directory")
	root.Flags().BoolVar(&flagListConferences, "list-conferences", false, "list Zoom conference recordings without downloading")
	root.Flags().StringVar(&flagDownloadConferencesTo, "download-conferences-to", "", "download Zoom conference recordings into this directory")

	root.Flags().StringVar(&flagCredentialFile, "credential-file", "login.json", "path to a JSON file with \"username\" and \"password\"")
	root.Flags().StringSliceVar(&flagIncludeUploadableFolders, "include-uploadable-folders", nil, "also list/download uploadable workbin folders for: taking, teaching, all")
	root.Flags().StringVar(&flagUpdated, "updated", "skip", "how to handle a file that already exists: skip, overwrite, rename")
	root.Flags().StringVar(&flagTerm, "term", "", "restrict to one 4-digit academic term, e.g. 2310")
	root.Flags().StringSliceVar(&flagModules, "modules", nil, "restrict to these module codes (default: all visible modules)")
	root.Flags().StringVar(&flagFFmpegPath, "ffmpeg", "ffmpeg", "path to the ffmpeg binary used to mux HLS streams")

	root.Flags().StringVar(&flagConfigFile, "config", "", "optional YAML file with ambient settings (timeouts, concurrency, logging)")
	root.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.Flags().StringVar(&flagLogFormat, "log-format", "console", "log format: console, json")

	return root
}

// createVersionCommand creates the version subcommand.
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("luminus-sync version %s\n", version)
			cmd.Printf("Commit: %s\n", commit)
			cmd.Printf("Build date: %s\n", buildDate)
		},
	}
}

// parseOptions builds a validated config.Options from the bound flag variables.
func parseOptions(cmd *cobra.Command) (config.Options, error) {
	opts := config.DefaultOptions()

	opts.Announcements = flagAnnouncements
	opts.Files = flagFiles
	opts.DownloadTo = flagDownloadTo
	opts.ListMultimedia = flagListMultimedia
	opts.DownloadMultimediaTo = flagDownloadMultimediaTo
	opts.ListWebLectures = flagListWebLectures
	opts.DownloadWebLecturesTo = flagDownloadWebLecturesTo
	opts.ListConferences = flagListConferences
	opts.DownloadConferencesTo = flagDownloadConferencesTo

	opts.CredentialFile = flagCredentialFile
	opts.Term = flagTerm
	opts.Modules = flagModules
	opts.ConfigFile = flagConfigFile

	if cmd.Flags().Changed("term") {
		term, err := config.ParseTerm(flagTerm)
		if err != nil {
			return config.Options{}, err
		}
		opts.Term = term
	}

	updated, err := config.ParseUpdatedMode(flagUpdated)
	if err != nil {
		return config.Options{}, err
	}
	opts.Updated = updated

	for _, raw := range flagIncludeUploadableFolders {
		scope, err := config.ParseUploadableScope(raw)
		if err != nil {
			return config.Options{}, err
		}
		opts.IncludeUploadableFolders = append(opts.IncludeUploadableFolders, scope)
	}

	if cmd.Flags().Changed("ffmpeg") {
		opts.FFmpegPath = flagFFmpegPath
		opts.FFmpegPathSet = true
	}
	if cmd.Flags().Changed("log-level") {
		opts.LogLevel = logging.Level(flagLogLevel)
		opts.LogLevelSet = true
	}
	if cmd.Flags().Changed("log-format") {
		opts.LogFormat = logging.Format(flagLogFormat)
		opts.LogFormatSet = true
	}

	if err := opts.Validate(); err != nil {
		return config.Options{}, err
	}
	return opts, nil
}

func readCredentials(path string) (credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return credentials{}, err
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return credentials{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if creds.Username == "" || creds.Password == "" {
		return credentials{}, fmt.Errorf("%s must contain non-empty \"username\" and \"password\" fields", path)
	}
	return creds, nil
}

// run resolves configuration, authenticates once, and drives the orchestrator
// to completion. Cancellation is wired here (SIGINT/SIGTERM) rather than
// inside orchestrator.Run, so the orchestrator stays a pure function of an
// already-cancelable context; this mirrors the only other SIGTERM-aware
// entrypoint in the retrieved corpus.
func run(cmd *cobra.Command) error {
	opts, err := parseOptions(cmd)
	if err != nil {
		return err
	}

	fileCfg, err := config.LoadFileConfig(opts.ConfigFile)
	if err != nil {
		return err
	}
	resolved := config.Resolve(opts, fileCfg)

	log := logging.New(os.Stderr, resolved.LogFormat, resolved.LogLevel)
	logging.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.IntoContext(ctx, log)

	creds, err := readCredentials(opts.CredentialFile)
	if err != nil {
		return fmt.Errorf("reading credential file: %w", err)
	}

	rawClient, err := httpclient.New(httpclient.Config{
		Timeout: time.Duration(resolved.HTTPTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("building HTTP client: %w", err)
	}
	client := httpclient.NewClient(rawClient, log)

	authCfg := auth.DefaultConfig()
	session, err := auth.Login(ctx, client, authCfg, creds.Username, creds.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	session.FFmpegPath = resolved.FFmpegPath

	apiClient, err := api.New(session)
	if err != nil {
		return fmt.Errorf("building API client: %w", err)
	}

	orch := orchestrator.New(apiClient, session, authCfg, resolved, cmd.OutOrStdout())
	summary, err := orch.Run(ctx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	failed := 0
	for _, mr := range summary.Modules {
		printModuleResult(cmd, opts, mr)
		failed += len(mr.Workbin.Errors) + len(mr.Multimedia.Errors) + len(mr.WebLectures.Errors) + len(mr.Conferences.Errors)
		if mr.AnnounceErr != nil {
			failed++
		}
	}
	cmd.Printf("\nluminus-sync finished: %d module(s) processed, %d error(s)\n", len(summary.Modules), failed)
	if failed > 0 {
		return fmt.Errorf("%d resource(s) failed", failed)
	}
	return nil
}

func printModuleResult(cmd *cobra.Command, opts config.Options, mr orchestrator.ModuleResult) {
	if mr.AnnounceErr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: announcements: %v\n", mr.Module.Code, mr.AnnounceErr)
	}
	if opts.Files {
		for _, p := range mr.Workbin.Listed {
			cmd.Println(p)
		}
	}
	if opts.ListMultimedia {
		for _, p := range mr.Multimedia.Listed {
			cmd.Println(p)
		}
	}
	if opts.ListWebLectures {
		for _, p := range mr.WebLectures.Listed {
			cmd.Println(p)
		}
	}
	if opts.ListConferences {
		for _, p := range mr.Conferences.Listed {
			cmd.Println(p)
		}
	}
	reportFamilyErrors(cmd, mr.Module.Code, "workbin", mr.Workbin)
	reportFamilyErrors(cmd, mr.Module.Code, "multimedia", mr.Multimedia)
	reportFamilyErrors(cmd, mr.Module.Code, "weblectures", mr.WebLectures)
	reportFamilyErrors(cmd, mr.Module.Code, "conferences", mr.Conferences)
}

func reportFamilyErrors(cmd *cobra.Command, moduleCode, family string, fr orchestrator.FamilyResult) {
	for _, err := range fr.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: %v\n", moduleCode, family, err)
	}
}

func main() {
	root := buildRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
