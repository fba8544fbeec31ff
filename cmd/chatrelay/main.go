package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"

	"github.com/spf13/cobra"
	"github.com/wilbur182/chatrelay/internal/adapter"
	"github.com/wilbur182/chatrelay/internal/adapter/vscode"
	"github.com/wilbur182/chatrelay/internal/config"
	"github.com/wilbur182/chatrelay/internal/features"
)

// Version is set at build time via ldflags
var Version = ""

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	workspace  string
	debug      bool
	features   []string
}

// env is the resolved runtime state a subcommand works with.
type env struct {
	cfg       *config.Config
	logger    *slog.Logger
	features  *features.Manager
	workspace string
}

func main() {
	var opts globalOptions

	rootCmd := &cobra.Command{
		Use:           "chatrelay",
		Short:         "Relay VS Code chat sessions to local clients",
		Version:       effectiveVersion(Version),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config file")
	flags.StringVarP(&opts.workspace, "workspace", "w", "", "workspace root (default from config)")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flags.StringArrayVar(&opts.features, "feature", nil, "feature override, e.g. timeline=false (repeatable)")

	rootCmd.AddCommand(serveCmd(&opts))
	rootCmd.AddCommand(inboxCmd(&opts))
	rootCmd.AddCommand(waitCmd(&opts))
	rootCmd.AddCommand(monitorCmd(&opts))
	rootCmd.AddCommand(configCmd(&opts))
	rootCmd.AddCommand(featureCmd(&opts))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config, builds the logger and resolves the workspace root.
func (o *globalOptions) setup() (*env, error) {
	logLevel := slog.LevelInfo
	if o.debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	fm := features.New(cfg)
	if err := fm.ParseOverrides(o.features); err != nil {
		return nil, err
	}

	workspace := cfg.Editor.Workspace
	if o.workspace != "" {
		workspace = config.ExpandPath(o.workspace)
	}
	workspace, err = filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	return &env{cfg: cfg, logger: logger, features: fm, workspace: workspace}, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// newSource builds the chat session source for the configured editor.
// The product "auto" picks the first registered editor build that has
// sessions for the workspace.
func (e *env) newSource() (adapter.Source, error) {
	product := e.cfg.Editor.Product
	if product == "auto" {
		detected, err := adapter.DetectSources(e.workspace)
		if err != nil {
			return nil, err
		}
		if len(detected) == 0 {
			return nil, fmt.Errorf("no editor has chat sessions for %s (tried %v)", e.workspace, adapter.RegisteredIDs())
		}
		ids := make([]string, 0, len(detected))
		for id := range detected {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		product = ids[0]
		e.logger.Debug("detected editor", "product", product, "candidates", ids)
	}

	opts := []vscode.Option{
		vscode.WithLogger(e.logger),
		vscode.WithTimeline(e.features.IsEnabled(features.Timeline)),
		vscode.WithTitleIndex(e.features.IsEnabled(features.TitleIndex)),
	}
	if e.cfg.Editor.UserDataDir != "" {
		opts = append(opts, vscode.WithUserDataDir(e.cfg.Editor.UserDataDir))
	}
	if e.cfg.Editor.SessionDir != "" {
		opts = append(opts, vscode.WithSessionDir(e.cfg.Editor.SessionDir))
	}
	return vscode.New(product, opts...), nil
}

// effectiveVersion returns the version string, with fallback to build info.
func effectiveVersion(v string) string {
	if v != "" {
		return v
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	// Fall back to VCS info
	var revision string
	var dirty bool

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}

	if revision != "" {
		ver := "devel+" + shortRevision(revision)
		if dirty {
			ver += "+dirty"
		}
		return ver
	}

	return "devel"
}

// shortRevision returns the first 12 chars of a revision.
func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
