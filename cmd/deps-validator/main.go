package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ritzau/deps-validator/pkg/analysis"
	"github.com/ritzau/deps-validator/pkg/config"
	"github.com/ritzau/deps-validator/pkg/deps"
	"github.com/ritzau/deps-validator/pkg/engine"
	"github.com/ritzau/deps-validator/pkg/finder"
	"github.com/ritzau/deps-validator/pkg/logging"
	"github.com/ritzau/deps-validator/pkg/pubsub"
	"github.com/ritzau/deps-validator/pkg/scope"
	"github.com/ritzau/deps-validator/pkg/snapshot"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "deps-validator",
		Short:         "Incremental dependency-aware validation for a workspace",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.String("config", "", "Config file (default ./"+config.FileName+")")
	f.StringP("workspace", "w", ".", "Workspace root")
	f.CountP("verbose", "v", "Increase log verbosity (-v debug, -vv trace)")
	f.String("verbosity", "", "Log level: error, warn, info, debug, trace")
	f.Bool("json", false, "Log as JSON")
	f.String("engine-url", "", "Analysis engine base URL")
	f.Duration("engine-timeout", 0, "Engine timeout for a single-file pass")
	f.StringSlice("engine-modes", nil, "Engine modes")
	f.Int("scope-limit", 0, "Maximum affected files per scope")
	f.Int("scope-depth", 0, "Dependent depth walked for import and export changes")
	f.String("cache-dir", "", "Cache directory, relative to the workspace")
	f.StringSlice("exclude", nil, "Glob patterns to skip, relative to the workspace")
	f.Int("concurrency", 0, "Parallel file reads")

	root.AddCommand(
		newInitCmd(),
		newValidateCmd(),
		newWatchCmd(),
		newStatusCmd(),
		newScopeCmd(),
	)
	return root
}

// app is everything a command needs, built from the loaded config
type app struct {
	cfg        *config.Config
	root       string
	enumerator *finder.WalkEnumerator
	publisher  *pubsub.SSEPublisher
	session    *analysis.Session
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	logging.Configure(logging.Options{
		Level: logging.ParseLevel(cfg.Verbosity, cfg.VerboseCnt),
		JSON:  cfg.JSONLogs,
		Color: true,
	})

	root, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", root)
	}

	enumerator, err := finder.NewWalkEnumerator(snapshot.SourceExtensions(), cfg.Exclude)
	if err != nil {
		return nil, err
	}

	publisher := pubsub.NewSessionPublisher()
	session := analysis.NewSession(analysis.Options{
		Root:        root,
		CacheDir:    cfg.CacheDir(root),
		ToolVersion: version,
		Modes:       cfg.Engine.Modes,
		Concurrency: cfg.Concurrency,
		Timeout:     cfg.Engine.Timeout,
		PerFile:     cfg.Engine.PerFile,
		Scope: scope.Options{
			Limit:       cfg.Scope.Limit,
			Depth:       cfg.Scope.Depth,
			CostPerFile: cfg.Scope.Cost,
		},
	}, analysis.Collaborators{
		Engine:     engine.NewHTTPClient(cfg.Engine.URL),
		Extractor:  deps.NewImportExtractor(root, cfg.Concurrency),
		Enumerator: enumerator,
		Publisher:  publisher,
	})

	logging.Debug("Loaded configuration", "workspace", root, "engine", cfg.Engine.URL, "cache", cfg.CacheDir(root))
	return &app{
		cfg:        cfg,
		root:       root,
		enumerator: enumerator,
		publisher:  publisher,
		session:    session,
	}, nil
}

// Close flushes the cache and shuts down subscriptions
func (a *app) Close() {
	a.session.Close()
	a.publisher.Close()
}
