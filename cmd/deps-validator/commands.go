package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ritzau/deps-validator/pkg/logging"
	"github.com/ritzau/deps-validator/pkg/output"
	"github.com/ritzau/deps-validator/pkg/trigger"
	"github.com/ritzau/deps-validator/pkg/watcher"
	"github.com/ritzau/deps-validator/pkg/web"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the cache directory and validate the whole workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.session.InitWorkspace(cmd.Context()); err != nil {
				return err
			}
			output.PrintFindings(cmd.OutOrStdout(), a.session.Findings())
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [files...]",
		Short: "Load the cached state, revalidate what changed and print findings",
		Long: "Without arguments, loads the cache and revalidates files changed since it was written.\n" +
			"With files, also revalidates their scopes and prints only their findings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.session.Initialize(ctx); err != nil {
				return err
			}

			files := make([]string, 0, len(args))
			for _, arg := range args {
				files = append(files, a.relative(arg))
			}

			switch len(files) {
			case 0:
				output.PrintFindings(cmd.OutOrStdout(), a.session.Findings())
				return nil
			case 1:
				err = a.session.RevalidateFile(ctx, files[0])
			default:
				err = a.session.RevalidateBatch(ctx, files)
			}
			if err != nil {
				return err
			}
			output.PrintFindings(cmd.OutOrStdout(), a.session.FindingsFor(files...))
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show workspace, cache and staleness state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.session.Initialize(ctx); err != nil {
				return err
			}
			if _, err := a.session.CheckStaleness(ctx); err != nil {
				logging.Warn("Staleness check failed", "error", err)
			}
			output.PrintStatus(cmd.OutOrStdout(), a.session.Status())
			return nil
		},
	}
}

func newScopeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scope <file>",
		Short: "Preview which files a save of <file> would revalidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.session.Initialize(cmd.Context()); err != nil {
				return err
			}
			sc, ct, err := a.session.PreviewScope(a.relative(args[0]))
			if err != nil {
				return err
			}
			output.PrintScope(cmd.OutOrStdout(), ct, sc)
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the workspace, revalidate on save and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.watch(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.IntP("port", "p", 0, "HTTP port for the API, SSE and /metrics")
	f.Duration("debounce-save", 0, "Per-file save debounce")
	f.Duration("debounce-idle", 0, "Quiet time before the staleness check")
	f.Int("bulk-threshold", 0, "Files in one burst that make a bulk change")
	return cmd
}

// changeSink receives classified file changes
type changeSink interface {
	Saved(path string)
	Bulk(paths []string)
}

// dispatch routes debounced batches to sink until batches closes or ctx is
// done
func dispatch(ctx context.Context, batches <-chan watcher.Batch, threshold int, sink changeSink) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			changes := watcher.AnalyzeChanges(batch, threshold)
			if changes.Bulk {
				logging.Info("Bulk change detected", "files", batch.Len())
				sink.Bulk(changes.Paths())
				continue
			}
			for _, p := range changes.Paths() {
				sink.Saved(p)
			}
		}
	}
}

func (a *app) watch(ctx context.Context) error {
	if err := a.session.Initialize(ctx); err != nil {
		// The engine may come up later; saves will retry
		logging.Error("Initial validation failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	trig := trigger.New(ctx, a.session, trigger.Options{
		SaveDelay: a.cfg.Debounce.Save,
		IdleDelay: a.cfg.Debounce.Idle,
	})
	defer trig.Stop()

	fw, err := watcher.NewFileWatcher(a.root, a.enumerator)
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}
	debouncer := watcher.NewDebouncer(fw.Events(), a.cfg.Bulk.Window, a.cfg.Bulk.MaxWait)
	debouncer.Start(ctx)

	server := web.NewServer(a.session, trig, a.publisher)
	g.Go(func() error {
		return server.Start(ctx, a.cfg.Port)
	})
	g.Go(func() error {
		return dispatch(ctx, debouncer.Output(), a.cfg.Bulk.Threshold, trig)
	})

	logging.Info("Watching workspace", "root", a.root, "port", a.cfg.Port)
	return g.Wait()
}

// relative turns a command-line path into a workspace-relative slash path
func (a *app) relative(p string) string {
	if !filepath.IsAbs(p) {
		if wd, err := os.Getwd(); err == nil {
			p = filepath.Join(wd, p)
		}
	}
	if rel, err := filepath.Rel(a.root, p); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(p)
}
