package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"equipdb/internal/pipeline"
)

const watchDebounce = 500 * time.Millisecond

func newWatchCmd(a *app) *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run all stages, then re-run whenever an input document changes",
		Long: `watch runs every stage once, then re-runs them when one of the input
documents is written, created or renamed (changes are debounced). With
--schedule it also re-runs on a cron schedule ("@every 1h", "0 3 * * *").
A change that leaves every document byte-identical is ignored.
A failed run is logged and watching continues.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := log.New(cmd.ErrOrStderr(), "watch ", log.LstdFlags|log.Lmsgprefix)
			docs := pipeline.Documents{
				Stats:          cfg.Documents.Stats,
				WeaponProperty: cfg.Documents.WeaponProperty,
				WeaponName:     cfg.Documents.WeaponName,
			}
			w := &watcher{
				Dir:      cfg.InputDir,
				Files:    docs.Names(),
				Schedule: schedule,
				Debounce: watchDebounce,
				Logger:   logger,
				Fingerprint: func() (string, error) {
					return pipeline.Fingerprint(cfg.InputDir, docs.Names()...)
				},
				Run: func(ctx context.Context, reason string) {
					logger.Printf("trigger=%s", reason)
					if err := execute(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
						logger.Printf("run failed: %v", err)
					}
				},
			}
			return w.Watch(ctx)
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule for periodic re-runs")
	return cmd
}

// watcher calls Run once at start, after every debounced change to one of
// Files inside Dir, and on every Schedule tick. Runs never overlap.
//
// When Fingerprint is set, a change run is skipped if the fingerprint equals
// the one taken before the previous run.
type watcher struct {
	Dir         string
	Files       []string
	Schedule    string
	Debounce    time.Duration
	Logger      *log.Logger
	Fingerprint func() (string, error)
	Run         func(ctx context.Context, reason string)

	last string
}

// changed takes a new fingerprint and reports whether it differs from the
// last one. Fingerprint errors count as a change.
func (w *watcher) changed() bool {
	if w.Fingerprint == nil {
		return true
	}
	fp, err := w.Fingerprint()
	if err != nil {
		w.logf("fingerprint: %v", err)
		w.last = ""
		return true
	}
	if fp == w.last {
		return false
	}
	w.last = fp
	return true
}

func (w *watcher) logf(format string, args ...any) {
	if w.Logger != nil {
		w.Logger.Printf(format, args...)
	}
}

func (w *watcher) relevant(path string) bool {
	if filepath.Clean(filepath.Dir(path)) != filepath.Clean(w.Dir) {
		return false
	}
	base := filepath.Base(path)
	for _, f := range w.Files {
		if f == base {
			return true
		}
	}
	return false
}

// Watch blocks until ctx is done.
func (w *watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer fw.Close()
	// Watch the directory, not the files: editors replace files by rename.
	if err := fw.Add(w.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.Dir, err)
	}

	ticks := make(chan struct{}, 1)
	if w.Schedule != "" {
		sched, err := cron.ParseStandard(w.Schedule)
		if err != nil {
			return fmt.Errorf("watch: bad schedule %q: %w", w.Schedule, err)
		}
		c := cron.New()
		c.Schedule(sched, cron.FuncJob(func() {
			select {
			case ticks <- struct{}{}:
			default:
			}
		}))
		c.Start()
		defer c.Stop()
	}

	w.changed()
	w.Run(ctx, "startup")

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev.Name) || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.Debounce)
			} else {
				timer.Reset(w.Debounce)
			}
			pending = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logf("fsnotify: %v", err)

		case <-pending:
			pending = nil
			if !w.changed() {
				w.logf("skip: inputs unchanged")
				continue
			}
			w.Run(ctx, "change")

		case <-ticks:
			w.changed()
			w.Run(ctx, "schedule")
		}
	}
}
