package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/dbxlink/internal/convert"
)

// Watch timing.
const (
	// watchSettleDelay is how long a file must go without events before it
	// is linked, so files still being written are not linked half-done.
	watchSettleDelay  = 2 * time.Second
	watchTickInterval = 500 * time.Millisecond

	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// fsWatcher is the subset of fsnotify.Watcher the watch loop uses.
type fsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// fsnotifyWatcher adapts *fsnotify.Watcher, whose channels are fields.
type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Link every file written into a directory",
		Long: `Watch DIR (which must be inside the Dropbox folder) and create a shared
link for every file created or modified there, printing each URL as it is
ready. Subdirectories are watched too. Failed links are retried once.

Press Ctrl-C to stop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), mustCLIContext(cmd.Context()), args[0])
		},
	}

	cmd.Flags().Int(flagExpiresDays, 0, "days until the links expire (default from config)")

	return cmd
}

func runWatch(ctx context.Context, cc *CLIContext, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", dir, err)
	}

	mapper, err := newMapper(cc.Cfg)
	if err != nil {
		return err
	}

	if !insideFolder(mapper.Root(), abs) {
		return fmt.Errorf("%s is not inside the Dropbox folder %s", abs, mapper.Root())
	}

	sess := NewSession(cc, sessionOptions{})
	if _, err := sess.ConfigurePathRoot(ctx, cc.Cfg.PathRoot); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	lw := newLinkWatcher(sess.Converter(cc, mapper), fsnotifyWatcher{w: w}, cc)
	defer lw.watcher.Close()

	if err := lw.addTree(abs, false); err != nil {
		return err
	}

	cc.Statusf("Watching %s. Press Ctrl-C to stop.\n", abs)

	return lw.run(ctx)
}

// insideFolder reports whether dir is root or below it.
func insideFolder(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// linkWatcher turns filesystem events into link batches. Each settled batch
// is one tracker message; a batch with failures is retried once on the next
// tick and then dropped.
type linkWatcher struct {
	conv    *convert.Converter
	watcher fsWatcher
	out     io.Writer
	errOut  io.Writer
	logger  *slog.Logger
	settle  time.Duration

	pending map[string]time.Time // path -> last event

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

func newLinkWatcher(conv *convert.Converter, watcher fsWatcher, cc *CLIContext) *linkWatcher {
	return &linkWatcher{
		conv:      conv,
		watcher:   watcher,
		out:       cc.Out,
		errOut:    cc.Err,
		logger:    cc.Logger,
		settle:    watchSettleDelay,
		pending:   make(map[string]time.Time),
		nowFunc:   time.Now,
		sleepFunc: timeSleep,
	}
}

// run is the select loop: events, watcher errors, settle ticks, and
// cancellation.
func (lw *linkWatcher) run(ctx context.Context) error {
	ticker := time.NewTicker(watchTickInterval)
	defer ticker.Stop()

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-lw.watcher.Events():
			if !ok {
				return nil
			}

			lw.handleEvent(ev)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-lw.watcher.Errors():
			if !ok {
				return nil
			}

			lw.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			// Back off so a sustained error (e.g. queue overflow) does not spin.
			if sleepErr := lw.sleepFunc(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)

		case <-ticker.C:
			lw.flush(ctx)
		}
	}
}

// handleEvent records created or written files as pending and watches new
// directories.
func (lw *linkWatcher) handleEvent(ev fsnotify.Event) {
	// Mode changes alone never produce new content.
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	if isIgnoredName(filepath.Base(ev.Name)) {
		lw.logger.Debug("watch: skipping excluded file", slog.String("path", ev.Name))
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			// Removed right after creation.
			lw.logger.Debug("stat failed for created path",
				slog.String("path", ev.Name), slog.String("error", err.Error()))

			return
		}

		if info.IsDir() {
			// Files created before the watch was registered are picked up
			// by the scan.
			if err := lw.addTree(ev.Name, true); err != nil {
				lw.logger.Warn("failed to watch new directory",
					slog.String("path", ev.Name), slog.String("error", err.Error()))
			}

			return
		}

		lw.pending[ev.Name] = lw.nowFunc()

	case ev.Has(fsnotify.Write):
		lw.pending[ev.Name] = lw.nowFunc()

	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		delete(lw.pending, ev.Name)
	}
}

// addTree watches dir and every directory below it. With markFiles, the
// files already present are queued too.
func (lw *linkWatcher) addTree(dir string, markFiles bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}

			lw.logger.Debug("watch: walk error", slog.String("path", p), slog.String("error", err.Error()))

			return nil
		}

		if p != dir && isIgnoredName(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			if addErr := lw.watcher.Add(p); addErr != nil {
				return fmt.Errorf("watching %s: %w", p, addErr)
			}

			return nil
		}

		if markFiles && d.Type().IsRegular() {
			lw.pending[p] = lw.nowFunc()
		}

		return nil
	})
}

// flush retries the batches that failed last time, then links every file
// that has settled.
func (lw *linkWatcher) flush(ctx context.Context) {
	tracker := lw.conv.Tracker()

	for _, msg := range tracker.Messages() {
		if err := lw.conv.Retry(ctx, msg); err != nil {
			return
		}

		lw.report(msg)
		tracker.Clear(msg)
	}

	ready := lw.settled()
	if len(ready) == 0 {
		return
	}

	msg := uuid.NewString()

	lw.logger.Info("linking settled files",
		slog.String("message", msg),
		slog.Int("count", len(ready)),
	)

	if err := lw.conv.Convert(ctx, msg, ready); err != nil {
		return
	}

	lw.report(msg)

	if !tracker.HasFailed(msg) {
		tracker.Clear(msg)
		return
	}

	// Keep only the failures for the retry.
	states, _ := tracker.Get(msg)
	for _, s := range states {
		if s.Status != convert.Failed {
			tracker.Remove(msg, s.LocalPath)
		}
	}
}

// settled removes and returns, sorted, the pending files quiet for the
// settle delay.
func (lw *linkWatcher) settled() []string {
	now := lw.nowFunc()

	var ready []string

	for p, last := range lw.pending {
		if now.Sub(last) >= lw.settle {
			ready = append(ready, p)
			delete(lw.pending, p)
		}
	}

	slices.Sort(ready)

	return ready
}

// report prints the URL of each linked file and the error of each failure.
func (lw *linkWatcher) report(msg string) {
	states, _ := lw.conv.Tracker().Get(msg)

	for _, s := range states {
		switch s.Status {
		case convert.Success:
			fmt.Fprintf(lw.out, "%s: %s\n", s.FileName, s.URL)
		case convert.Failed:
			fmt.Fprintf(lw.errOut, "FAILED %s: %s\n", s.FileName, s.Error)
		case convert.Pending, convert.InProgress:
		}
	}
}

// isIgnoredName matches temporary and partial files that must never be
// shared: dotfiles, editor backups, and in-progress downloads.
func isIgnoredName(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return true
	}

	lower := strings.ToLower(name)

	for _, ext := range ignoredSuffixes {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	return false
}

var ignoredSuffixes = []string{".partial", ".tmp", ".swp", ".crdownload"}

// timeSleep waits for d or until ctx is done.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
