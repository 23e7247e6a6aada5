package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/dbxlink/internal/dropbox"
	"github.com/tonimelisma/dbxlink/internal/pathmap"
)

// Defaults for Options zero values.
const (
	DefaultExpiry   = 7 * 24 * time.Hour
	DefaultParallel = 4
)

// LinkCreator creates or reuses a shared link. *dropbox.Client implements it.
type LinkCreator interface {
	CreateOrReuse(ctx context.Context, req dropbox.LinkRequest, remotePath string) (*dropbox.LinkResult, error)
}

// PathMapper maps a local path to its Dropbox path. *pathmap.Mapper
// implements it.
type PathMapper interface {
	Remote(localPath string) (string, error)
}

// Options configures a Converter.
type Options struct {
	// Expiry is added to the current time to get each link's expiry.
	Expiry time.Duration
	// Parallel bounds concurrent CreateOrReuse calls.
	Parallel int
	Logger   *slog.Logger
}

// Converter turns local files into shared links, recording progress in a
// Tracker. Per-file failures are recorded on the entry and never abort the
// other files.
type Converter struct {
	tracker  *Tracker
	links    LinkCreator
	paths    PathMapper
	expiry   time.Duration
	parallel int
	logger   *slog.Logger

	nowFunc func() time.Time
}

// NewConverter returns a Converter recording into tracker.
func NewConverter(tracker *Tracker, links LinkCreator, paths PathMapper, opts Options) *Converter {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}

	if opts.Parallel <= 0 {
		opts.Parallel = DefaultParallel
	}

	return &Converter{
		tracker:  tracker,
		links:    links,
		paths:    paths,
		expiry:   opts.Expiry,
		parallel: opts.Parallel,
		logger:   opts.Logger,
		nowFunc:  time.Now,
	}
}

// Tracker returns the tracker the converter records into.
func (c *Converter) Tracker() *Tracker {
	return c.tracker
}

// job is one file ready for link creation.
type job struct {
	localPath string
	remote    string
	size      int64
}

// Convert adds an entry for every path not already tracked under msg and
// creates the links concurrently. Files that cannot be read or mapped are
// recorded as Failed without a remote call. Returns only ctx errors.
func (c *Converter) Convert(ctx context.Context, msg string, localPaths []string) error {
	existing, _ := c.tracker.Get(msg)

	seen := make(map[string]bool, len(existing)+len(localPaths))
	for _, s := range existing {
		seen[s.LocalPath] = true
	}

	var jobs []job

	for _, p := range localPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}

		if seen[abs] {
			c.logger.Debug("file already tracked for message, skipping",
				slog.String("message", msg),
				slog.String("path", abs),
			)

			continue
		}

		seen[abs] = true

		state := ConversionState{
			LocalPath: abs,
			FileName:  pathmap.DisplayName(abs),
			Status:    Pending,
		}

		j, err := c.prepare(abs)
		if err != nil {
			state.Status = Failed
			state.Error = err.Error()
			c.tracker.Add(msg, state)

			c.logger.Warn("conversion rejected",
				slog.String("message", msg),
				slog.String("path", abs),
				slog.String("error", err.Error()),
			)

			continue
		}

		state.SourceFile = j.remote
		state.Size = j.size
		c.tracker.Add(msg, state)

		jobs = append(jobs, j)
	}

	return c.run(ctx, msg, jobs)
}

// Retry re-runs the Failed entries of msg, re-reading and re-mapping each
// file first.
func (c *Converter) Retry(ctx context.Context, msg string) error {
	failed := c.tracker.Failed(msg)
	if len(failed) == 0 {
		return nil
	}

	c.logger.Info("retrying failed conversions",
		slog.String("message", msg),
		slog.Int("count", len(failed)),
	)

	jobs := make([]job, 0, len(failed))

	for _, s := range failed {
		j, err := c.prepare(s.LocalPath)
		if err != nil {
			c.tracker.Update(msg, s.LocalPath, Failed, "", err.Error())
			continue
		}

		c.tracker.modify(msg, s.LocalPath, func(cs *ConversionState) {
			cs.SourceFile = j.remote
			cs.Size = j.size
		})

		jobs = append(jobs, j)
	}

	return c.run(ctx, msg, jobs)
}

// prepare stats and maps one file.
func (c *Converter) prepare(localPath string) (job, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return job{}, fmt.Errorf("convert: %w", err)
	}

	if info.IsDir() {
		return job{}, fmt.Errorf("convert: %s is a directory", localPath)
	}

	remote, err := c.paths.Remote(localPath)
	if err != nil {
		return job{}, err
	}

	return job{localPath: localPath, remote: remote, size: info.Size()}, nil
}

// run creates the links for jobs on a bounded errgroup.
func (c *Converter) run(ctx context.Context, msg string, jobs []job) error {
	if len(jobs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)

	for _, j := range jobs {
		g.Go(func() error {
			c.convertOne(gctx, msg, j)
			return nil
		})
	}

	// Tasks never return errors.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("convert: %w", err)
	}

	return nil
}

func (c *Converter) convertOne(ctx context.Context, msg string, j job) {
	c.tracker.Update(msg, j.localPath, InProgress, "", "")

	req := dropbox.NewLinkRequest(j.localPath, j.size, c.nowFunc().Add(c.expiry))

	res, err := c.links.CreateOrReuse(ctx, req, j.remote)
	if err != nil {
		c.tracker.Update(msg, j.localPath, Failed, "", describe(err))

		c.logger.Warn("conversion failed",
			slog.String("message", msg),
			slog.String("path", j.localPath),
			slog.String("error", err.Error()),
		)

		return
	}

	c.tracker.Update(msg, j.localPath, Success, res.URL, "")

	c.logger.Info("conversion succeeded",
		slog.String("message", msg),
		slog.String("path", j.localPath),
		slog.Bool("reused", res.Reused),
	)
}

// authFailedMessage replaces token errors, which carry OAuth2 detail the
// user cannot act on.
const authFailedMessage = "Authentication failed; run the command again to retry."

// describe renders a conversion error for the user. Provider errors are
// reduced to their tag.
func describe(err error) string {
	if errors.Is(err, dropbox.ErrTokenUnavailable) {
		return authFailedMessage
	}

	var apiErr *dropbox.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("Dropbox refused the link (%s)", apiErr.Tag)
	}

	return err.Error()
}
