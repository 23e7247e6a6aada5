package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/dbxlink/internal/pathmap"
)

// mockFsWatcher implements fsWatcher with injectable channels.
type mockFsWatcher struct {
	mu     sync.Mutex
	added  []string
	events chan fsnotify.Event
	errs   chan error
}

func newMockFsWatcher() *mockFsWatcher {
	return &mockFsWatcher{
		events: make(chan fsnotify.Event, 10),
		errs:   make(chan error, 10),
	}
}

func (m *mockFsWatcher) Add(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.added = append(m.added, name)

	return nil
}

func (m *mockFsWatcher) Close() error                  { return nil }
func (m *mockFsWatcher) Events() <-chan fsnotify.Event { return m.events }
func (m *mockFsWatcher) Errors() <-chan error          { return m.errs }

// newTestLinkWatcher returns a linkWatcher on env with a controllable clock.
func newTestLinkWatcher(t *testing.T, env *testEnv) (*linkWatcher, *mockFsWatcher, *time.Time) {
	t.Helper()

	mapper, err := pathmap.NewMapper(env.dropboxDir)
	require.NoError(t, err)

	sess := NewSession(env.cc, sessionOptions{openURL: failingBrowser})
	fw := newMockFsWatcher()
	lw := newLinkWatcher(sess.Converter(env.cc, mapper), fw, env.cc)

	now := testTime
	lw.nowFunc = func() time.Time { return now }

	return lw, fw, &now
}

func TestLinkWatcher_LinksSettledFile(t *testing.T) {
	env := newTestEnv(t, true)
	lw, _, now := newTestLinkWatcher(t, env)
	p := env.file(t, "drop/a.txt", 5)

	lw.handleEvent(fsnotify.Event{Name: p, Op: fsnotify.Create})
	lw.handleEvent(fsnotify.Event{Name: p, Op: fsnotify.Write})

	// Still being written.
	*now = now.Add(watchSettleDelay - time.Millisecond)
	lw.flush(context.Background())
	assert.Empty(t, env.out.String())
	assert.Zero(t, env.api.createCount())

	*now = now.Add(time.Millisecond)
	lw.flush(context.Background())

	assert.True(t, strings.HasPrefix(env.out.String(), "a.txt: https://www.dropbox.com/s/"), env.out.String())
	assert.Equal(t, 1, env.api.createCount())
	assert.Empty(t, lw.pending)
	assert.Empty(t, lw.conv.Tracker().Messages())
}

func TestLinkWatcher_WriteResetsSettleTimer(t *testing.T) {
	env := newTestEnv(t, true)
	lw, _, now := newTestLinkWatcher(t, env)
	p := env.file(t, "a.txt", 5)

	lw.handleEvent(fsnotify.Event{Name: p, Op: fsnotify.Create})

	*now = now.Add(watchSettleDelay - time.Second)
	lw.handleEvent(fsnotify.Event{Name: p, Op: fsnotify.Write})

	*now = now.Add(time.Second)
	lw.flush(context.Background())
	assert.Zero(t, env.api.createCount())

	*now = now.Add(watchSettleDelay)
	lw.flush(context.Background())
	assert.Equal(t, 1, env.api.createCount())
}

func TestLinkWatcher_IgnoredEvents(t *testing.T) {
	env := newTestEnv(t, true)
	lw, _, _ := newTestLinkWatcher(t, env)

	p := env.file(t, "a.txt", 1)

	lw.handleEvent(fsnotify.Event{Name: p, Op: fsnotify.Chmod})
	lw.handleEvent(fsnotify.Event{Name: env.file(t, ".hidden", 1), Op: fsnotify.Create})
	lw.handleEvent(fsnotify.Event{Name: env.file(t, "download.crdownload", 1), Op: fsnotify.Create})
	lw.handleEvent(fsnotify.Event{Name: env.file(t, "~lock.docx", 1), Op: fsnotify.Write})
	lw.handleEvent(fsnotify.Event{Name: filepath.Join(env.dropboxDir, "vanished.txt"), Op: fsnotify.Create})

	assert.Empty(t, lw.pending)
}

func TestLinkWatcher_RemoveDropsPending(t *testing.T) {
	env := newTestEnv(t, true)
	lw, _, now := newTestLinkWatcher(t, env)
	p := env.file(t, "a.txt", 1)

	lw.handleEvent(fsnotify.Event{Name: p, Op: fsnotify.Create})
	lw.handleEvent(fsnotify.Event{Name: p, Op: fsnotify.Remove})

	*now = now.Add(time.Hour)
	lw.flush(context.Background())

	assert.Zero(t, env.api.createCount())
}

func TestLinkWatcher_NewDirectoryIsWatchedAndScanned(t *testing.T) {
	env := newTestEnv(t, true)
	lw, fw, _ := newTestLinkWatcher(t, env)

	inner := env.file(t, "new/sub/b.txt", 1)
	top := env.file(t, "new/a.txt", 1)
	env.file(t, "new/.git/config", 1)

	dir := filepath.Join(env.dropboxDir, "new")
	lw.handleEvent(fsnotify.Event{Name: dir, Op: fsnotify.Create})

	assert.ElementsMatch(t, []string{dir, filepath.Join(dir, "sub")}, fw.added)
	assert.Contains(t, lw.pending, inner)
	assert.Contains(t, lw.pending, top)
	assert.Len(t, lw.pending, 2)
}

func TestLinkWatcher_FailedBatchRetriedOnce(t *testing.T) {
	env := newTestEnv(t, true)
	lw, _, now := newTestLinkWatcher(t, env)

	ok := env.file(t, "ok.txt", 1)
	flaky := env.file(t, "flaky.txt", 1)
	env.api.refuseOnce["/flaky.txt"] = "too_many_write_operations"

	lw.handleEvent(fsnotify.Event{Name: ok, Op: fsnotify.Create})
	lw.handleEvent(fsnotify.Event{Name: flaky, Op: fsnotify.Create})

	*now = now.Add(watchSettleDelay)
	lw.flush(context.Background())

	assert.Contains(t, env.errOut.String(), "FAILED flaky.txt")
	require.Len(t, lw.conv.Tracker().Messages(), 1)

	msg := lw.conv.Tracker().Messages()[0]
	states, _ := lw.conv.Tracker().Get(msg)
	require.Len(t, states, 1, "only the failure is kept for the retry")

	lw.flush(context.Background())

	assert.Contains(t, env.out.String(), "flaky.txt: https://www.dropbox.com/s/")
	assert.Empty(t, lw.conv.Tracker().Messages())
	assert.Equal(t, 3, env.api.createCount())
}

func TestLinkWatcher_PermanentFailureDroppedAfterRetry(t *testing.T) {
	env := newTestEnv(t, true)
	lw, _, now := newTestLinkWatcher(t, env)

	bad := env.file(t, "bad.txt", 1)
	env.api.refuse["/bad.txt"] = "email_not_verified"

	lw.handleEvent(fsnotify.Event{Name: bad, Op: fsnotify.Create})

	*now = now.Add(watchSettleDelay)
	lw.flush(context.Background())
	lw.flush(context.Background())
	lw.flush(context.Background())

	assert.Equal(t, 2, strings.Count(env.errOut.String(), "FAILED bad.txt"))
	assert.Empty(t, lw.conv.Tracker().Messages())
	assert.Equal(t, 2, env.api.createCount())
}

func TestLinkWatcher_RunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, true)
	lw, _, _ := newTestLinkWatcher(t, env)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, lw.run(ctx))
}

func TestLinkWatcher_RunStopsWhenEventsClose(t *testing.T) {
	env := newTestEnv(t, true)
	lw, fw, _ := newTestLinkWatcher(t, env)

	close(fw.events)

	assert.NoError(t, lw.run(context.Background()))
}

func TestLinkWatcher_RunBacksOffOnErrors(t *testing.T) {
	env := newTestEnv(t, true)
	lw, fw, _ := newTestLinkWatcher(t, env)

	var (
		mu     sync.Mutex
		sleeps []time.Duration
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lw.sleepFunc = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()

		sleeps = append(sleeps, d)
		if len(sleeps) == 3 {
			cancel()
			return context.Canceled
		}

		return nil
	}

	for range 3 {
		fw.errs <- errors.New("queue overflow")
	}

	require.NoError(t, lw.run(ctx))

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeps)
}

func TestRunWatch_RejectsDirOutsideFolder(t *testing.T) {
	env := newTestEnv(t, true)

	err := runWatch(context.Background(), env.cc, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not inside the Dropbox folder")
}

func TestInsideFolder(t *testing.T) {
	root := filepath.FromSlash("/data/Dropbox")

	assert.True(t, insideFolder(root, root))
	assert.True(t, insideFolder(root, filepath.Join(root, "a", "b")))
	assert.True(t, insideFolder(root, filepath.Join(root, "..dots")))
	assert.False(t, insideFolder(root, filepath.FromSlash("/data")))
	assert.False(t, insideFolder(root, filepath.FromSlash("/data/Dropbox2")))
}

func TestIsIgnoredName(t *testing.T) {
	for _, name := range []string{".DS_Store", "~$report.docx", "x.TMP", "a.swp", "f.partial", "g.crdownload"} {
		assert.True(t, isIgnoredName(name), name)
	}

	for _, name := range []string{"report.pdf", "a.txt", "tmp", "notes.md"} {
		assert.False(t, isIgnoredName(name), name)
	}
}

func TestTimeSleep_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, timeSleep(ctx, time.Hour), context.Canceled)
}

