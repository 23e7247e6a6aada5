package dropbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeSharing emulates the two sharing endpoints: the first create for a path
// succeeds, later creates for the same path report shared_link_already_exists.
type fakeSharing struct {
	mu      sync.Mutex
	links   map[string]string // path -> url
	creates []map[string]any
	lists   []map[string]any

	// listEmpty makes list_shared_links return no links.
	listEmpty bool
}

func newFakeSharing() *fakeSharing {
	return &fakeSharing{links: make(map[string]string)}
}

func (f *fakeSharing) handler(t *testing.T) http.Handler {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("POST /sharing/create_shared_link_with_settings", func(w http.ResponseWriter, r *http.Request) {
		var args map[string]any
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		f.creates = append(f.creates, args)
		p, _ := args["path"].(string)

		if _, exists := f.links[p]; exists {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error_summary":"shared_link_already_exists/..",` +
				`"error":{".tag":"shared_link_already_exists"}}`))

			return
		}

		url := "https://www.dropbox.com/s/abc" + p + "?dl=0"
		f.links[p] = url

		_ = json.NewEncoder(w).Encode(map[string]any{
			".tag":       "file",
			"url":        url,
			"name":       "report.pdf",
			"path_lower": p,
		})
	})

	mux.HandleFunc("POST /sharing/list_shared_links", func(w http.ResponseWriter, r *http.Request) {
		var args map[string]any
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		f.lists = append(f.lists, args)
		p, _ := args["path"].(string)

		links := []map[string]any{}
		if url, ok := f.links[p]; ok && !f.listEmpty {
			links = append(links, map[string]any{"url": url, "name": "report.pdf", "path_lower": p})
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"links": links, "has_more": false})
	})

	return mux
}

func newLinkTestClient(t *testing.T, f *fakeSharing) *Client {
	t.Helper()

	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	c.nowFunc = func() time.Time { return testNow }

	return c
}

func TestCreateOrReuse_CreateThenReuse(t *testing.T) {
	f := newFakeSharing()
	c := newLinkTestClient(t, f)
	req := NewLinkRequest("/home/u/Dropbox/Docs/report.pdf", 2048, testNow.Add(7*24*time.Hour))

	first, err := c.CreateOrReuse(context.Background(), req, "/docs/report.pdf")
	require.NoError(t, err)
	assert.False(t, first.Reused)
	assert.Equal(t, "https://www.dropbox.com/s/abc/docs/report.pdf?dl=0", first.URL)
	assert.Equal(t, "report.pdf", first.Name)
	assert.Equal(t, "/docs/report.pdf", first.RemotePath)

	second, err := c.CreateOrReuse(context.Background(), req, "/docs/report.pdf")
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.URL, second.URL)

	f.mu.Lock()
	defer f.mu.Unlock()

	require.Len(t, f.creates, 2)
	require.Len(t, f.lists, 1)
	assert.Equal(t, map[string]any{"path": "/docs/report.pdf", "direct_only": true}, f.lists[0])
}

func TestCreateOrReuse_RequestBody(t *testing.T) {
	f := newFakeSharing()
	c := newLinkTestClient(t, f)
	expires := time.Date(2026, 3, 8, 9, 30, 15, 0, time.FixedZone("CET", 3600))

	_, err := c.CreateOrReuse(context.Background(), NewLinkRequest("local", 1, expires), "/a.txt")
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()

	require.Len(t, f.creates, 1)
	assert.Equal(t, map[string]any{
		"path": "/a.txt",
		"settings": map[string]any{
			"requested_visibility": "public",
			"audience":             "public",
			"expires":              "2026-03-08T08:30:15Z",
		},
	}, f.creates[0])
}

func TestCreateOrReuse_ExistingLinkNotFound(t *testing.T) {
	f := newFakeSharing()
	f.links["/gone.txt"] = "https://www.dropbox.com/s/old"
	f.listEmpty = true
	c := newLinkTestClient(t, f)

	_, err := c.CreateOrReuse(context.Background(), NewLinkRequest("local", 1, testNow.Add(time.Hour)), "/gone.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExistingLinkNotFound)
}

func TestCreateOrReuse_ConcurrentSamePathConverges(t *testing.T) {
	f := newFakeSharing()
	c := newLinkTestClient(t, f)
	req := NewLinkRequest("local", 1, testNow.Add(time.Hour))

	const n = 5

	var (
		wg     sync.WaitGroup
		reused atomic.Int32
		urls   sync.Map
	)

	for range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			res, err := c.CreateOrReuse(context.Background(), req, "/same.txt")
			if !assert.NoError(t, err) {
				return
			}

			if res.Reused {
				reused.Add(1)
			}

			urls.Store(res.URL, true)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(n-1), reused.Load())

	var distinct int

	urls.Range(func(_, _ any) bool {
		distinct++
		return true
	})
	assert.Equal(t, 1, distinct)
}

func TestCreateOrReuse_OtherErrorsSurfaceWithTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error_summary":"path/not_found/...","error":{".tag":"path","path":{".tag":"not_found"}}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.nowFunc = func() time.Time { return testNow }

	_, err := c.CreateOrReuse(context.Background(), NewLinkRequest("local", 1, testNow.Add(time.Hour)), "/missing.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
	assert.True(t, HasTag(err, "path"))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Body, "not_found")
}

func TestCreateOrReuse_InvalidRequestDoesNoIO(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.nowFunc = func() time.Time { return testNow }

	tests := []struct {
		name   string
		req    LinkRequest
		remote string
	}{
		{"empty source", NewLinkRequest("", 1, testNow.Add(time.Hour)), "/a"},
		{"negative size", NewLinkRequest("a", -1, testNow.Add(time.Hour)), "/a"},
		{"zero expiry", LinkRequest{SourceFile: "a"}, "/a"},
		{"expiry in the past", NewLinkRequest("a", 1, testNow.Add(-time.Minute)), "/a"},
		{"expiry now", NewLinkRequest("a", 1, testNow), "/a"},
		{"empty remote path", NewLinkRequest("a", 1, testNow.Add(time.Hour)), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.CreateOrReuse(context.Background(), tt.req, tt.remote)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	assert.Zero(t, calls.Load())
}

func TestNewLinkRequest_NormalizesToUTC(t *testing.T) {
	local := time.Date(2026, 1, 1, 10, 0, 0, 0, time.FixedZone("X", -5*3600))

	req := NewLinkRequest("a", 0, local)

	assert.Equal(t, time.UTC, req.Expires.Location())
	assert.True(t, req.Expires.Equal(local))
	assert.NoError(t, req.Validate(local.Add(-time.Second)))
}

func TestListSharedLinks_SkipsEntriesWithoutURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"links":[{"name":"x"},{"url":"https://db.tt/1","path_lower":"/x"}]}`))
	}))
	defer srv.Close()

	links, err := newTestClient(t, srv.URL).ListSharedLinks(context.Background(), "/x")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "https://db.tt/1", links[0].URL)
	assert.Equal(t, "x", links[0].Name, "name falls back to the path base")
	assert.False(t, links[0].Reused)
}
