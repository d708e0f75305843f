package syncer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partysync/internal/downloader"
	"partysync/pkg/checkpoint"
	"partysync/pkg/config"
	errs "partysync/pkg/errors"
	"partysync/pkg/favorites"
	"partysync/pkg/kemono"
	"partysync/pkg/logger"
	"partysync/pkg/metadata"
	"partysync/pkg/quota"
	"partysync/pkg/storage"
)

// fakeAPI is an in-memory source
type fakeAPI struct {
	mu sync.Mutex

	roster       []kemono.Creator
	profiles     map[string]*kemono.Profile
	posts        map[string][]kemono.Post
	listErr      map[string]error
	channels     map[string][]kemono.Channel
	channelPages map[string][][]kemono.Post
	files        map[string][]byte
	onOpen       func(path string)

	listCalls    map[string][]int
	channelCalls map[string][]int
	opened       []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		profiles:     make(map[string]*kemono.Profile),
		posts:        make(map[string][]kemono.Post),
		listErr:      make(map[string]error),
		channels:     make(map[string][]kemono.Channel),
		channelPages: make(map[string][][]kemono.Post),
		files:        make(map[string][]byte),
		listCalls:    make(map[string][]int),
		channelCalls: make(map[string][]int),
	}
}

func (f *fakeAPI) Source() string { return "kemono" }

func (f *fakeAPI) FetchFavorites(context.Context) ([]kemono.Creator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kemono.Creator(nil), f.roster...), nil
}

func (f *fakeAPI) FetchProfile(_ context.Context, service, id string) (*kemono.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[service+":"+id]
	if !ok {
		return nil, errs.New(errs.ErrorTypeNotFound, 404, "resource not found")
	}
	cp := *p
	return &cp, nil
}

func (f *fakeAPI) FetchPosts(_ context.Context, c kemono.Creator, offset int) ([]kemono.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls[c.Key()] = append(f.listCalls[c.Key()], offset)
	if err := f.listErr[c.Key()]; err != nil {
		return nil, err
	}
	all := f.posts[c.Key()]
	if offset >= len(all) {
		return []kemono.Post{}, nil
	}
	end := offset + kemono.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (f *fakeAPI) FetchChannelPage(_ context.Context, channelID string, skip int) ([]kemono.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelCalls[channelID] = append(f.channelCalls[channelID], skip)
	pages := f.channelPages[channelID]
	if len(pages) == 0 {
		return nil, nil
	}
	i := skip / kemono.ChannelPageSize
	if i >= len(pages) {
		// the server echoes its final page
		i = len(pages) - 1
	}
	return pages[i], nil
}

func (f *fakeAPI) ListChannels(_ context.Context, serverID string) ([]kemono.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[serverID], nil
}

func (f *fakeAPI) OpenFile(_ context.Context, path string) (*http.Response, error) {
	f.mu.Lock()
	f.opened = append(f.opened, path)
	data, ok := f.files[path]
	hook := f.onOpen
	f.mu.Unlock()

	if hook != nil {
		hook(path)
	}
	if !ok {
		return nil, errs.New(errs.ErrorTypeNotFound, 404, "resource not found")
	}
	return &http.Response{
		StatusCode:    http.StatusOK,
		ContentLength: int64(len(data)),
		Body:          io.NopCloser(bytes.NewReader(data)),
	}, nil
}

func (f *fakeAPI) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func (f *fakeAPI) addPost(c kemono.Creator, id, title string, files ...string) {
	post := kemono.Post{
		ID:        kemono.Text(id),
		Service:   c.Service,
		Title:     title,
		Content:   "<p>" + title + "</p>",
		Published: "2024-01-02T10:00:00",
	}
	for i, path := range files {
		a := kemono.Attachment{Name: filepath.Base(path), Path: path}
		if i == 0 {
			post.File = &a
			continue
		}
		post.Attachments = append(post.Attachments, a)
	}
	f.posts[c.Key()] = append(f.posts[c.Key()], post)
}

func (f *fakeAPI) serve(path string, size int) {
	f.files[path] = bytes.Repeat([]byte("x"), size)
}

type harness struct {
	cfg   *config.Config
	api   *fakeAPI
	store *storage.Manager
}

func newHarness(t *testing.T, api *fakeAPI) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Root = t.TempDir()
	cfg.Download.ConcurrentDownloads = 2

	store, err := storage.NewManager(cfg.Storage.Root)
	require.NoError(t, err)
	return &harness{cfg: cfg, api: api, store: store}
}

// driver builds a fresh driver, as a new process would
func (h *harness) driver(t *testing.T) *Driver {
	t.Helper()
	log := logger.NewTestLogger()

	guard, err := quota.NewGuard(h.cfg.Storage.Root, h.cfg.Storage.QuotaBytes(), log)
	require.NoError(t, err)

	pool := downloader.NewWorkerPool(h.cfg.Download.ConcurrentDownloads, h.api, guard, downloader.PolicyFromConfig(h.cfg.Download), log)
	t.Cleanup(pool.Stop)

	d, err := New(h.cfg, h.api, pool, h.store, guard, log)
	require.NoError(t, err)
	return d
}

func (h *harness) creatorDir(t *testing.T, c kemono.Creator) string {
	t.Helper()
	dir, err := h.store.CreatorDir("kemono", c.DisplayName(), c.Service)
	require.NoError(t, err)
	return dir
}

func (h *harness) recordIDs(t *testing.T, c kemono.Creator) []string {
	t.Helper()
	rec, err := checkpoint.NewManager(logger.NewNopLogger()).Load(h.creatorDir(t, c))
	require.NoError(t, err)
	ids := rec.IDs()
	sort.Strings(ids)
	return ids
}

func (h *harness) marker(t *testing.T, c kemono.Creator) string {
	t.Helper()
	snap, err := favorites.LoadSnapshot(h.store.SnapshotPath("kemono"))
	require.NoError(t, err)
	got, ok := snap.Get(c.Key())
	if !ok {
		return ""
	}
	return string(got.Updated)
}

var alice = kemono.Creator{ID: "123", Service: "patreon", Name: "alice", Updated: "T1"}

func TestRunMirrorsNewFavorite(t *testing.T) {
	api := newFakeAPI()
	api.roster = []kemono.Creator{alice}
	api.profiles[alice.Key()] = &kemono.Profile{ID: "123", Service: "patreon", Name: "alice", Updated: "T1", PostCount: 2}
	api.addPost(alice, "1", "Hello", "/aa/one.jpg", "/bb/two.png")
	api.addPost(alice, "2", "", "/cc/three.zip")
	api.serve("/aa/one.jpg", 100)
	api.serve("/bb/two.png", 200)
	api.serve("/cc/three.zip", 300)

	h := newHarness(t, api)
	sum, err := h.driver(t).Run(context.Background(), Favorites{})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Creators)
	assert.Equal(t, 2, sum.PostsDone)
	assert.Equal(t, 3, sum.Files)
	assert.Equal(t, int64(600), sum.Bytes)
	assert.False(t, sum.Interrupted)
	assert.NotEmpty(t, sum.RunID)

	// one non-empty page and the terminating empty one
	assert.Equal(t, []int{0, 50}, api.listCalls[alice.Key()])

	dir := h.creatorDir(t, alice)
	assert.Equal(t, filepath.Join(h.cfg.Storage.Root, "Creators", "Kemono", "Alice", "Patreon"), dir)
	assert.FileExists(t, filepath.Join(dir, "Hello_2024-01-02", "one.jpg"))
	assert.FileExists(t, filepath.Join(dir, "Hello_2024-01-02", "two.png"))
	assert.FileExists(t, filepath.Join(dir, "2", "three.zip"))

	meta, err := metadata.Load(filepath.Join(dir, "Hello_2024-01-02"), "")
	require.NoError(t, err)
	assert.Equal(t, "1", meta.ID)
	assert.Equal(t, int64(300), meta.TotalSize())
	assert.FileExists(t, filepath.Join(dir, "Hello_2024-01-02", "content.txt"))

	assert.Equal(t, []string{"1", "2"}, h.recordIDs(t, alice))
	assert.Equal(t, "T1", h.marker(t, alice))
}

func TestRunSkipsUnchangedFavorite(t *testing.T) {
	api := newFakeAPI()
	api.roster = []kemono.Creator{alice}
	api.addPost(alice, "1", "Hello", "/aa/one.jpg")
	api.serve("/aa/one.jpg", 10)

	h := newHarness(t, api)
	snap, err := favorites.LoadSnapshot(h.store.SnapshotPath("kemono"))
	require.NoError(t, err)
	snap.Upsert(alice)
	require.NoError(t, snap.Save())

	sum, err := h.driver(t).Run(context.Background(), Favorites{})
	require.NoError(t, err)

	assert.Equal(t, 0, sum.Creators)
	assert.Empty(t, api.listCalls)
	assert.Equal(t, 0, api.openCount())
}

func TestSecondRunDownloadsNothing(t *testing.T) {
	api := newFakeAPI()
	api.roster = []kemono.Creator{alice}
	api.addPost(alice, "1", "Hello", "/aa/one.jpg")
	api.addPost(alice, "2", "World", "/bb/two.jpg")
	api.serve("/aa/one.jpg", 10)
	api.serve("/bb/two.jpg", 20)

	h := newHarness(t, api)
	_, err := h.driver(t).Run(context.Background(), Favorites{})
	require.NoError(t, err)
	opened := api.openCount()
	require.Equal(t, 2, opened)

	recordPath := checkpoint.Path(h.creatorDir(t, alice))
	before, err := os.ReadFile(recordPath)
	require.NoError(t, err)

	// roster unchanged: nothing selected
	sum, err := h.driver(t).Run(context.Background(), Favorites{})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Creators)
	assert.Equal(t, opened, api.openCount())

	// forced through a manual selection: every post is already recorded
	sum, err = h.driver(t).Run(context.Background(), SingleCreator{Creator: alice})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.PostsSkipped)
	assert.Equal(t, 0, sum.PostsDone)
	assert.Equal(t, opened, api.openCount())

	after, err := os.ReadFile(recordPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFailedAttachmentLeavesPostUnrecorded(t *testing.T) {
	api := newFakeAPI()
	api.roster = []kemono.Creator{alice}
	api.addPost(alice, "1", "Broken", "/aa/one.jpg", "/bb/missing.jpg")
	api.addPost(alice, "2", "Fine", "/cc/ok.jpg")
	api.serve("/aa/one.jpg", 10)
	api.serve("/cc/ok.jpg", 10)

	h := newHarness(t, api)
	sum, err := h.driver(t).Run(context.Background(), Favorites{})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.PostsFailed)
	assert.Equal(t, 1, sum.PostsDone)
	assert.Equal(t, []string{"2"}, h.recordIDs(t, alice))
	assert.Empty(t, h.marker(t, alice), "marker must not advance past an incomplete post")

	dir := h.creatorDir(t, alice)
	assert.FileExists(t, filepath.Join(dir, "Broken_2024-01-02", "one.jpg"))
	assert.False(t, metadata.Exists(filepath.Join(dir, "Broken_2024-01-02"), ""))

	// the creator is selected again and the whole post is dispatched again
	api.serve("/bb/missing.jpg", 10)
	api.opened = nil

	sum, err = h.driver(t).Run(context.Background(), Favorites{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.PostsDone)
	assert.Equal(t, 1, sum.PostsSkipped)
	assert.Equal(t, []string{"/bb/missing.jpg"}, api.opened, "the file already on disk is not fetched again")
	assert.Equal(t, []string{"1", "2"}, h.recordIDs(t, alice))
	assert.Equal(t, "T1", h.marker(t, alice))
}

func TestDisallowedAttachmentLeavesPostUnrecorded(t *testing.T) {
	api := newFakeAPI()
	api.roster = []kemono.Creator{alice}
	api.addPost(alice, "1", "Mixed", "/aa/one.jpg", "/bb/clip.mp4")
	api.addPost(alice, "2", "Pics", "/cc/two.png")
	api.serve("/aa/one.jpg", 10)
	api.serve("/bb/clip.mp4", 10)
	api.serve("/cc/two.png", 10)

	h := newHarness(t, api)
	h.cfg.Download.AllowedFileTypes = []string{"images"}

	sum, err := h.driver(t).Run(context.Background(), Favorites{})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.PostsFailed)
	assert.Equal(t, 1, sum.PostsDone)
	assert.Equal(t, []string{"2"}, h.recordIDs(t, alice))
	assert.Empty(t, h.marker(t, alice))
	assert.NotContains(t, api.opened, "/bb/clip.mp4", "filtered files are never fetched")

	dir := h.creatorDir(t, alice)
	assert.NoFileExists(t, filepath.Join(dir, "Mixed_2024-01-02", "clip.mp4"))
}

func TestCancelStopsBetweenPosts(t *testing.T) {
	api := newFakeAPI()
	api.roster = []kemono.Creator{alice}
	api.addPost(alice, "1", "First", "/aa/one.jpg")
	api.addPost(alice, "2", "Second", "/bb/two.jpg")
	api.serve("/aa/one.jpg", 10)
	api.serve("/bb/two.jpg", 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api.onOpen = func(string) { cancel() }

	h := newHarness(t, api)
	sum, err := h.driver(t).Run(ctx, Favorites{})
	require.NoError(t, err)

	assert.True(t, sum.Interrupted)
	assert.Equal(t, 1, sum.PostsDone)
	assert.Equal(t, 1, api.openCount())
	assert.Equal(t, []string{"1"}, h.recordIDs(t, alice), "state is flushed on interrupt")
	assert.Empty(t, h.marker(t, alice))
}

func TestPostLimitPerCreator(t *testing.T) {
	api := newFakeAPI()
	for _, id := range []string{"1", "2", "3"} {
		path := "/files/" + id + ".jpg"
		api.addPost(alice, id, "Post "+id, path)
		api.serve(path, 10)
	}

	h := newHarness(t, api)
	h.cfg.Storage.PostLimitPerCreator = 2

	sum, err := h.driver(t).Run(context.Background(), CreatorList{Creators: []kemono.Creator{alice, alice}})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Creators, "duplicates are collapsed")
	assert.Equal(t, 2, sum.PostsDone)
	assert.Equal(t, []string{"1", "2"}, h.recordIDs(t, alice))
	assert.Equal(t, "T1", h.marker(t, alice))
}

func TestSharedCreatorFolder(t *testing.T) {
	api := newFakeAPI()
	api.addPost(alice, "1", "Hello", "/aa/one.jpg")
	api.serve("/aa/one.jpg", 10)

	h := newHarness(t, api)
	h.cfg.Storage.CreatePerPostFolder = false

	_, err := h.driver(t).Run(context.Background(), SingleCreator{Creator: alice})
	require.NoError(t, err)

	dir := h.creatorDir(t, alice)
	assert.FileExists(t, filepath.Join(dir, "Hello_2024-01-02_one.jpg"))
	assert.True(t, metadata.Exists(dir, "Hello_2024-01-02_"))
}

func TestQuotaExhaustedBeforeStart(t *testing.T) {
	api := newFakeAPI()
	api.roster = []kemono.Creator{alice}

	h := newHarness(t, api)
	h.cfg.Storage.DiskQuotaMB = 1
	require.NoError(t, os.WriteFile(filepath.Join(h.cfg.Storage.Root, "big.bin"), make([]byte, 1<<20), 0644))

	_, err := h.driver(t).Run(context.Background(), Favorites{})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Empty(t, api.listCalls)
}

func TestQuotaExhaustedMidRunIsFatal(t *testing.T) {
	bob := kemono.Creator{ID: "9", Service: "fanbox", Name: "bob", Updated: "B1"}

	api := newFakeAPI()
	api.roster = []kemono.Creator{alice, bob}
	api.addPost(alice, "1", "First", "/aa/one.bin")
	api.addPost(alice, "2", "Second", "/bb/two.bin")
	api.addPost(bob, "7", "Other", "/cc/three.bin")
	api.serve("/aa/one.bin", 1<<20)
	api.serve("/bb/two.bin", 10)
	api.serve("/cc/three.bin", 10)

	h := newHarness(t, api)
	h.cfg.Storage.DiskQuotaMB = 1

	_, err := h.driver(t).Run(context.Background(), Favorites{})
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	assert.Equal(t, []string{"1"}, h.recordIDs(t, alice))
	assert.Empty(t, h.marker(t, alice))
	assert.Empty(t, api.listCalls[bob.Key()], "no creator runs after the quota is exhausted")
}

func TestListingFailureIsolatedToCreator(t *testing.T) {
	bob := kemono.Creator{ID: "9", Service: "fanbox", Name: "bob", Updated: "B1"}

	api := newFakeAPI()
	api.roster = []kemono.Creator{alice, bob}
	api.listErr[alice.Key()] = errs.New(errs.ErrorTypeServerError, 502, "server error")
	api.addPost(bob, "7", "Other", "/cc/three.jpg")
	api.serve("/cc/three.jpg", 10)

	h := newHarness(t, api)
	sum, err := h.driver(t).Run(context.Background(), Favorites{})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Creators)
	assert.Equal(t, 1, sum.PostsDone)
	assert.Empty(t, h.marker(t, alice))
	assert.Equal(t, "B1", h.marker(t, bob))
	assert.Equal(t, []string{"7"}, h.recordIDs(t, bob))
}

func TestChannelCreator(t *testing.T) {
	server := kemono.Creator{ID: "555", Service: "discord", Name: "guild", Updated: "D1"}

	api := newFakeAPI()
	api.roster = []kemono.Creator{server}
	api.channels["555"] = []kemono.Channel{{ID: "c1", Name: "general"}}
	api.channelPages["c1"] = [][]kemono.Post{{
		{ID: "m1", Title: "", File: &kemono.Attachment{Name: "pic.png", Path: "/dd/pic.png"}},
	}}
	api.serve("/dd/pic.png", 10)

	h := newHarness(t, api)
	sum, err := h.driver(t).Run(context.Background(), Favorites{})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.PostsDone)
	// the echoed page ends the channel
	assert.Equal(t, []int{0, 10}, api.channelCalls["c1"])

	dir := h.creatorDir(t, server)
	assert.FileExists(t, filepath.Join(dir, "general", "m1", "pic.png"))
	assert.Equal(t, []string{"m1"}, h.recordIDs(t, server))
	assert.Equal(t, "D1", h.marker(t, server))
}

func TestManualSelectionFillsFromProfile(t *testing.T) {
	api := newFakeAPI()
	bare := kemono.Creator{ID: "123", Service: "patreon"}
	api.profiles[bare.Key()] = &kemono.Profile{ID: "123", Service: "patreon", Name: "alice", Updated: "T9", PostCount: 0}

	h := newHarness(t, api)
	_, err := h.driver(t).Run(context.Background(), SingleCreator{Creator: bare})
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(h.cfg.Storage.Root, "Creators", "Kemono", "Alice", "Patreon"))
	assert.Equal(t, "T9", h.marker(t, bare))
}

func TestNilSelection(t *testing.T) {
	h := newHarness(t, newFakeAPI())
	_, err := h.driver(t).Run(context.Background(), nil)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrQuotaExceeded))
}
