package vfs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"reflect"
	"runtime"
	"sync"
	"testing"
)

// fakeProvider serves a fixed namespace and counts every call per path.
type fakeProvider struct {
	mu         sync.Mutex
	listings   map[string][]DirEntry
	files      map[string][]byte
	sizes      map[string]int64
	failList   map[string]error
	failRead   map[string]error
	listCalls  map[string]int
	readCalls  map[string]int
	statCalls  map[string]int
	seenExtend map[string]any
	gate       chan struct{} // when set, fetches block until closed
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		listings:   make(map[string][]DirEntry),
		files:      make(map[string][]byte),
		sizes:      make(map[string]int64),
		failList:   make(map[string]error),
		failRead:   make(map[string]error),
		listCalls:  make(map[string]int),
		readCalls:  make(map[string]int),
		statCalls:  make(map[string]int),
		seenExtend: make(map[string]any),
	}
}

func (p *fakeProvider) ReadDirectory(ctx context.Context, path string, extend any) ([]DirEntry, error) {
	p.mu.Lock()
	p.listCalls[path]++
	p.seenExtend["dir:"+path] = extend
	fail := p.failList[path]
	entries := p.listings[path]
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail != nil {
		return nil, fail
	}
	return entries, nil
}

func (p *fakeProvider) ReadFile(ctx context.Context, path string, extend any) ([]byte, error) {
	p.mu.Lock()
	p.readCalls[path]++
	p.seenExtend["file:"+path] = extend
	fail := p.failRead[path]
	data := p.files[path]
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail != nil {
		return nil, fail
	}
	return data, nil
}

// statFakeProvider adds the optional stat capability.
type statFakeProvider struct{ *fakeProvider }

func (p *statFakeProvider) Stat(ctx context.Context, path string, extend any) (StatResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statCalls[path]++
	p.seenExtend["stat:"+path] = extend
	return StatResult{Size: p.sizes[path]}, nil
}

// standard fixture:
//
//	/
//	├── a.txt
//	└── b/
//	    ├── c.txt
//	    └── d/
//	        └── e.txt
func fixtureProvider() *fakeProvider {
	p := newFakeProvider()
	p.listings["/"] = []DirEntry{
		{Name: "a.txt", Type: EntryFile},
		{Name: "b", Type: EntryDirectory},
	}
	p.listings["/b"] = []DirEntry{
		{Name: "c.txt", Type: EntryFile},
		{Name: "d", Type: EntryDirectory},
	}
	p.listings["/b/d"] = []DirEntry{
		{Name: "e.txt", Type: EntryFile},
	}
	p.files["/a.txt"] = []byte("alpha")
	p.files["/b/c.txt"] = []byte("gamma")
	p.files["/b/d/e.txt"] = []byte("epsilon")
	return p
}

func newTestFS(p Provider) *FS { return New(p, Options{}) }

func TestLoadEntry_LoadsAncestorsOnly(t *testing.T) {
	p := fixtureProvider()
	fs := newTestFS(p)
	ctx := context.Background()

	if err := fs.loadEntry(ctx, "/b/d/e.txt", false); err != nil {
		t.Fatalf("loadEntry: %v", err)
	}

	for _, dir := range []string{"/", "/b", "/b/d"} {
		_, loaded, ok := fs.index.lookupDir(dir)
		if !ok {
			t.Fatalf("directory %s missing from index", dir)
		}
		if !loaded {
			t.Errorf("directory %s not marked loaded", dir)
		}
	}
	if _, ok := fs.index.Lookup("/b/d/e.txt"); !ok {
		t.Error("target not inserted by its parent's listing")
	}
	if p.readCalls["/b/d/e.txt"] != 0 {
		t.Error("loadEntry fetched file content")
	}
}

func TestLoadEntry_LoadBaseIncludesTarget(t *testing.T) {
	p := fixtureProvider()
	fs := newTestFS(p)

	if err := fs.loadEntry(context.Background(), "/b", true); err != nil {
		t.Fatalf("loadEntry: %v", err)
	}
	_, loaded, ok := fs.index.lookupDir("/b")
	if !ok || !loaded {
		t.Fatalf("target listing not loaded (ok=%v loaded=%v)", ok, loaded)
	}
	if p.listCalls["/b"] != 1 {
		t.Errorf("listing calls for /b = %d, want 1", p.listCalls["/b"])
	}
}

func TestLoadEntry_SkipsLoadedDirectories(t *testing.T) {
	p := fixtureProvider()
	fs := newTestFS(p)
	ctx := context.Background()

	if err := fs.loadEntry(ctx, "/b/d", true); err != nil {
		t.Fatalf("loadEntry: %v", err)
	}
	if err := fs.loadEntry(ctx, "/b/d/e.txt", false); err != nil {
		t.Fatalf("loadEntry: %v", err)
	}

	for _, dir := range []string{"/", "/b", "/b/d"} {
		if p.listCalls[dir] != 1 {
			t.Errorf("listing calls for %s = %d, want 1", dir, p.listCalls[dir])
		}
	}
}

func TestLoadEntry_StopsAtUnresolvableSegment(t *testing.T) {
	p := fixtureProvider()
	fs := newTestFS(p)

	// /missing never appears in the root listing: the walk stops quietly
	// and the target's absence surfaces as not-found downstream.
	err := fs.loadEntry(context.Background(), "/missing/deep/path", false)
	if err != nil {
		t.Fatalf("loadEntry reported error for unresolvable path: %v", err)
	}
	if p.listCalls["/"] != 1 {
		t.Errorf("root listed %d times, want 1", p.listCalls["/"])
	}
	if p.listCalls["/missing"] != 0 {
		t.Error("loader fetched a listing for an absent directory")
	}

	if _, err := fs.Stat(context.Background(), "/missing/deep/path"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat error = %v, want ErrNotFound", err)
	}
}

func TestLoadEntry_FileInTheMiddleStopsWalk(t *testing.T) {
	p := fixtureProvider()
	fs := newTestFS(p)

	if err := fs.loadEntry(context.Background(), "/a.txt/child", false); err != nil {
		t.Fatalf("loadEntry: %v", err)
	}
	if _, err := fs.Stat(context.Background(), "/a.txt/child"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat under a file = %v, want ErrNotFound", err)
	}
}

func TestLoadEntry_ProviderFailureAbortsWithoutRollback(t *testing.T) {
	p := fixtureProvider()
	cause := errors.New("backend listing exploded")
	p.failList["/b"] = cause
	fs := newTestFS(p)
	ctx := context.Background()

	_, err := fs.Stat(ctx, "/b/c.txt")
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Stat error = %v, want wrapped ErrInvalid", err)
	}

	// Root's listing survived the aborted walk.
	_, loaded, ok := fs.index.lookupDir("/")
	if !ok || !loaded {
		t.Fatal("root listing rolled back after provider failure")
	}

	// Retry re-fetches only the still-unloaded directory.
	p.mu.Lock()
	delete(p.failList, "/b")
	p.mu.Unlock()
	if _, err := fs.Stat(ctx, "/b/c.txt"); err != nil {
		t.Fatalf("Stat after recovery: %v", err)
	}
	if p.listCalls["/"] != 1 {
		t.Errorf("root listed %d times across retry, want 1", p.listCalls["/"])
	}
	if p.listCalls["/b"] != 2 {
		t.Errorf("/b listed %d times across retry, want 2", p.listCalls["/b"])
	}
}

func TestStat_Directory(t *testing.T) {
	fs := newTestFS(fixtureProvider())

	fi, err := fs.Stat(context.Background(), "/b")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !fi.IsDir() {
		t.Error("directory not reported as dir")
	}
	if fi.Mode.Perm()&0o222 != 0 {
		t.Errorf("directory mode %v has write bits", fi.Mode)
	}
}

func TestStat_FileWithoutStatCapability(t *testing.T) {
	fs := newTestFS(fixtureProvider())

	fi, err := fs.Stat(context.Background(), "/a.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Size != SizeUnknown {
		t.Errorf("size = %d without stat capability, want SizeUnknown", fi.Size)
	}
	if fi.IsDir() {
		t.Error("file reported as dir")
	}
}

func TestStat_FillsUnknownSizeOnceViaStatProvider(t *testing.T) {
	base := fixtureProvider()
	base.sizes["/a.txt"] = 5
	p := &statFakeProvider{base}
	fs := newTestFS(p)
	ctx := context.Background()

	fi, err := fs.Stat(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Size != 5 {
		t.Errorf("size = %d, want 5", fi.Size)
	}

	// Second stat serves the cached size.
	if _, err := fs.Stat(ctx, "/a.txt"); err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if base.statCalls["/a.txt"] != 1 {
		t.Errorf("stat provider called %d times, want 1", base.statCalls["/a.txt"])
	}
}

func TestStat_NotFound(t *testing.T) {
	fs := newTestFS(fixtureProvider())
	if _, err := fs.Stat(context.Background(), "/nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestOpen_WriteIntentAlwaysDenied(t *testing.T) {
	p := fixtureProvider()
	fs := newTestFS(p)
	ctx := context.Background()

	for _, flags := range []int{os.O_WRONLY, os.O_RDWR, os.O_RDONLY | os.O_APPEND} {
		if _, err := fs.Open(ctx, "/a.txt", flags); !errors.Is(err, ErrPermission) {
			t.Errorf("Open(flags=%#x) = %v, want ErrPermission", flags, err)
		}
	}

	// Denied even for a path that does not exist, before any fetch.
	if _, err := fs.Open(ctx, "/ghost", os.O_WRONLY); !errors.Is(err, ErrPermission) {
		t.Errorf("Open(ghost, O_WRONLY) = %v, want ErrPermission", err)
	}
	if p.listCalls["/"] != 0 {
		t.Error("write-intent open touched the provider")
	}
}

func TestOpen_Directory(t *testing.T) {
	fs := newTestFS(fixtureProvider())
	if _, err := fs.Open(context.Background(), "/b", os.O_RDONLY); !errors.Is(err, ErrIsDirectory) {
		t.Errorf("error = %v, want ErrIsDirectory", err)
	}
}

func TestOpen_NotFound(t *testing.T) {
	fs := newTestFS(fixtureProvider())
	if _, err := fs.Open(context.Background(), "/nope", os.O_RDONLY); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestOpen_ExclusiveOrTruncateAgainstExisting(t *testing.T) {
	fs := newTestFS(fixtureProvider())
	ctx := context.Background()

	for _, flags := range []int{os.O_RDONLY | os.O_CREATE | os.O_EXCL, os.O_RDONLY | os.O_TRUNC} {
		if _, err := fs.Open(ctx, "/a.txt", flags); !errors.Is(err, ErrExists) {
			t.Errorf("Open(flags=%#x) = %v, want ErrExists", flags, err)
		}
	}
}

func TestOpen_FetchesOnceThenServesCache(t *testing.T) {
	p := fixtureProvider()
	fs := newTestFS(p)
	ctx := context.Background()

	h1, err := fs.Open(ctx, "/a.txt", os.O_RDONLY)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	first := make([]byte, h1.Size())
	if _, err := h1.ReadAt(first, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	h1.Close()

	h2, err := fs.Open(ctx, "/a.txt", os.O_RDONLY)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	second := make([]byte, h2.Size())
	if _, err := h2.ReadAt(second, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	h2.Close()

	if !bytes.Equal(first, second) {
		t.Error("two reads of the same file returned different bytes")
	}
	if p.readCalls["/a.txt"] != 1 {
		t.Errorf("content fetched %d times, want 1", p.readCalls["/a.txt"])
	}
	if got := fs.Counters().CacheHits; got != 1 {
		t.Errorf("cache hits = %d, want 1", got)
	}
}

func TestOpen_ProviderFailureWrapsInvalid(t *testing.T) {
	p := fixtureProvider()
	p.failRead["/a.txt"] = errors.New("content gone")
	fs := newTestFS(p)

	if _, err := fs.Open(context.Background(), "/a.txt", os.O_RDONLY); !errors.Is(err, ErrInvalid) {
		t.Errorf("error = %v, want wrapped ErrInvalid", err)
	}
}

func TestReadDir_Root(t *testing.T) {
	fs := newTestFS(fixtureProvider())

	names, err := fs.ReadDir(context.Background(), "/")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"a.txt", "b"}) {
		t.Errorf("names = %v, want [a.txt b]", names)
	}
}

func TestReadDir_Errors(t *testing.T) {
	fs := newTestFS(fixtureProvider())
	ctx := context.Background()

	if _, err := fs.ReadDir(ctx, "/nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing dir: error = %v, want ErrNotFound", err)
	}
	if _, err := fs.ReadDir(ctx, "/a.txt"); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("file path: error = %v, want ErrNotDirectory", err)
	}
}

func TestReadFile_ReturnsIndependentCopy(t *testing.T) {
	fs := newTestFS(fixtureProvider())
	ctx := context.Background()

	data, err := fs.ReadFile(ctx, "/b/c.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "gamma" {
		t.Fatalf("content = %q, want %q", data, "gamma")
	}

	// Mutating the returned slice must not poison the cache.
	data[0] = 'X'
	again, err := fs.ReadFile(ctx, "/b/c.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(again) != "gamma" {
		t.Errorf("cache poisoned: second read = %q", again)
	}
}

func TestConcurrentOpens_SingleContentFetch(t *testing.T) {
	p := fixtureProvider()
	fs := newTestFS(p)
	ctx := context.Background()

	// Pre-resolve ancestors so the gate only throttles the content fetch.
	if err := fs.loadEntry(ctx, "/a.txt", false); err != nil {
		t.Fatalf("loadEntry: %v", err)
	}
	gate := make(chan struct{})
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()

	const n = 8
	var wg sync.WaitGroup
	contents := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var h *Handle
			h, errs[i] = fs.Open(ctx, "/a.txt", os.O_RDONLY)
			if errs[i] != nil {
				return
			}
			contents[i] = make([]byte, h.Size())
			_, errs[i] = h.ReadAt(contents[i], 0)
			h.Close()
		}(i)
	}

	// Wait for the flight to exist, then let it settle.
	for fs.reads.Pending() == 0 {
		runtime.Gosched()
	}
	close(gate)
	wg.Wait()

	if p.readCalls["/a.txt"] != 1 {
		t.Fatalf("content fetched %d times under concurrency, want 1", p.readCalls["/a.txt"])
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !bytes.Equal(contents[i], []byte("alpha")) {
			t.Fatalf("caller %d read %q", i, contents[i])
		}
	}
}

func TestConcurrentReadDirs_SingleListingFetch(t *testing.T) {
	p := fixtureProvider()
	fs := newTestFS(p)
	ctx := context.Background()

	if err := fs.loadEntry(ctx, "/b", false); err != nil {
		t.Fatalf("loadEntry: %v", err)
	}
	gate := make(chan struct{})
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = fs.ReadDir(ctx, "/b")
		}(i)
	}
	for fs.listings.Pending() == 0 {
		runtime.Gosched()
	}
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if p.listCalls["/b"] != 1 {
		t.Errorf("/b listed %d times under concurrency, want 1", p.listCalls["/b"])
	}
}

func TestEmpty_RetainsStructureAndRefetchesContent(t *testing.T) {
	p := fixtureProvider()
	fs := newTestFS(p)
	ctx := context.Background()

	if _, err := fs.ReadFile(ctx, "/a.txt"); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	listsBefore := p.listCalls["/"]

	fs.Empty()

	data, err := fs.ReadFile(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("ReadFile after Empty: %v", err)
	}
	if string(data) != "alpha" {
		t.Errorf("content after Empty = %q", data)
	}
	if p.readCalls["/a.txt"] != 2 {
		t.Errorf("content fetched %d times across Empty, want 2", p.readCalls["/a.txt"])
	}
	if p.listCalls["/"] != listsBefore {
		t.Error("Empty discarded directory structure")
	}
}

func TestExtendData_ThreadedIntoLaterCalls(t *testing.T) {
	base := newFakeProvider()
	base.listings["/"] = []DirEntry{
		{Name: "doc.txt", Type: EntryFile, ExtendData: "token-doc"},
		{Name: "sub", Type: EntryDirectory, ExtendData: "token-sub"},
	}
	base.listings["/sub"] = nil
	base.files["/doc.txt"] = []byte("x")
	base.sizes["/doc.txt"] = 1
	p := &statFakeProvider{base}
	fs := newTestFS(p)
	ctx := context.Background()

	if _, err := fs.Stat(ctx, "/doc.txt"); err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if _, err := fs.ReadFile(ctx, "/doc.txt"); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if _, err := fs.ReadDir(ctx, "/sub"); err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	if got := base.seenExtend["stat:/doc.txt"]; got != "token-doc" {
		t.Errorf("stat extend = %v, want token-doc", got)
	}
	if got := base.seenExtend["file:/doc.txt"]; got != "token-doc" {
		t.Errorf("read extend = %v, want token-doc", got)
	}
	if got := base.seenExtend["dir:/sub"]; got != "token-sub" {
		t.Errorf("listing extend = %v, want token-sub", got)
	}
}

func TestCounters_TrackFetches(t *testing.T) {
	p := fixtureProvider()
	fs := newTestFS(p)
	ctx := context.Background()

	fs.ReadDir(ctx, "/b")
	fs.ReadFile(ctx, "/a.txt")
	fs.ReadFile(ctx, "/a.txt")

	c := fs.Counters()
	if c.ListingFetches != 2 { // "/" and "/b"
		t.Errorf("listing fetches = %d, want 2", c.ListingFetches)
	}
	if c.ContentFetches != 1 {
		t.Errorf("content fetches = %d, want 1", c.ContentFetches)
	}
	if c.CacheHits != 1 {
		t.Errorf("cache hits = %d, want 1", c.CacheHits)
	}
}
