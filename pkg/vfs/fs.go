// Package vfs implements a read-only virtual filesystem over a provider-
// supplied namespace. Directory listings and file content are fetched
// lazily: a path is resolved by loading only the listings between the root
// and the path's parent, and file bytes are fetched on first open and
// cached on the inode. Concurrent fetches of the same path coalesce into a
// single provider call.
package vfs

import (
	"context"
	iofs "io/fs"
	"os"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/slatefs/slatefs/pkg/coalesce"
)

// FS is the filesystem. All operations are asynchronous in the sense that
// they may block on provider calls; none of them ever writes through to the
// provider.
type FS struct {
	provider Provider
	statp    StatProvider // nil when the provider lacks the capability
	index    *Index
	log      *zap.Logger

	listings coalesce.Group[[]DirEntry]
	reads    coalesce.Group[[]byte]
	stats    coalesce.Group[StatResult]

	counters counters
}

// Options configures optional collaborators of an FS.
type Options struct {
	// Logger receives debug-level fetch activity. Defaults to a no-op.
	Logger *zap.Logger
}

// New builds a filesystem over provider. The stat capability is picked up
// automatically when the provider implements StatProvider.
func New(provider Provider, opts Options) *FS {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	fs := &FS{
		provider: provider,
		index:    NewIndex(),
		log:      log,
	}
	if sp, ok := provider.(StatProvider); ok {
		fs.statp = sp
	}
	return fs
}

// Index exposes the underlying path index. Intended for frontends that need
// read-only inspection; mutation happens only through the loader.
func (fs *FS) Index() *Index { return fs.index }

// FileInfo is an operation's snapshot of an inode's stats.
type FileInfo struct {
	Path string
	Size int64 // SizeUnknown for a file whose size has not been resolved
	Mode iofs.FileMode
}

// IsDir reports whether the entry is a directory.
func (fi FileInfo) IsDir() bool { return fi.Mode.IsDir() }

// Stat resolves path and returns its stats. For a file of unknown size it
// consults the provider's stat capability, if present, and caches the
// answer; without the capability the snapshot keeps SizeUnknown.
func (fs *FS) Stat(ctx context.Context, path string) (FileInfo, error) {
	if err := fs.loadEntry(ctx, path, false); err != nil {
		return FileInfo{}, err
	}

	ino, ok := fs.index.Lookup(path)
	if !ok {
		return FileInfo{}, opError("stat", path, ErrNotFound)
	}
	switch ino := ino.(type) {
	case *DirInode:
		return FileInfo{Path: path, Mode: ino.Mode()}, nil
	case *FileInode:
		size := fs.index.fileSize(ino)
		if size == SizeUnknown && fs.statp != nil {
			res, _, err := fs.stats.Do(path, func() (StatResult, error) {
				fs.counters.statFetches.Add(1)
				fs.log.Debug("stat fetch", zap.String("path", path))
				return fs.statp.Stat(ctx, path, ino.ExtendData())
			})
			if err != nil {
				return FileInfo{}, providerError("stat", path, err)
			}
			fs.index.setFileSize(ino, res.Size)
			size = res.Size
		}
		return FileInfo{Path: path, Size: size, Mode: ino.Mode()}, nil
	default:
		return FileInfo{}, opError("stat", path, ErrInvalid)
	}
}

// Lookup returns the stats of a path already present in the index, without
// loading anything or consulting the provider.
func (fs *FS) Lookup(path string) (FileInfo, bool) {
	ino, ok := fs.index.Lookup(path)
	if !ok {
		return FileInfo{}, false
	}
	switch ino := ino.(type) {
	case *DirInode:
		return FileInfo{Path: path, Mode: ino.Mode()}, true
	case *FileInode:
		return FileInfo{Path: path, Size: fs.index.fileSize(ino), Mode: ino.Mode()}, true
	default:
		return FileInfo{}, false
	}
}

// writeIntent covers every flag that would let the caller modify the file.
const writeIntent = os.O_WRONLY | os.O_RDWR | os.O_APPEND

// Open opens the file at path for reading. flags are os package open flags;
// any write intent fails with ErrPermission before the path is even
// resolved. The file's content is fetched on the first open and served from
// the inode cache afterwards.
func (fs *FS) Open(ctx context.Context, path string, flags int) (*Handle, error) {
	if flags&writeIntent != 0 {
		return nil, opError("open", path, ErrPermission)
	}

	if err := fs.loadEntry(ctx, path, false); err != nil {
		return nil, err
	}

	ino, ok := fs.index.Lookup(path)
	if !ok {
		return nil, opError("open", path, ErrNotFound)
	}
	file, isFile := ino.(*FileInode)
	if !isFile {
		return nil, opError("open", path, ErrIsDirectory)
	}
	if flags&os.O_EXCL != 0 || flags&os.O_TRUNC != 0 {
		return nil, opError("open", path, ErrExists)
	}

	if data, ok := fs.index.fileContent(file); ok {
		fs.counters.cacheHits.Add(1)
		return newHandle(path, data), nil
	}

	data, _, err := fs.reads.Do(path, func() ([]byte, error) {
		fs.counters.contentFetches.Add(1)
		fs.log.Debug("content fetch", zap.String("path", path))
		return fs.provider.ReadFile(ctx, path, file.ExtendData())
	})
	if err != nil {
		return nil, providerError("open", path, err)
	}
	fs.index.setFileContent(file, data)
	return newHandle(path, data), nil
}

// ReadDir loads the directory's own listing and returns its entry names in
// listing order.
func (fs *FS) ReadDir(ctx context.Context, path string) ([]string, error) {
	if err := fs.loadEntry(ctx, path, true); err != nil {
		return nil, err
	}

	ino, ok := fs.index.Lookup(path)
	if !ok {
		return nil, opError("readdir", path, ErrNotFound)
	}
	dir, isDir := ino.(*DirInode)
	if !isDir {
		return nil, opError("readdir", path, ErrNotDirectory)
	}
	names, loaded := fs.index.dirNames(dir)
	if !loaded {
		// The pre-load guarantees the listing; an unloaded directory here
		// is a broken invariant, not a condition to fetch through.
		return nil, opError("readdir", path, ErrInvalid)
	}
	return names, nil
}

// ReadFile opens path, copies the entire content out, and closes the
// handle. The returned slice is the caller's to keep.
func (fs *FS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	h, err := fs.Open(ctx, path, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	out := make([]byte, h.Size())
	if _, err := h.ReadAt(out, 0); err != nil {
		return nil, providerError("readfile", path, err)
	}
	return out, nil
}

// Empty drops every cached file buffer while keeping the namespace
// structure, so subsequent opens re-fetch content from the provider.
func (fs *FS) Empty() {
	fs.index.empty()
	fs.log.Info("cached file content dropped")
}

// loadEntry walks path's prefixes root-first and fetches the listing of
// every not-yet-loaded directory among them. With loadBase the target's own
// listing is included; without it only ancestors are ensured, which is
// enough to know whether the target exists.
//
// An unresolvable prefix (absent, or present as a file) stops the walk
// without error; callers detect a missing target by its absence from the
// index afterwards.
func (fs *FS) loadEntry(ctx context.Context, path string, loadBase bool) error {
	segs := segments(path)
	steps := len(segs) + 1
	if !loadBase {
		steps--
	}

	acc := "/"
	for i := 0; i < steps; i++ {
		if i > 0 {
			acc = childPath(acc, segs[i-1])
		}
		dir, loaded, ok := fs.index.lookupDir(acc)
		if !ok {
			return nil
		}
		if loaded {
			continue
		}
		entries, _, err := fs.listings.Do(acc, func() ([]DirEntry, error) {
			fs.counters.listingFetches.Add(1)
			fs.log.Debug("listing fetch", zap.String("path", acc))
			return fs.provider.ReadDirectory(ctx, acc, dir.ExtendData())
		})
		if err != nil {
			return providerError("load", acc, err)
		}
		if err := fs.index.populate(acc, entries); err != nil {
			return err
		}
	}
	return nil
}

type counters struct {
	listingFetches atomic.Int64
	contentFetches atomic.Int64
	statFetches    atomic.Int64
	cacheHits      atomic.Int64
}

// CounterSnapshot is a point-in-time copy of the filesystem's counters.
type CounterSnapshot struct {
	ListingFetches int64
	ContentFetches int64
	StatFetches    int64
	CacheHits      int64
}

// Counters returns a snapshot of provider-fetch and cache-hit counts.
func (fs *FS) Counters() CounterSnapshot {
	return CounterSnapshot{
		ListingFetches: fs.counters.listingFetches.Load(),
		ContentFetches: fs.counters.contentFetches.Load(),
		StatFetches:    fs.counters.statFetches.Load(),
		CacheHits:      fs.counters.cacheHits.Load(),
	}
}
