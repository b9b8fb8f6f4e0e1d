package vfs

import (
	"fmt"
	"strings"
	"sync"
)

// Index is the path-keyed inode store: a root directory created up front,
// and every other inode reachable from it by walking path segments. There
// are no parent pointers and no removal, so the structure is acyclic by
// construction and an inserted inode stays until the whole index goes away.
//
// Index methods are safe for concurrent use. The internal mutex only makes
// individual operations atomic; cross-operation ordering is the loader's
// and the embedder's concern.
type Index struct {
	mu   sync.RWMutex
	root *DirInode
}

// NewIndex returns an index holding only the root directory.
func NewIndex() *Index {
	return &Index{root: newDirInode(nil)}
}

// Root returns the root directory inode.
func (ix *Index) Root() *DirInode { return ix.root }

// segments splits an absolute path into its non-empty components.
// "/" yields nil.
func segments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// childPath extends a directory path by one entry name.
func childPath(dir, name string) string {
	if dir == "/" || dir == "" {
		return "/" + name
	}
	return dir + "/" + name
}

// Lookup resolves path to an inode by exact segment walk.
func (ix *Index) Lookup(path string) (Inode, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.lookupLocked(path)
}

func (ix *Index) lookupLocked(path string) (Inode, bool) {
	var cur Inode = ix.root
	for _, seg := range segments(path) {
		dir, ok := cur.(*DirInode)
		if !ok {
			return nil, false
		}
		next, ok := dir.child(seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Insert attaches ino under the directory at the parent of path. The parent
// must already exist and be a directory.
func (ix *Index) Insert(path string, ino Inode) error {
	segs := segments(path)
	if len(segs) == 0 {
		return fmt.Errorf("insert %s: cannot replace root", path)
	}
	parent := "/" + strings.Join(segs[:len(segs)-1], "/")

	ix.mu.Lock()
	defer ix.mu.Unlock()

	p, ok := ix.lookupLocked(parent)
	if !ok {
		return fmt.Errorf("insert %s: parent %s: %w", path, parent, ErrNotFound)
	}
	dir, ok := p.(*DirInode)
	if !ok {
		return fmt.Errorf("insert %s: parent %s: %w", path, parent, ErrNotDirectory)
	}
	dir.addChild(segs[len(segs)-1], ino)
	return nil
}

// populate inserts a fetched listing under the directory at path and marks
// it loaded, atomically. If another goroutine populated the directory while
// the listing was in flight, the fetched entries are discarded; the loaded
// marker guarantees the winner's entries are all present.
func (ix *Index) populate(path string, entries []DirEntry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ino, ok := ix.lookupLocked(path)
	if !ok {
		return fmt.Errorf("populate %s: %w", path, ErrNotFound)
	}
	dir, ok := ino.(*DirInode)
	if !ok {
		return fmt.Errorf("populate %s: %w", path, ErrNotDirectory)
	}
	if dir.loaded {
		return nil
	}
	for _, e := range entries {
		switch e.Type {
		case EntryDirectory:
			dir.addChild(e.Name, newDirInode(e.ExtendData))
		default:
			dir.addChild(e.Name, newFileInode(e.ExtendData))
		}
	}
	dir.loaded = true
	return nil
}

// lookupDir resolves path to a directory inode and reports its loaded
// state in the same critical section, so the loader never acts on a stale
// marker.
func (ix *Index) lookupDir(path string) (dir *DirInode, loaded, ok bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ino, found := ix.lookupLocked(path)
	if !found {
		return nil, false, false
	}
	d, isDir := ino.(*DirInode)
	if !isDir {
		return nil, false, false
	}
	return d, d.loaded, true
}

// dirNames snapshots a directory's entry names and loaded marker.
func (ix *Index) dirNames(d *DirInode) (names []string, loaded bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return d.childNames(), d.loaded
}

func (ix *Index) fileSize(f *FileInode) int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return f.size
}

func (ix *Index) setFileSize(f *FileInode, size int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	f.size = size
}

// fileContent returns the cached buffer, if any.
func (ix *Index) fileContent(f *FileInode) ([]byte, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if f.content == nil {
		return nil, false
	}
	return f.content, true
}

// setFileContent caches a fetched buffer and records its length as the
// file's size.
func (ix *Index) setFileContent(f *FileInode, data []byte) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	f.content = data
	f.size = int64(len(data))
}

// empty clears every cached file buffer while keeping the structure, so the
// next open of any file re-fetches its content.
func (ix *Index) empty() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	emptyDir(ix.root)
}

func emptyDir(d *DirInode) {
	for _, name := range d.order {
		switch ino := d.names[name].(type) {
		case *FileInode:
			ino.content = nil
		case *DirInode:
			emptyDir(ino)
		}
	}
}
