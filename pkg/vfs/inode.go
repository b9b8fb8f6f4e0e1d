package vfs

import iofs "io/fs"

// SizeUnknown is the size of a file whose listing did not include one and
// whose stat capability has not been consulted yet.
const SizeUnknown int64 = -1

// Default permission bits for provider-backed entries: read and execute,
// never write.
const (
	defaultFilePerm iofs.FileMode = 0o555
	defaultDirPerm  iofs.FileMode = 0o555 | iofs.ModeDir
)

// Inode is a node of the path index: either a *FileInode or a *DirInode.
type Inode interface {
	// ExtendData returns the opaque provider context attached when the
	// inode was created from its parent's listing.
	ExtendData() any

	isInode()
}

// FileInode carries a file's stats and, once the file has been opened, its
// cached content.
type FileInode struct {
	size    int64
	perm    iofs.FileMode
	content []byte // nil until the first open fetches it
	extend  any
}

func newFileInode(extend any) *FileInode {
	return &FileInode{size: SizeUnknown, perm: defaultFilePerm, extend: extend}
}

func (f *FileInode) ExtendData() any { return f.extend }
func (f *FileInode) isInode()        {}

// Size returns the file's size, or SizeUnknown.
func (f *FileInode) Size() int64 { return f.size }

// Mode returns the file's permission bits.
func (f *FileInode) Mode() iofs.FileMode { return f.perm }

// DirInode holds a directory's children in listing order, plus the loaded
// marker that tells the loader whether its entries have been fetched.
type DirInode struct {
	names  map[string]Inode
	order  []string
	loaded bool
	perm   iofs.FileMode
	extend any
}

func newDirInode(extend any) *DirInode {
	return &DirInode{names: make(map[string]Inode), perm: defaultDirPerm, extend: extend}
}

func (d *DirInode) ExtendData() any { return d.extend }
func (d *DirInode) isInode()        {}

// Mode returns the directory's permission bits.
func (d *DirInode) Mode() iofs.FileMode { return d.perm }

// Loaded reports whether this directory's entries have been fetched and
// inserted.
func (d *DirInode) Loaded() bool { return d.loaded }

func (d *DirInode) child(name string) (Inode, bool) {
	ino, ok := d.names[name]
	return ino, ok
}

func (d *DirInode) addChild(name string, ino Inode) {
	if _, exists := d.names[name]; !exists {
		d.order = append(d.order, name)
	}
	d.names[name] = ino
}

// childNames returns the entry names in the order the provider listed them.
func (d *DirInode) childNames() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}
