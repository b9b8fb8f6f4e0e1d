// Package fusefs exposes a lazily populated filesystem over FUSE. The
// mount is strictly read-only; every mutating operation fails with EROFS
// before it can reach the backend.
package fusefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/slatefs/slatefs/internal/logging"
	"github.com/slatefs/slatefs/pkg/rwlock"
	"github.com/slatefs/slatefs/pkg/vfs"
)

// Filesystem bridges a vfs.FS to the kernel. Read operations hold the
// shared side of the lock; Empty takes the exclusive side so in-flight
// reads drain before the cache drops.
type Filesystem struct {
	vfs  *vfs.FS
	lock rwlock.RWMutex
}

// New wraps v for mounting.
func New(v *vfs.FS) *Filesystem {
	return &Filesystem{vfs: v}
}

// Empty drops all cached file content. Structure and sizes stay; the
// next read of any file fetches from the backend again.
func (f *Filesystem) Empty() {
	f.lock.Lock()
	f.vfs.Empty()
	f.lock.Unlock()
	logging.Info("content cache emptied")
}

// Mount mounts the filesystem at the given path.
func (f *Filesystem) Mount(mountPoint, fsName string) (*gofuse.Server, error) {
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return nil, fmt.Errorf("create mount point: %w", err)
	}

	root := &node{fsys: f, path: "/"}
	opts := &fs.Options{
		MountOptions: gofuse.MountOptions{
			AllowOther: false,
			Debug:      false,
			FsName:     fsName,
			Name:       fsName,
		},
		UID: uint32(os.Getuid()),
		GID: uint32(os.Getgid()),
	}

	server, err := fs.Mount(mountPoint, root, opts)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	return server, nil
}

// node represents a file or directory at a fixed path.
type node struct {
	fs.Inode

	fsys *Filesystem
	path string
}

var _ fs.InodeEmbedder = (*node)(nil)
var _ fs.NodeGetattrer = (*node)(nil)
var _ fs.NodeLookuper = (*node)(nil)
var _ fs.NodeReaddirer = (*node)(nil)
var _ fs.NodeOpener = (*node)(nil)
var _ fs.NodeReader = (*node)(nil)
var _ fs.NodeReleaser = (*node)(nil)
var _ fs.NodeCreater = (*node)(nil)
var _ fs.NodeMkdirer = (*node)(nil)
var _ fs.NodeUnlinker = (*node)(nil)
var _ fs.NodeRmdirer = (*node)(nil)
var _ fs.NodeSetattrer = (*node)(nil)
var _ fs.NodeRenamer = (*node)(nil)

// errno maps filesystem errors onto syscall errnos at the kernel
// boundary. Inside the module errors stay symbolic.
func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, vfs.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, vfs.ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, vfs.ErrNotDirectory):
		return syscall.ENOTDIR
	case errors.Is(err, vfs.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, vfs.ErrExists):
		return syscall.EEXIST
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return syscall.EINTR
	default:
		return syscall.EIO
	}
}

func fillAttr(fi vfs.FileInfo, attr *gofuse.Attr) {
	if fi.IsDir() {
		attr.Mode = syscall.S_IFDIR | uint32(fi.Mode.Perm())
	} else {
		attr.Mode = syscall.S_IFREG | uint32(fi.Mode.Perm())
	}
	if fi.Size != vfs.SizeUnknown {
		attr.Size = uint64(fi.Size)
	}
	attr.Uid = uint32(os.Getuid())
	attr.Gid = uint32(os.Getgid())
}

// Getattr returns attributes without ever fetching file content.
func (n *node) Getattr(ctx context.Context, fh fs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	n.fsys.lock.RLock()
	defer n.fsys.lock.RUnlock()

	fi, err := n.fsys.vfs.Stat(ctx, n.path)
	if err != nil {
		return errno(err)
	}
	fillAttr(fi, &out.Attr)
	return 0
}

// Lookup resolves a child by name, pulling ancestor listings on demand.
func (n *node) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.fsys.lock.RLock()
	defer n.fsys.lock.RUnlock()

	path := childOf(n.path, name)
	fi, err := n.fsys.vfs.Stat(ctx, path)
	if err != nil {
		return nil, errno(err)
	}

	child := &node{fsys: n.fsys, path: path}
	fillAttr(fi, &out.Attr)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: out.Attr.Mode}), 0
}

// Readdir lists the directory, fetching its listing if not yet loaded.
func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	n.fsys.lock.RLock()
	defer n.fsys.lock.RUnlock()

	names, err := n.fsys.vfs.ReadDir(ctx, n.path)
	if err != nil {
		return nil, errno(err)
	}

	entries := make([]gofuse.DirEntry, 0, len(names))
	for _, name := range names {
		mode := uint32(syscall.S_IFREG)
		if fi, ok := n.fsys.vfs.Lookup(childOf(n.path, name)); ok && fi.IsDir() {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, gofuse.DirEntry{Name: name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

// Open fetches and pins the file's content for the handle's lifetime.
func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_APPEND) != 0 {
		return nil, 0, syscall.EROFS
	}

	n.fsys.lock.RLock()
	defer n.fsys.lock.RUnlock()

	h, err := n.fsys.vfs.Open(ctx, n.path, int(flags))
	if err != nil {
		logging.Warn("open failed", zap.String("path", n.path), zap.Error(err))
		return nil, 0, errno(err)
	}
	return &fileHandle{h: h}, gofuse.FOPEN_KEEP_CACHE, 0
}

// Read serves from the handle's buffer.
func (n *node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	handle, ok := fh.(*fileHandle)
	if !ok {
		return nil, syscall.EIO
	}

	read, err := handle.h.ReadAt(dest, off)
	if err != nil && err != io.EOF {
		return nil, errno(err)
	}
	return gofuse.ReadResultData(dest[:read]), 0
}

// Release closes the handle.
func (n *node) Release(ctx context.Context, fh fs.FileHandle) syscall.Errno {
	if handle, ok := fh.(*fileHandle); ok {
		handle.h.Close()
	}
	return 0
}

// All mutations fail with EROFS.

func (n *node) Create(ctx context.Context, name string, flags, mode uint32, out *gofuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, syscall.EROFS
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno { return syscall.EROFS }

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno { return syscall.EROFS }

func (n *node) Setattr(ctx context.Context, fh fs.FileHandle, in *gofuse.SetAttrIn, out *gofuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}

func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return syscall.EROFS
}

// fileHandle wraps an open read handle.
type fileHandle struct {
	h *vfs.Handle
}

var _ fs.FileHandle = (*fileHandle)(nil)

func childOf(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
