package vfs

import "context"

// EntryType tags a directory entry as a file or a directory.
type EntryType int

const (
	EntryFile EntryType = iota
	EntryDirectory
)

func (t EntryType) String() string {
	switch t {
	case EntryFile:
		return "file"
	case EntryDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// DirEntry is one row of a provider listing. ExtendData is opaque per-path
// context the provider wants handed back on later calls for that path; the
// filesystem stores it on the inode and never inspects it.
type DirEntry struct {
	Name       string
	Type       EntryType
	ExtendData any
}

// Provider supplies the remote namespace. Listings and content are fetched
// on demand; a call may block for as long as the backing transport needs.
//
// Paths are absolute, slash-separated, and passed exactly as the embedder
// used them; the filesystem performs no normalization of its own beyond
// splitting on "/".
type Provider interface {
	// ReadDirectory lists the entries of the directory at path. extendData
	// is whatever the provider previously attached to that path, or nil for
	// the root.
	ReadDirectory(ctx context.Context, path string, extendData any) ([]DirEntry, error)

	// ReadFile returns the full content of the file at path.
	ReadFile(ctx context.Context, path string, extendData any) ([]byte, error)
}

// StatProvider is the optional stat capability. Providers that can report a
// file's size without fetching its content implement it; the filesystem
// upgrades with a type assertion.
type StatProvider interface {
	Stat(ctx context.Context, path string, extendData any) (StatResult, error)
}

// StatResult is the stat capability's answer.
type StatResult struct {
	Size int64
}
