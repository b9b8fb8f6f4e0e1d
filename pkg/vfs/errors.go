package vfs

import (
	"errors"
	"fmt"
)

// Sentinel errors for every condition an operation can report. Callers
// classify with errors.Is; the FUSE frontend maps these onto errnos.
var (
	ErrNotFound     = errors.New("no such file or directory")
	ErrIsDirectory  = errors.New("is a directory")
	ErrNotDirectory = errors.New("not a directory")
	ErrPermission   = errors.New("permission denied")
	ErrExists       = errors.New("file already exists")
	ErrInvalid      = errors.New("invalid argument")
)

// providerError wraps a provider failure into the invalid-argument class,
// keeping the original message in the chain.
func providerError(op, path string, err error) error {
	return fmt.Errorf("%s %s: %w: %v", op, path, ErrInvalid, err)
}

func opError(op, path string, kind error) error {
	return fmt.Errorf("%s %s: %w", op, path, kind)
}
