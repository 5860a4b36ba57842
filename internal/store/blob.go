package store

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Blob is the narrow surface the record log needs from the storage
// collaborator: append bytes to a single named blob, report its size, stream
// it from the start, remove it. Mount/format lifecycle stays outside.
type Blob interface {
	Append(data []byte) error
	Size() (int64, error)
	Open() (io.ReadCloser, error)
	Remove() error
}

// FileBlob backs the record log with one append-only file on the local
// filesystem.
type FileBlob struct {
	path string
}

// NewFileBlob ensures the blob exists (empty on first boot) and returns it.
func NewFileBlob(path string) (*FileBlob, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ensure data file: %w", err)
	}
	f.Close()
	return &FileBlob{path: path}, nil
}

func (b *FileBlob) Append(data []byte) error {
	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append %d bytes: %w", len(data), err)
	}
	return nil
}

func (b *FileBlob) Size() (int64, error) {
	info, err := os.Stat(b.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stat data file: %w", err)
	}
	return info.Size(), nil
}

// Open streams the blob from the start. A missing file reads as empty, like
// Size reports it, so an erased log stays readable until the next append
// recreates it.
func (b *FileBlob) Open() (io.ReadCloser, error) {
	f, err := os.Open(b.path)
	if os.IsNotExist(err) {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	return f, nil
}

// Remove deletes the blob. A missing blob counts as success.
func (b *FileBlob) Remove() error {
	err := os.Remove(b.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove data file: %w", err)
	}
	return nil
}
