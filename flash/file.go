package flash

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// File is a flash device backed by an image file on disk.  Every successful
// erase or write rewrites the image, so the file always reflects the device.
type File struct {
	*Memory
	path string
}

var _ Device = (*File)(nil)

// OpenFile opens the flash image at path.  A missing file yields an erased
// device, which is created on the first modification.
func OpenFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read flash image: %w", err)
		}
		slog.Debug("flash image does not exist, starting erased", "path", path)
		return &File{Memory: NewMemory(), path: path}, nil
	}
	m, err := NewMemoryFrom(data)
	if err != nil {
		return nil, fmt.Errorf("invalid flash image %s: %w", path, err)
	}
	return &File{Memory: m, path: path}, nil
}

// Path returns the image file path.
func (f *File) Path() string {
	return f.path
}

func (f *File) Erase(addr uint32, count int) error {
	if err := f.Memory.Erase(addr, count); err != nil {
		return err
	}
	return f.sync()
}

func (f *File) Write(addr uint32, data []byte) error {
	if err := f.Memory.Write(addr, data); err != nil {
		return err
	}
	return f.sync()
}

// sync writes the image to a temporary file and renames it over the
// original.
func (f *File) sync() error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".flash-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary image: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(f.Memory.Image()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close image: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace image: %w", err)
	}
	return nil
}
