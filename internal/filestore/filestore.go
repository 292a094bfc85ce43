// Package filestore reads whole files for the file output mode.
package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// File is a file that was found on disk.
type File struct {
	Path      string
	Name      string // base name
	Extension string // including the leading dot, may be empty
}

// Store resolves paths to files and their contents.
type Store interface {
	Stat(path string) (File, bool, error)
	ReadAll(f File) ([]byte, error)
}

// OS is a Store backed by the local filesystem.
type OS struct{}

func (OS) Stat(path string) (File, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return File{}, false, nil
		}
		return File{}, false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, false, nil
	}
	return File{
		Path:      path,
		Name:      filepath.Base(path),
		Extension: filepath.Ext(path),
	}, true, nil
}

func (OS) ReadAll(f File) ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return data, nil
}
