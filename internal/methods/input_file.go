package methods

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// InputFile is a file to be uploaded with a request
type InputFile interface {
	Filename() string
	Open() (io.ReadCloser, error)
}

// PathFile uploads a file from the local filesystem
type PathFile struct {
	Path string
	Name string
}

// FileFromPath creates an upload backed by a file on disk
func FileFromPath(path string) *PathFile {
	return &PathFile{Path: path}
}

func (f *PathFile) Filename() string {
	if f.Name != "" {
		return f.Name
	}
	return filepath.Base(f.Path)
}

func (f *PathFile) Open() (io.ReadCloser, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload %s: %w", f.Path, err)
	}
	return file, nil
}

// BytesFile uploads an in-memory buffer
type BytesFile struct {
	Name string
	Data []byte
}

// FileFromBytes creates an upload backed by a byte slice
func FileFromBytes(name string, data []byte) *BytesFile {
	return &BytesFile{Name: name, Data: data}
}

func (f *BytesFile) Filename() string {
	return f.Name
}

func (f *BytesFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.Data)), nil
}
