// Package snapshots reads the client master and holdings records, validates
// them and stores them as an immutable, content-addressed snapshot that a
// run is bound to for its whole life, resumes included.
package snapshots

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Source is a readable CSV record source
type Source interface {
	// Name identifies the source in snapshot metadata and errors
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FileSource reads a CSV file from disk
type FileSource struct {
	Path string
}

// Name returns the file path
func (s FileSource) Name() string {
	return s.Path
}

// Open opens the file
func (s FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.Path, err)
	}
	return f, nil
}

// StaticSource serves in-memory CSV content (uploads, tests)
type StaticSource struct {
	Label   string
	Content string
}

// Name returns the label
func (s StaticSource) Name() string {
	return s.Label
}

// Open returns a reader over the content
func (s StaticSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.Content)), nil
}
