package arcgis

import (
	"context"
	"fmt"
	"os"
)

// FileSource reads a previously saved query response from disk, e.g. an
// archive copy being replayed.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read feed file: %w", err)
	}
	return data, nil
}

func (s *FileSource) Source() string { return s.path }
