package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var ErrInvalidName = errors.New("invalid upload filename")

// Store writes uploads into a single directory under their original base
// name. A second upload with the same name replaces the first.
type Store struct {
	dir string
}

// New creates dir if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("could not create upload directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Save copies r to dir/base(filename) and returns the written path.
func (s *Store) Save(filename string, r io.Reader) (string, error) {
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, filename)
	}

	savePath := filepath.Join(s.dir, name)
	out, err := os.Create(savePath)
	if err != nil {
		return "", fmt.Errorf("could not save file: %w", err)
	}

	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return "", fmt.Errorf("could not save file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("could not save file: %w", err)
	}
	return savePath, nil
}
