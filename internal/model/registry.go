package model

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Registry maps model names to artifacts on disk. It never caches: every
// Load deserializes the artifact again.
type Registry struct {
	models  map[string]Descriptor
	loaders map[string]Loader
}

func NewRegistry(descriptors ...Descriptor) *Registry {
	models := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		models[d.Name] = d
	}
	return &Registry{
		models:  models,
		loaders: make(map[string]Loader),
	}
}

// RegisterLoader binds a file extension such as ".onnx" to a backend.
func (r *Registry) RegisterLoader(ext string, loader Loader) {
	r.loaders[strings.ToLower(ext)] = loader
}

// Names returns the selectable model names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string) bool {
	_, ok := r.models[name]
	return ok
}

// Load returns ErrUnknownModel for names outside the table and
// ErrModelNotFound when the artifact is missing from disk.
func (r *Registry) Load(name string) (*Handle, error) {
	d, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}

	if _, err := os.Stat(d.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, d.Path)
		}
		return nil, fmt.Errorf("failed to stat model %s: %w", d.Path, err)
	}

	ext := strings.ToLower(filepath.Ext(d.Path))
	loader, ok := r.loaders[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	c, err := loader(d)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", name, err)
	}
	return &Handle{Descriptor: d, Classifier: c}, nil
}
