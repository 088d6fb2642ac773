package metadata

import (
	"encoding/json"
	"fmt"
	"os"
)

// FoodInfo is the nutritional record for one class, rendered verbatim.
type FoodInfo map[string]any

// Store is the read-only metadata loaded at startup: class labels, per-model
// metrics and per-class food properties. Safe for concurrent reads.
type Store struct {
	labels  []string
	metrics map[string]any
	food    map[string]FoodInfo
}

// New builds a Store from already-decoded values.
func New(labels []string, metrics map[string]any, food map[string]FoodInfo) *Store {
	if metrics == nil {
		metrics = map[string]any{}
	}
	if food == nil {
		food = map[string]FoodInfo{}
	}
	return &Store{labels: labels, metrics: metrics, food: food}
}

// Load reads the three metadata files. Any missing or malformed file is an
// error; the server refuses to start without them.
func Load(labelsPath, metricsPath, foodPath string) (*Store, error) {
	var labels []string
	if err := readJSON(labelsPath, &labels); err != nil {
		return nil, fmt.Errorf("failed to load class labels: %w", err)
	}

	var metrics map[string]any
	if err := readJSON(metricsPath, &metrics); err != nil {
		return nil, fmt.Errorf("failed to load model metrics: %w", err)
	}

	var food map[string]FoodInfo
	if err := readJSON(foodPath, &food); err != nil {
		return nil, fmt.Errorf("failed to load food properties: %w", err)
	}

	return New(labels, metrics, food), nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// Labels returns the class label table. Callers must not modify it.
func (s *Store) Labels() []string {
	return s.labels
}

// Label returns the label at output index idx.
func (s *Store) Label(idx int) (string, bool) {
	if idx < 0 || idx >= len(s.labels) {
		return "", false
	}
	return s.labels[idx], true
}

// Metrics returns every model's metrics record.
func (s *Store) Metrics() map[string]any {
	return s.metrics
}

// Food returns the food record for label.
func (s *Store) Food(label string) (FoodInfo, bool) {
	info, ok := s.food[label]
	return info, ok
}
