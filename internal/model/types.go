package model

import (
	"errors"

	"github.com/Brownie44l1/food-classifier/internal/preprocess"
)

var (
	ErrUnknownModel      = errors.New("unknown model")
	ErrModelNotFound     = errors.New("model artifact not found")
	ErrUnsupportedFormat = errors.New("unsupported model format")
	ErrEmptyOutput       = errors.New("model produced no output")
	ErrLabelNotFound     = errors.New("predicted index has no class label")
)

// Descriptor describes one selectable model and how its input is built.
type Descriptor struct {
	Name          string
	Path          string
	Layout        preprocess.Layout
	Normalization preprocess.Normalization
	InputName     string
	OutputName    string
}

// Classifier runs a forward pass over one preprocessed batch and returns the
// per-class scores. Implementations own native resources; call Close.
type Classifier interface {
	Predict(input []float32) ([]float32, error)
	Close() error
}

// Handle is a loaded model together with the descriptor it was loaded from.
type Handle struct {
	Descriptor
	Classifier
}

// Loader deserializes the artifact at d.Path.
type Loader func(d Descriptor) (Classifier, error)

// Labeler maps an output index to a class label.
type Labeler interface {
	Label(idx int) (string, bool)
}

type Prediction struct {
	Class      string  `json:"class"`
	Index      int     `json:"index"`
	Confidence float32 `json:"confidence"`
}
