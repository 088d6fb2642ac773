package tflite

import (
	"fmt"

	"github.com/Brownie44l1/food-classifier/internal/model"
	tflite "github.com/mattn/go-tflite"
)

// Backend loads .tflite artifacts.
type Backend struct {
	numThreads int
}

func New(numThreads int) *Backend {
	if numThreads <= 0 {
		numThreads = 1
	}
	return &Backend{numThreads: numThreads}
}

// Load builds an interpreter for d. It satisfies model.Loader.
func (b *Backend) Load(d model.Descriptor) (model.Classifier, error) {
	m := tflite.NewModelFromFile(d.Path)
	if m == nil {
		return nil, fmt.Errorf("cannot load tflite model %s", d.Path)
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(b.numThreads)

	interpreter := tflite.NewInterpreter(m, options)
	if interpreter == nil {
		options.Delete()
		m.Delete()
		return nil, fmt.Errorf("cannot create tflite interpreter for %s", d.Path)
	}

	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		m.Delete()
		return nil, fmt.Errorf("tflite tensor allocation failed: %v", status)
	}

	return &tfliteClassifier{tfModel: m, options: options, interpreter: interpreter}, nil
}

type tfliteClassifier struct {
	tfModel     *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
}

func (c *tfliteClassifier) Predict(input []float32) ([]float32, error) {
	in := c.interpreter.GetInputTensor(0)
	if in.Type() != tflite.Float32 {
		return nil, fmt.Errorf("unsupported tflite input type %v", in.Type())
	}

	inputData := in.Float32s()
	if len(input) != len(inputData) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(inputData), len(input))
	}
	copy(inputData, input)

	if status := c.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tflite invoke failed: %v", status)
	}

	out := c.interpreter.GetOutputTensor(0)
	if out.Type() != tflite.Float32 {
		return nil, fmt.Errorf("unsupported tflite output type %v", out.Type())
	}
	outputData := out.Float32s()
	scores := make([]float32, len(outputData))
	copy(scores, outputData)
	return scores, nil
}

func (c *tfliteClassifier) Close() error {
	c.interpreter.Delete()
	c.options.Delete()
	c.tfModel.Delete()
	return nil
}
