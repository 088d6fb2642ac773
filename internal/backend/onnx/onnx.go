package onnx

import (
	"fmt"

	"github.com/Brownie44l1/food-classifier/internal/model"
	"github.com/Brownie44l1/food-classifier/internal/preprocess"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	defaultInputName  = "input"
	defaultOutputName = "output"
)

// Backend loads .onnx artifacts through ONNX Runtime. The runtime
// environment is process-wide: create one backend at startup and Close it on
// shutdown.
type Backend struct {
	imageSize  int
	numClasses int
}

// New initializes the ONNX Runtime environment. libraryPath may be
// empty to use the platform default shared library name. The output tensor of
// every session is sized to numClasses.
func New(libraryPath string, imageSize, numClasses int) (*Backend, error) {
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return &Backend{imageSize: imageSize, numClasses: numClasses}, nil
}

func (b *Backend) inputShape(layout preprocess.Layout) ort.Shape {
	size := int64(b.imageSize)
	if layout == preprocess.NCHW {
		return ort.NewShape(1, 3, size, size)
	}
	return ort.NewShape(1, size, size, 3)
}

// Load creates a session for d. It satisfies model.Loader.
func (b *Backend) Load(d model.Descriptor) (model.Classifier, error) {
	inputName, outputName := d.InputName, d.OutputName
	if inputName == "" {
		inputName = defaultInputName
	}
	if outputName == "" {
		outputName = defaultOutputName
	}

	inputTensor, err := ort.NewEmptyTensor[float32](b.inputShape(d.Layout))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(b.numClasses)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(d.Path,
		[]string{inputName}, []string{outputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxClassifier{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (b *Backend) Close() error {
	return ort.DestroyEnvironment()
}

type onnxClassifier struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func (c *onnxClassifier) Predict(input []float32) ([]float32, error) {
	inputData := c.inputTensor.GetData()
	if len(input) != len(inputData) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(inputData), len(input))
	}
	copy(inputData, input)

	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	outputData := c.outputTensor.GetData()
	scores := make([]float32, len(outputData))
	copy(scores, outputData)
	return scores, nil
}

func (c *onnxClassifier) Close() error {
	if c.session != nil {
		c.session.Destroy()
	}
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
	}
	return nil
}
