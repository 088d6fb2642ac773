package model

import (
	"fmt"
	"math"
)

// Predict runs c on input and maps the arg-max index to a label. Ties go to
// the lowest index. A NaN score counts as the maximum, so the first NaN wins.
func Predict(c Classifier, input []float32, labels Labeler) (*Prediction, error) {
	outputData, err := c.Predict(input)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if len(outputData) == 0 {
		return nil, ErrEmptyOutput
	}

	maxIdx := 0
	maxVal := outputData[0]
	for i, val := range outputData {
		if math.IsNaN(float64(val)) {
			maxVal = val
			maxIdx = i
			break
		}
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}

	class, ok := labels.Label(maxIdx)
	if !ok {
		return nil, fmt.Errorf("%w: index %d", ErrLabelNotFound, maxIdx)
	}

	return &Prediction{
		Class:      class,
		Index:      maxIdx,
		Confidence: maxVal,
	}, nil
}
