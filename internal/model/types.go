package model

import (
	"errors"
	"fmt"
)

// Fixed input geometry and topology of the classifier.
const (
	InputHeight   = 64
	InputWidth    = 64
	InputChannels = 3
	NumClasses    = 10

	convFilters = 32
	kernelSize  = 3
	convHeight  = InputHeight - kernelSize + 1
	convWidth   = InputWidth - kernelSize + 1
	flatSize    = convHeight * convWidth * convFilters
)

const StatusSuccess = "success"

var (
	ErrModelLoad    = errors.New("model load failed")
	ErrInvalidImage = errors.New("invalid image")
	ErrInvalidShape = errors.New("invalid tensor shape")
)

// ImageError reports why uploaded bytes could not be turned into an input
// tensor. It matches ErrInvalidImage under errors.Is.
type ImageError struct {
	Err error
}

func (e *ImageError) Error() string { return ErrInvalidImage.Error() + ": " + e.Err.Error() }

func (e *ImageError) Unwrap() error { return e.Err }

func (e *ImageError) Is(target error) bool { return target == ErrInvalidImage }

// Source tags which artifact a loaded network came from.
type Source string

const (
	SourceWeights   Source = "weights"
	SourceFullModel Source = "full_model"
)

type Prediction struct {
	ClassLabel    string    `json:"class_label"`
	Probabilities []float64 `json:"probabilities"`
	Status        string    `json:"status"`
}

// DefaultLabels returns the placeholder labels class_0 .. class_9.
func DefaultLabels() []string {
	labels := make([]string, NumClasses)
	for i := range labels {
		labels[i] = fmt.Sprintf("class_%d", i)
	}
	return labels
}

// Tensor is a dense float32 array laid out row-major, channel-last.
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// NewInputTensor allocates a zeroed (1, 64, 64, 3) tensor.
func NewInputTensor() *Tensor {
	return &Tensor{
		Shape: [4]int{1, InputHeight, InputWidth, InputChannels},
		Data:  make([]float32, InputHeight*InputWidth*InputChannels),
	}
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) *Tensor {
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// ValidateInput checks that t is exactly the model input shape.
func (t *Tensor) ValidateInput() error {
	if t == nil {
		return fmt.Errorf("%w: nil tensor", ErrInvalidShape)
	}
	want := [4]int{1, InputHeight, InputWidth, InputChannels}
	if t.Shape != want {
		return fmt.Errorf("%w: expected %v, got %v", ErrInvalidShape, want, t.Shape)
	}
	if len(t.Data) != InputHeight*InputWidth*InputChannels {
		return fmt.Errorf("%w: expected %d values, got %d", ErrInvalidShape,
			InputHeight*InputWidth*InputChannels, len(t.Data))
	}
	return nil
}
