package model

import (
	"fmt"
	"math"
)

// Network runs a forward pass over a (1, 64, 64, 3) input and returns one
// probability per class.
type Network interface {
	Forward(input *Tensor) ([]float32, error)
	Close() error
}

// ConvNet is Conv2D(32, 3x3, relu) -> Flatten -> Dense(10, softmax).
// Parameters follow the Keras layout so exported weights load without
// transposition.
type ConvNet struct {
	ConvKernel  []float32 // (3, 3, 3, 32) HWIO
	ConvBias    []float32 // (32)
	DenseKernel []float32 // (123008, 10)
	DenseBias   []float32 // (10)
}

// NewConvNet returns a network with zeroed parameters.
func NewConvNet() *ConvNet {
	return &ConvNet{
		ConvKernel:  make([]float32, kernelSize*kernelSize*InputChannels*convFilters),
		ConvBias:    make([]float32, convFilters),
		DenseKernel: make([]float32, flatSize*NumClasses),
		DenseBias:   make([]float32, NumClasses),
	}
}

func (n *ConvNet) validate() error {
	check := func(name string, got, want int) error {
		if got != want {
			return fmt.Errorf("%s: expected %d parameters, got %d", name, want, got)
		}
		return nil
	}
	if err := check("conv2d/kernel", len(n.ConvKernel), kernelSize*kernelSize*InputChannels*convFilters); err != nil {
		return err
	}
	if err := check("conv2d/bias", len(n.ConvBias), convFilters); err != nil {
		return err
	}
	if err := check("dense/kernel", len(n.DenseKernel), flatSize*NumClasses); err != nil {
		return err
	}
	return check("dense/bias", len(n.DenseBias), NumClasses)
}

func (n *ConvNet) Forward(input *Tensor) ([]float32, error) {
	if err := input.ValidateInput(); err != nil {
		return nil, err
	}
	in := input.Data

	// Valid-padding convolution, output (62, 62, 32) flattened in the same
	// row-major channel-last order Keras' Flatten uses.
	conv := make([]float32, flatSize)
	for y := 0; y < convHeight; y++ {
		for x := 0; x < convWidth; x++ {
			out := conv[(y*convWidth+x)*convFilters : (y*convWidth+x+1)*convFilters]
			copy(out, n.ConvBias)
			for ky := 0; ky < kernelSize; ky++ {
				for kx := 0; kx < kernelSize; kx++ {
					px := in[((y+ky)*InputWidth+(x+kx))*InputChannels:]
					for c := 0; c < InputChannels; c++ {
						v := px[c]
						if v == 0 {
							continue
						}
						k := n.ConvKernel[((ky*kernelSize+kx)*InputChannels+c)*convFilters:]
						for f := 0; f < convFilters; f++ {
							out[f] += v * k[f]
						}
					}
				}
			}
			for f := range out {
				if out[f] < 0 {
					out[f] = 0
				}
			}
		}
	}

	logits := make([]float64, NumClasses)
	for j := range logits {
		logits[j] = float64(n.DenseBias[j])
	}
	for i, v := range conv {
		if v == 0 {
			continue
		}
		row := n.DenseKernel[i*NumClasses : (i+1)*NumClasses]
		for j := range logits {
			logits[j] += float64(v) * float64(row[j])
		}
	}

	return softmax(logits), nil
}

func (n *ConvNet) Close() error { return nil }

func softmax(logits []float64) []float32 {
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		if l > maxLogit {
			maxLogit = l
		}
	}
	var sum float64
	exps := make([]float64, len(logits))
	for i, l := range logits {
		exps[i] = math.Exp(l - maxLogit)
		sum += exps[i]
	}
	probs := make([]float32, len(logits))
	for i := range exps {
		probs[i] = float32(exps[i] / sum)
	}
	return probs
}
