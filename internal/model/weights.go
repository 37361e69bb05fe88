package model

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
)

// Array names inside the weights archive.
const (
	keyConvKernel  = "conv2d/kernel"
	keyConvBias    = "conv2d/bias"
	keyDenseKernel = "dense/kernel"
	keyDenseBias   = "dense/bias"
)

var weightShapes = map[string][]int{
	keyConvKernel:  {kernelSize, kernelSize, InputChannels, convFilters},
	keyConvBias:    {convFilters},
	keyDenseKernel: {flatSize, NumClasses},
	keyDenseBias:   {NumClasses},
}

// LoadWeights builds the fixed topology and populates it from a weights-only
// .npz archive. Topology metadata in the archive, if any, is ignored.
func LoadWeights(path string) (*ConvNet, error) {
	arrays, err := readNpz(path)
	if err != nil {
		return nil, fmt.Errorf("read weights %s: %w", path, err)
	}

	param := func(name string) ([]float32, error) {
		arr, ok := arrays[name]
		if !ok {
			return nil, fmt.Errorf("weights %s: missing array %q", path, name)
		}
		if !slices.Equal(arr.Shape, weightShapes[name]) {
			return nil, fmt.Errorf("weights %s: array %q has shape %v, expected %v",
				path, name, arr.Shape, weightShapes[name])
		}
		return arr.Data, nil
	}

	net := &ConvNet{}
	if net.ConvKernel, err = param(keyConvKernel); err != nil {
		return nil, err
	}
	if net.ConvBias, err = param(keyConvBias); err != nil {
		return nil, err
	}
	if net.DenseKernel, err = param(keyDenseKernel); err != nil {
		return nil, err
	}
	if net.DenseBias, err = param(keyDenseBias); err != nil {
		return nil, err
	}
	if err := net.validate(); err != nil {
		return nil, err
	}
	return net, nil
}

// SaveWeights writes the network parameters as a weights-only .npz archive.
func SaveWeights(path string, net *ConvNet) error {
	if err := net.validate(); err != nil {
		return err
	}
	return writeNpz(path, []npzEntry{
		{keyConvKernel, weightShapes[keyConvKernel], net.ConvKernel},
		{keyConvBias, weightShapes[keyConvBias], net.ConvBias},
		{keyDenseKernel, weightShapes[keyDenseKernel], net.DenseKernel},
		{keyDenseBias, weightShapes[keyDenseBias], net.DenseBias},
	})
}

// GenerateWeights writes an untrained weights artifact: Glorot-uniform
// kernels and zero biases.
func GenerateWeights(path string, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	net := NewConvNet()
	glorotUniform(rng, net.ConvKernel, kernelSize*kernelSize*InputChannels, kernelSize*kernelSize*convFilters)
	glorotUniform(rng, net.DenseKernel, flatSize, NumClasses)
	return SaveWeights(path, net)
}

func glorotUniform(rng *rand.Rand, w []float32, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = float32((rng.Float64()*2 - 1) * limit)
	}
}
