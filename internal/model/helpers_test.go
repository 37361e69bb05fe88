package model

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// touch creates an empty file so an attempt's artifact counts as present.
func touch(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return path
}

// staticLoader returns a loader whose only attempt yields net.
func staticLoader(t *testing.T, net Network) *Loader {
	t.Helper()
	return newLoader([]attempt{{
		source: SourceWeights,
		path:   touch(t, "weights.npz"),
		load:   func(string) (Network, error) { return net, nil },
	}}, nil, nil)
}

func randomConvNet(seed int64) *ConvNet {
	rng := rand.New(rand.NewSource(seed))
	net := NewConvNet()
	glorotUniform(rng, net.ConvKernel, kernelSize*kernelSize*InputChannels, kernelSize*kernelSize*convFilters)
	glorotUniform(rng, net.DenseKernel, flatSize, NumClasses)
	for i := range net.DenseBias {
		net.DenseBias[i] = float32(rng.NormFloat64())
	}
	return net
}

func randomInput(seed int64) *Tensor {
	rng := rand.New(rand.NewSource(seed))
	t := NewInputTensor()
	for i := range t.Data {
		t.Data[i] = rng.Float32()
	}
	return t
}
