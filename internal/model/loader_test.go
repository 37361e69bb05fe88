package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderPrefersWeights(t *testing.T) {
	dir := t.TempDir()
	weights := filepath.Join(dir, "model_weights.npz")
	require.NoError(t, GenerateWeights(weights, 42))

	l := NewLoader(LoaderConfig{
		WeightsPath:   weights,
		FullModelPath: filepath.Join(dir, "missing.onnx"),
	}, nil, nil)

	net, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &ConvNet{}, net)

	src, ok := l.Loaded()
	assert.True(t, ok)
	assert.Equal(t, SourceWeights, src)

	again, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, net, again)
}

func TestLoaderFallsBackWhenWeightsAbsent(t *testing.T) {
	fallback := NewConvNet()
	var weightCalls int
	l := newLoader([]attempt{
		{source: SourceWeights, path: filepath.Join(t.TempDir(), "absent.npz"), load: func(string) (Network, error) {
			weightCalls++
			return nil, errors.New("unreachable")
		}},
		{source: SourceFullModel, path: touch(t, "model.onnx"), load: func(string) (Network, error) {
			return fallback, nil
		}},
	}, nil, nil)

	net, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, fallback, net)
	assert.Zero(t, weightCalls)

	src, _ := l.Loaded()
	assert.Equal(t, SourceFullModel, src)
}

func TestLoaderNoArtifacts(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(LoaderConfig{
		WeightsPath:   filepath.Join(dir, "model_weights.npz"),
		FullModelPath: filepath.Join(dir, "my_classifier_model.onnx"),
	}, nil, nil)

	_, err := l.Load(context.Background())
	assert.ErrorIs(t, err, ErrModelLoad)

	_, ok := l.Loaded()
	assert.False(t, ok)
}

func TestLoaderCorruptWeightsDoesNotFallBack(t *testing.T) {
	weights := touch(t, "model_weights.npz")
	require.NoError(t, os.WriteFile(weights, []byte("garbage"), 0o644))

	var fullCalls int
	l := newLoader([]attempt{
		{source: SourceWeights, path: weights, load: func(p string) (Network, error) { return LoadWeights(p) }},
		{source: SourceFullModel, path: touch(t, "model.onnx"), load: func(string) (Network, error) {
			fullCalls++
			return NewConvNet(), nil
		}},
	}, nil, nil)

	_, err := l.Load(context.Background())
	assert.ErrorIs(t, err, ErrModelLoad)
	assert.Zero(t, fullCalls)
}

func TestLoaderReportsPanicAsLoadFailure(t *testing.T) {
	l := newLoader([]attempt{{source: SourceWeights, path: touch(t, "w.npz"), load: func(string) (Network, error) {
		var shape []int
		return nil, fmt.Errorf("unreachable %d", shape[3])
	}}}, nil, nil)

	_, err := l.Load(context.Background())
	assert.ErrorIs(t, err, ErrModelLoad)
	assert.ErrorContains(t, err, "panic while loading")

	_, ok := l.Loaded()
	assert.False(t, ok)
}

func TestLoaderRetriesAfterFailure(t *testing.T) {
	var calls int
	l := newLoader([]attempt{{source: SourceWeights, path: touch(t, "w.npz"), load: func(string) (Network, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return NewConvNet(), nil
	}}}, nil, nil)

	_, err := l.Load(context.Background())
	require.ErrorIs(t, err, ErrModelLoad)

	_, err = l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestLoaderConcurrentFirstCallsLoadOnce(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	l := newLoader([]attempt{{source: SourceWeights, path: touch(t, "w.npz"), load: func(string) (Network, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return NewConvNet(), nil
	}}}, nil, nil)

	const callers = 32
	var wg sync.WaitGroup
	nets := make([]Network, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nets[i], errs[i] = l.Load(context.Background())
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for i := range nets {
		require.NoError(t, errs[i])
		assert.Same(t, nets[0], nets[i])
	}
}

func TestLoaderHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	l := newLoader([]attempt{{source: SourceWeights, path: touch(t, "w.npz"), load: func(string) (Network, error) {
		<-release
		return NewConvNet(), nil
	}}}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Load(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
