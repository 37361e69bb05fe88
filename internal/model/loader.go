package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// LoaderConfig names the two on-disk artifacts, tried in order.
type LoaderConfig struct {
	WeightsPath   string
	FullModelPath string
	ONNX          ONNXConfig
}

// LoadResult is the outcome of the attempt chain: a network tagged with the
// artifact it came from, or an error.
type LoadResult struct {
	Network Network
	Source  Source
	Path    string
	Err     error
}

type attempt struct {
	source Source
	path   string
	load   func(path string) (Network, error)
}

// Loader lazily loads the model once and hands out the cached handle.
// Concurrent first callers share a single load; failures are not cached.
type Loader struct {
	attempts []attempt
	log      *zap.Logger
	observer Observer

	mu      sync.RWMutex
	network Network
	source  Source

	group singleflight.Group
}

func NewLoader(cfg LoaderConfig, log *zap.Logger, observer Observer) *Loader {
	return newLoader([]attempt{
		{
			source: SourceWeights,
			path:   cfg.WeightsPath,
			load: func(path string) (Network, error) {
				return LoadWeights(path)
			},
		},
		{
			source: SourceFullModel,
			path:   cfg.FullModelPath,
			load: func(path string) (Network, error) {
				return LoadONNX(path, cfg.ONNX)
			},
		},
	}, log, observer)
}

func newLoader(attempts []attempt, log *zap.Logger, observer Observer) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Loader{
		attempts: attempts,
		log:      log,
		observer: observer,
	}
}

func (l *Loader) cached() (Network, Source) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.network, l.source
}

// Loaded reports whether a network is cached and which artifact it came from.
func (l *Loader) Loaded() (Source, bool) {
	n, src := l.cached()
	return src, n != nil
}

// Load returns the cached network, loading it on first use.
func (l *Loader) Load(ctx context.Context) (Network, error) {
	if n, _ := l.cached(); n != nil {
		return n, nil
	}

	ch := l.group.DoChan("model", func() (interface{}, error) {
		// A flight that finished between the fast path and DoChan has
		// already stored the network.
		if n, _ := l.cached(); n != nil {
			return n, nil
		}

		start := time.Now()
		res := l.run()
		if res.Err != nil {
			l.observer.ModelLoadFailed()
			l.log.Error("Model load failed", zap.Error(res.Err))
			return nil, res.Err
		}

		l.mu.Lock()
		l.network, l.source = res.Network, res.Source
		l.mu.Unlock()

		l.observer.ModelLoaded(string(res.Source), time.Since(start))
		l.log.Info("Model loaded",
			zap.String("source", string(res.Source)),
			zap.String("path", res.Path),
			zap.Duration("elapsed", time.Since(start)))
		return res.Network, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(Network), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run walks the attempt chain. An artifact that is absent hands over to the
// next one; an artifact that is present but unreadable ends the chain.
func (l *Loader) run() LoadResult {
	var missing []string
	for _, a := range l.attempts {
		if a.path == "" {
			continue
		}
		if _, err := os.Stat(a.path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				l.log.Warn("Model artifact not found, trying next",
					zap.String("source", string(a.source)),
					zap.String("path", a.path))
				missing = append(missing, a.path)
				continue
			}
			return LoadResult{Err: fmt.Errorf("%w: stat %s: %v", ErrModelLoad, a.path, err)}
		}

		n, err := a.safeLoad()
		if err != nil {
			return LoadResult{Err: fmt.Errorf("%w: %s artifact %s: %v", ErrModelLoad, a.source, a.path, err)}
		}
		return LoadResult{Network: n, Source: a.source, Path: a.path}
	}
	return LoadResult{Err: fmt.Errorf("%w: no model artifact found (tried %v)", ErrModelLoad, missing)}
}

// safeLoad converts a panic in the load function into an error. Load runs
// inside a singleflight call, where a panic would take down the process.
func (a attempt) safeLoad() (n Network, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = nil, fmt.Errorf("panic while loading: %v", r)
		}
	}()
	return a.load(a.path)
}

// Close releases the cached network, if any.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.network == nil {
		return nil
	}
	err := l.network.Close()
	l.network = nil
	return err
}
