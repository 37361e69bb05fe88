package model

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

type Config struct {
	Loader    LoaderConfig
	Labels    []string
	CacheSize int
}

// Server is the inference pipeline: preprocessing, the lazily loaded network
// and label mapping.
type Server struct {
	loader   *Loader
	labels   []string
	cache    *lru.Cache
	log      *zap.Logger
	observer Observer
}

func NewServer(cfg Config, log *zap.Logger, observer Observer) (*Server, error) {
	return newServer(NewLoader(cfg.Loader, log, observer), cfg.Labels, cfg.CacheSize, log, observer)
}

func newServer(loader *Loader, labels []string, cacheSize int, log *zap.Logger, observer Observer) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if len(labels) != NumClasses {
		return nil, fmt.Errorf("expected %d class labels, got %d", NumClasses, len(labels))
	}

	s := &Server{
		loader:   loader,
		labels:   append([]string(nil), labels...),
		log:      log,
		observer: observer,
	}
	if cacheSize > 0 {
		cache, err := lru.New(cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create result cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Labels returns the configured class labels in output order.
func (s *Server) Labels() []string {
	return append([]string(nil), s.labels...)
}

// Warmup attempts the model load at startup. A failure is logged and left to
// surface on the first prediction.
func (s *Server) Warmup(ctx context.Context) {
	if _, err := s.loader.Load(ctx); err != nil {
		s.log.Error("Startup model load failed, deferring to first request", zap.Error(err))
	}
}

// Ready reports whether the model has been loaded.
func (s *Server) Ready() bool {
	_, ok := s.loader.Loaded()
	return ok
}

// Classify preprocesses raw image bytes and predicts their class.
func (s *Server) Classify(ctx context.Context, data []byte) (*Prediction, error) {
	var key [sha256.Size]byte
	if s.cache != nil {
		start := time.Now()
		key = sha256.Sum256(data)
		if v, ok := s.cache.Get(key); ok {
			pred := v.(*Prediction)
			s.observer.Predicted(pred.ClassLabel, time.Since(start))
			s.log.Debug("Prediction served from cache", zap.String("class_label", pred.ClassLabel))
			return pred, nil
		}
	}

	input, err := Preprocess(data)
	if err != nil {
		return nil, err
	}

	pred, err := s.Predict(ctx, input)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Add(key, pred)
	}
	return pred, nil
}

// Predict runs a forward pass over a (1, 64, 64, 3) tensor.
func (s *Server) Predict(ctx context.Context, input *Tensor) (*Prediction, error) {
	if err := input.ValidateInput(); err != nil {
		return nil, err
	}

	network, err := s.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	output, err := network.Forward(input)
	if err != nil {
		return nil, fmt.Errorf("forward pass: %w", err)
	}
	if len(output) != NumClasses {
		return nil, fmt.Errorf("model returned %d outputs, expected %d", len(output), NumClasses)
	}

	probs := make([]float64, len(output))
	for i, p := range output {
		probs[i] = roundTo(float64(p), 4)
	}
	maxIdx := argmax(probs)

	pred := &Prediction{
		ClassLabel:    s.labels[maxIdx],
		Probabilities: probs,
		Status:        StatusSuccess,
	}
	s.observer.Predicted(pred.ClassLabel, time.Since(start))
	return pred, nil
}

// Close releases the loaded network.
func (s *Server) Close() error {
	return s.loader.Close()
}

// argmax returns the index of the largest value, the lowest index on ties.
func argmax(values []float64) int {
	maxIdx := 0
	for i, v := range values {
		if v > values[maxIdx] {
			maxIdx = i
		}
	}
	return maxIdx
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
