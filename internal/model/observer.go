package model

import "time"

// Observer receives model lifecycle and inference events.
type Observer interface {
	ModelLoaded(source string, elapsed time.Duration)
	ModelLoadFailed()
	Predicted(label string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ModelLoaded(string, time.Duration) {}
func (nopObserver) ModelLoadFailed()                  {}
func (nopObserver) Predicted(string, time.Duration)   {}
