package engine

import (
	"image/color"
	"time"

	"github.com/pkg/errors"

	"github.com/juruen/inkcore/perf"
	"github.com/juruen/inkcore/recognition"
)

// Options configures an Engine.
type Options struct {
	// QueueSize bounds the mutation queue. Producers wait for space.
	QueueSize       int
	ShutdownTimeout time.Duration

	Width      int
	Height     int
	Background color.RGBA
	// ResourceCacheCapacity bounds each render resource cache.
	ResourceCacheCapacity int

	// RecognitionEnabled submits every added stroke for classification
	// when a classifier is configured.
	RecognitionEnabled bool
	Recognition        recognition.Options
}

func DefaultOptions() Options {
	return Options{
		QueueSize:             256,
		ShutdownTimeout:       5 * time.Second,
		Width:                 1404,
		Height:                1872,
		Background:            color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
		ResourceCacheCapacity: 1024,
		RecognitionEnabled:    true,
		Recognition:           recognition.DefaultOptions(),
	}
}

func (o Options) Validate() error {
	if o.QueueSize <= 0 {
		return errors.Errorf("engine: queue size must be positive, got %d", o.QueueSize)
	}
	if o.ShutdownTimeout <= 0 {
		return errors.Errorf("engine: shutdown timeout must be positive, got %s", o.ShutdownTimeout)
	}
	if o.Width <= 0 || o.Height <= 0 {
		return errors.Errorf("engine: invalid surface size %dx%d", o.Width, o.Height)
	}
	return errors.Wrap(o.Recognition.Validate(), "engine")
}

// Option customizes the collaborators of an Engine.
type Option func(*Engine)

// WithClassifier enables shape recognition through c.
func WithClassifier(c recognition.Classifier) Option {
	return func(e *Engine) {
		e.classifier = c
	}
}

// WithStore shares recognition results through a second level cache.
func WithStore(s recognition.Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithMonitor records timings into m instead of a private monitor.
func WithMonitor(m *perf.Monitor) Option {
	return func(e *Engine) {
		e.monitor = m
	}
}
