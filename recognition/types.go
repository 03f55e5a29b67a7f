// Package recognition schedules shape classification of stroke sets on a
// dedicated queue and caches the accepted results.
package recognition

import (
	"context"
	"fmt"

	"github.com/juruen/inkcore/ink"
)

// Candidate is one interpretation reported by a classifier.
type Candidate struct {
	Kind       ink.ShapeType `json:"kind"`
	Confidence float64       `json:"confidence"`
	Points     []ink.Point   `json:"points"`
	Bounds     ink.Rect      `json:"bounds"`
}

// Classifier turns stroke geometry into candidate shapes. It is the only
// place where geometry analysis happens.
type Classifier interface {
	Classify(ctx context.Context, strokes []*ink.StrokeData) ([]Candidate, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, strokes []*ink.StrokeData) ([]Candidate, error)

func (f ClassifierFunc) Classify(ctx context.Context, strokes []*ink.StrokeData) ([]Candidate, error) {
	return f(ctx, strokes)
}

// Result is either a recognized shape or the reason nothing was accepted.
type Result struct {
	Success     bool          `json:"success"`
	Shape       ink.ShapeType `json:"shape"`
	Confidence  float64       `json:"confidence"`
	HotPoints   []ink.Point   `json:"hotPoints,omitempty"`
	BoundingBox ink.Rect      `json:"boundingBox"`
	Reason      string        `json:"reason,omitempty"`
}

func Success(shape ink.ShapeType, confidence float64, hotPoints []ink.Point, box ink.Rect) Result {
	return Result{Success: true, Shape: shape, Confidence: confidence, HotPoints: hotPoints, BoundingBox: box}
}

func Failure(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...), BoundingBox: ink.EmptyRect}
}

// RecognitionError is the error form of a failed Result.
type RecognitionError struct {
	Reason string
}

func (e *RecognitionError) Error() string {
	return "recognition failed: " + e.Reason
}

// Err returns nil on success and a *RecognitionError otherwise.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return &RecognitionError{Reason: r.Reason}
}

func (r Result) String() string {
	if r.Success {
		return fmt.Sprintf("%s (%.2f)", r.Shape, r.Confidence)
	}
	return "failure: " + r.Reason
}
