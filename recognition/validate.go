package recognition

import (
	"math"

	"github.com/juruen/inkcore/ink"
)

const (
	minCircleAspect = 0.7
	minSquareAspect = 0.8
)

// supported reports whether kind may be returned as a result.
func supported(kind ink.ShapeType, polygons bool) bool {
	switch kind {
	case ink.ShapeNone, ink.ShapeCustom:
		return false
	}
	if kind.IsPolygon() {
		return polygons
	}
	return kind > ink.ShapeNone && kind < ink.ShapeCustom
}

func aspect(r ink.Rect) float64 {
	lo, hi := math.Min(r.Width, r.Height), math.Max(r.Width, r.Height)
	if hi <= 0 {
		return 0
	}
	return lo / hi
}

// validateGeometry returns an empty string when the candidate is a
// plausible drawing of its kind, otherwise the reason it is not.
func validateGeometry(c Candidate, strokeBounds ink.Rect) string {
	box := c.Bounds
	if box.IsEmpty() {
		box = strokeBounds
	}

	switch c.Kind {
	case ink.ShapeCircle:
		if a := aspect(box); a < minCircleAspect {
			return "circle aspect ratio too low"
		}
	case ink.ShapeSquare:
		if a := aspect(box); a < minSquareAspect {
			return "square aspect ratio too low"
		}
	case ink.ShapeEllipse:
		if box.Width <= 0 || box.Height <= 0 {
			return "degenerate ellipse"
		}
	}

	if n := c.Kind.MinVertices(); n > 0 && len(c.Points) < n {
		return c.Kind.String() + " has too few vertices"
	}
	return ""
}
