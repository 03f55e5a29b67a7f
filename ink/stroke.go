package ink

import (
	"fmt"
	"image/color"
	"math"
	"time"

	"github.com/google/uuid"
)

// StrokePoint is a single pen sample.
type StrokePoint struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Pressure  float32 `json:"pressure,omitempty"`
	TiltX     float32 `json:"tiltX,omitempty"`
	TiltY     float32 `json:"tiltY,omitempty"`
	Timestamp int64   `json:"t,omitempty"`
}

func (p StrokePoint) Point() Point {
	return Point{X: p.X, Y: p.Y}
}

// DrawingAttributes is the style of a stroke. The renderer treats it as an
// immutable value.
type DrawingAttributes struct {
	Color       color.RGBA `json:"color"`
	Width       float64    `json:"width"`
	DashPattern []float64  `json:"dash,omitempty"`
	Transform   Matrix     `json:"transform"`
	Highlighter bool       `json:"highlighter,omitempty"`
}

// DefaultAttributes is a 2px black pen.
func DefaultAttributes() DrawingAttributes {
	return DrawingAttributes{
		Color:     color.RGBA{A: 0xff},
		Width:     2,
		Transform: IdentityMatrix(),
	}
}

// StrokeData is one finished gesture. It carries no reference to the
// engine holding it, lookups go through the engine's index.
type StrokeData struct {
	ID           uuid.UUID         `json:"id"`
	Points       []StrokePoint     `json:"points"`
	Attributes   DrawingAttributes `json:"attributes"`
	ShapeType    ShapeType         `json:"shapeType"`
	IsShape      bool              `json:"isShape"`
	CreatedAt    time.Time         `json:"createdAt"`
	IsLocked     bool              `json:"isLocked,omitempty"`
	IsErasedPart bool              `json:"isErasedPart,omitempty"`
	// Extensions holds values no typed field covers. Treated as opaque.
	Extensions map[string]any `json:"extensions,omitempty"`
}

// NewStroke creates a free-hand stroke with a fresh identity.
func NewStroke(points []StrokePoint, attrs DrawingAttributes) *StrokeData {
	return &StrokeData{
		ID:         uuid.New(),
		Points:     points,
		Attributes: attrs,
		CreatedAt:  time.Now(),
	}
}

// NewShape creates a synthesized shape stroke, e.g. a beautified circle.
func NewShape(shape ShapeType, points []StrokePoint, attrs DrawingAttributes) *StrokeData {
	s := NewStroke(points, attrs)
	s.SetShapeType(shape)
	return s
}

// SetShapeType keeps IsShape in sync with the shape type.
func (s *StrokeData) SetShapeType(shape ShapeType) {
	s.ShapeType = shape
	s.IsShape = shape != ShapeNone
}

// Validate checks the invariants every stroke entering the engine must hold.
func (s *StrokeData) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil stroke", ErrInvalidStroke)
	}
	if s.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalidStroke)
	}
	if s.IsShape != (s.ShapeType != ShapeNone) {
		return fmt.Errorf("%w: isShape=%v with shape type %s", ErrInvalidStroke, s.IsShape, s.ShapeType)
	}
	for i, p := range s.Points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return fmt.Errorf("%w: point %d is not finite", ErrInvalidStroke, i)
		}
	}
	return nil
}

// Bounds is the min/max over all points, EmptyRect without points.
// The stroke width is not included.
func (s *StrokeData) Bounds() Rect {
	if len(s.Points) == 0 {
		return EmptyRect
	}
	minX, minY := s.Points[0].X, s.Points[0].Y
	maxX, maxY := minX, minY
	for _, p := range s.Points[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Clone returns a deep copy that can be handed to another goroutine.
func (s *StrokeData) Clone() *StrokeData {
	if s == nil {
		return nil
	}
	c := *s
	c.Points = append([]StrokePoint(nil), s.Points...)
	c.Attributes.DashPattern = append([]float64(nil), s.Attributes.DashPattern...)
	if s.Extensions != nil {
		c.Extensions = make(map[string]any, len(s.Extensions))
		for k, v := range s.Extensions {
			c.Extensions[k] = v
		}
	}
	return &c
}

// DrawnBounds is Bounds after the stroke transform, the area the stroke
// covers once drawn. The stroke width is not included.
func (s *StrokeData) DrawnBounds() Rect {
	m := s.Attributes.Transform
	if m.IsIdentity() {
		return s.Bounds()
	}
	r := EmptyRect
	for _, p := range s.Points {
		q := m.Apply(p.Point())
		r = r.Union(Rect{X: q.X, Y: q.Y})
	}
	return r
}

// drawnPoints returns the points in canvas coordinates.
func (s *StrokeData) drawnPoints() []Point {
	m := s.Attributes.Transform
	out := make([]Point, len(s.Points))
	for i, p := range s.Points {
		out[i] = m.Apply(p.Point())
	}
	return out
}

// HitPoint reports whether p lies within tolerance of the drawn stroke.
// p is in canvas coordinates, the stroke transform is applied first.
func (s *StrokeData) HitPoint(p Point, tolerance float64) bool {
	if len(s.Points) == 0 {
		return false
	}
	reach := tolerance + s.Attributes.Width/2
	if !s.DrawnBounds().Inflate(reach).Contains(p) {
		return false
	}
	pts := s.drawnPoints()
	if len(pts) == 1 {
		return distance(p, pts[0]) <= reach
	}
	for i := 1; i < len(pts); i++ {
		if segmentDistance(p, pts[i-1], pts[i]) <= reach {
			return true
		}
	}
	return false
}

// HitRect reports whether any part of the drawn stroke path lies inside r.
func (s *StrokeData) HitRect(r Rect) bool {
	if len(s.Points) == 0 || !s.DrawnBounds().Intersects(r) {
		return false
	}
	pts := s.drawnPoints()
	if len(pts) == 1 {
		return r.Contains(pts[0])
	}
	for i := 1; i < len(pts); i++ {
		if segmentIntersectsRect(pts[i-1], pts[i], r) {
			return true
		}
	}
	return false
}

// UnionBounds returns the union of every stroke's bounds.
func UnionBounds(strokes []*StrokeData) Rect {
	r := EmptyRect
	for _, s := range strokes {
		r = r.Union(s.Bounds())
	}
	return r
}
