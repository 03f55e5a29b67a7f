package ink

import (
	"fmt"
	"strings"
)

// ShapeType is the geometric interpretation attached to a stroke.
type ShapeType int

const (
	ShapeNone ShapeType = iota
	ShapeLine
	ShapeCircle
	ShapeEllipse
	ShapeTriangle
	ShapeRectangle
	ShapeSquare
	ShapeDiamond
	ShapeParallelogram
	ShapeTrapezoid
	ShapePentagon
	ShapeHexagon
	ShapeCustom
)

var shapeNames = [...]string{
	ShapeNone:          "None",
	ShapeLine:          "Line",
	ShapeCircle:        "Circle",
	ShapeEllipse:       "Ellipse",
	ShapeTriangle:      "Triangle",
	ShapeRectangle:     "Rectangle",
	ShapeSquare:        "Square",
	ShapeDiamond:       "Diamond",
	ShapeParallelogram: "Parallelogram",
	ShapeTrapezoid:     "Trapezoid",
	ShapePentagon:      "Pentagon",
	ShapeHexagon:       "Hexagon",
	ShapeCustom:        "Custom",
}

func (s ShapeType) String() string {
	if s < 0 || int(s) >= len(shapeNames) {
		return fmt.Sprintf("ShapeType(%d)", int(s))
	}
	return shapeNames[s]
}

// ParseShapeType is case insensitive.
func ParseShapeType(name string) (ShapeType, error) {
	for i, n := range shapeNames {
		if strings.EqualFold(n, name) {
			return ShapeType(i), nil
		}
	}
	return ShapeNone, fmt.Errorf("unknown shape type %q", name)
}

// MinVertices is the number of corners a drawing of the shape must have.
// Curves and lines report 0.
func (s ShapeType) MinVertices() int {
	switch s {
	case ShapeTriangle:
		return 3
	case ShapeRectangle, ShapeSquare, ShapeDiamond, ShapeParallelogram, ShapeTrapezoid:
		return 4
	case ShapePentagon:
		return 5
	case ShapeHexagon:
		return 6
	}
	return 0
}

// IsPolygon reports the shapes that are only recognized when polygon
// recognition is enabled.
func (s ShapeType) IsPolygon() bool {
	switch s {
	case ShapeDiamond, ShapeParallelogram, ShapeTrapezoid, ShapePentagon, ShapeHexagon:
		return true
	}
	return false
}

func (s ShapeType) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ShapeType) UnmarshalText(b []byte) error {
	v, err := ParseShapeType(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
