package rm

import (
	"image/color"

	"github.com/juruen/inkcore/ink"
)

// ExtBrushType keeps the original brush of an imported line so that it
// survives an export.
const ExtBrushType = "rm.brushType"

var (
	colorBlack       = color.RGBA{A: 0xff}
	colorGrey        = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
	colorWhite       = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	colorHighlighter = color.RGBA{R: 0xff, G: 0xeb, B: 0x3b, A: 0xff}
)

func (c BrushColor) RGBA() color.RGBA {
	switch c {
	case Grey:
		return colorGrey
	case White:
		return colorWhite
	default:
		return colorBlack
	}
}

// nearestColor maps an arbitrary color onto the three device colors by
// luminance.
func nearestColor(c color.RGBA) BrushColor {
	y := (299*uint32(c.R) + 587*uint32(c.G) + 114*uint32(c.B)) / 1000
	switch {
	case y < 0x40:
		return Black
	case y > 0xc0:
		return White
	default:
		return Grey
	}
}

// ToStrokes converts every drawn line of every layer, oldest first.
// Eraser lines and lines without points are dropped.
func ToStrokes(page *Rm) []*ink.StrokeData {
	var strokes []*ink.StrokeData
	for _, layer := range page.Layers {
		for _, line := range layer.Lines {
			if len(line.Points) == 0 || line.BrushType.IsEraser() {
				continue
			}
			strokes = append(strokes, lineToStroke(line))
		}
	}
	return strokes
}

func lineToStroke(line Line) *ink.StrokeData {
	attrs := ink.DefaultAttributes()
	attrs.Color = line.BrushColor.RGBA()

	var width float64
	points := make([]ink.StrokePoint, len(line.Points))
	for i, p := range line.Points {
		points[i] = ink.StrokePoint{
			X:        float64(p.X),
			Y:        float64(p.Y),
			Pressure: p.Pressure,
			TiltX:    p.Direction,
		}
		width += float64(p.Width)
	}
	width /= float64(len(line.Points))
	if width <= 0 {
		width = float64(line.BrushSize)
	}
	attrs.Width = width

	if line.BrushType.IsHighlighter() {
		attrs.Highlighter = true
		attrs.Color = colorHighlighter
	}

	s := ink.NewStroke(points, attrs)
	s.Extensions = map[string]any{ExtBrushType: uint32(line.BrushType)}
	return s
}

// FromStrokes builds a single layer page. Transforms are applied to the
// points since the format has no notion of them.
func FromStrokes(strokes []*ink.StrokeData) *Rm {
	layer := Layer{}
	for _, s := range strokes {
		if s == nil || len(s.Points) == 0 || s.IsErasedPart {
			continue
		}
		layer.Lines = append(layer.Lines, strokeToLine(s))
	}
	return &Rm{Version: V5, Layers: []Layer{layer}}
}

func strokeToLine(s *ink.StrokeData) Line {
	line := Line{
		BrushType:  brushType(s),
		BrushColor: nearestColor(s.Attributes.Color),
		BrushSize:  Medium,
		Points:     make([]Point, len(s.Points)),
	}
	for i, p := range s.Points {
		pt := s.Attributes.Transform.Apply(p.Point())
		line.Points[i] = Point{
			X:         float32(pt.X),
			Y:         float32(pt.Y),
			Direction: p.TiltX,
			Width:     float32(s.Attributes.Width),
			Pressure:  p.Pressure,
		}
	}
	return line
}

func brushType(s *ink.StrokeData) BrushType {
	// extensions decoded from JSON hold float64
	switch v := s.Extensions[ExtBrushType].(type) {
	case uint32:
		return BrushType(v)
	case float64:
		return BrushType(v)
	case int:
		return BrushType(v)
	}
	if s.Attributes.Highlighter {
		return HighlighterV5
	}
	return FinelinerV5
}
