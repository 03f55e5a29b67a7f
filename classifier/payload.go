package classifier

import (
	"github.com/juruen/inkcore/ink"
)

// downsamplePoints reduces the number of points in a stroke to reduce payload size
// Uses adaptive sampling: keeps every Nth point based on stroke length
func downsamplePoints(points []ink.StrokePoint) []ink.StrokePoint {
	if len(points) <= 2 {
		return points
	}

	sampleRate := 1
	if len(points) > 2000 {
		sampleRate = 6
	} else if len(points) > 1000 {
		sampleRate = 4
	} else if len(points) > 500 {
		sampleRate = 3
	} else if len(points) > 200 {
		sampleRate = 2
	}

	// always keep first and last points
	result := make([]ink.StrokePoint, 0, len(points)/sampleRate+2)
	result = append(result, points[0])
	for i := sampleRate; i < len(points)-1; i += sampleRate {
		result = append(result, points[i])
	}

	last := points[len(points)-1]
	if last.X != points[0].X || last.Y != points[0].Y {
		result = append(result, last)
	}
	return result
}

// roundFloat32 rounds to the given number of decimals.
func roundFloat32(val float64, decimals int) float32 {
	multiplier := 1.0
	for i := 0; i < decimals; i++ {
		multiplier *= 10
	}
	if val < 0 {
		return float32(float64(int(val*multiplier-0.5)) / multiplier)
	}
	return float32(float64(int(val*multiplier+0.5)) / multiplier)
}

func normalizePressure(p float32) float32 {
	switch {
	case p <= 0:
		return 0.5
	case p > 1:
		p /= 10
		if p > 1 {
			p = 1
		}
	}
	return p
}

// newStroke converts a stroke, applying its transform so the service sees
// canvas coordinates. Timestamps are only sent for short strokes.
func newStroke(s *ink.StrokeData) *Stroke {
	points := downsamplePoints(s.Points)
	includeTimestamps := len(points) < 100

	out := &Stroke{
		X:           make([]float32, 0, len(points)),
		Y:           make([]float32, 0, len(points)),
		P:           make([]float32, 0, len(points)),
		PointerType: "PEN",
	}
	if includeTimestamps {
		out.T = make([]int64, 0, len(points))
	}

	for _, p := range points {
		pt := s.Attributes.Transform.Apply(p.Point())
		out.X = append(out.X, roundFloat32(pt.X, 1))
		out.Y = append(out.Y, roundFloat32(pt.Y, 1))
		out.P = append(out.P, roundFloat32(float64(normalizePressure(p.Pressure)), 2))
		if includeTimestamps {
			out.T = append(out.T, p.Timestamp)
		}
	}
	return out
}

func newBatchInput(strokes []*ink.StrokeData, shapes []string, width, height int32) *BatchInput {
	group := &StrokeGroup{}
	for _, s := range strokes {
		if len(s.Points) == 0 || s.IsErasedPart {
			continue
		}
		group.Strokes = append(group.Strokes, newStroke(s))
	}
	return &BatchInput{
		Configuration: &Configuration{Shapes: shapes},
		ContentType:   "Shape",
		StrokeGroups:  []*StrokeGroup{group},
		Width:         width,
		Height:        height,
	}
}
