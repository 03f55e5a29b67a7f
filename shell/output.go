package shell

import (
	"encoding/json"
	"fmt"

	"github.com/abiosoft/ishell"

	"github.com/juruen/inkcore/ink"
)

type StrokeJSON struct {
	ID        string   `json:"id"`
	Points    int      `json:"points"`
	Bounds    ink.Rect `json:"bounds"`
	Shape     string   `json:"shape,omitempty"`
	Width     float64  `json:"width"`
	Color     string   `json:"color"`
	Locked    bool     `json:"locked,omitempty"`
	CreatedAt string   `json:"createdAt"`
}

func colorHex(s *ink.StrokeData) string {
	c := s.Attributes.Color
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

func StrokeToJSON(s *ink.StrokeData) StrokeJSON {
	out := StrokeJSON{
		ID:        s.ID.String(),
		Points:    len(s.Points),
		Bounds:    s.Bounds(),
		Width:     s.Attributes.Width,
		Color:     colorHex(s),
		Locked:    s.IsLocked,
		CreatedAt: s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if s.IsShape {
		out.Shape = s.ShapeType.String()
	}
	return out
}

func formatStroke(s *ink.StrokeData) string {
	kind := "s"
	if s.IsShape {
		kind = s.ShapeType.String()
	}
	b := s.Bounds()
	return fmt.Sprintf("[%s]\t%s\t%d pts\t(%.0f,%.0f %.0fx%.0f)", kind, s.ID, len(s.Points), b.X, b.Y, b.Width, b.Height)
}

func strokesJSON(strokes []*ink.StrokeData) ([]byte, error) {
	jsonStrokes := make([]StrokeJSON, len(strokes))
	for i, s := range strokes {
		jsonStrokes[i] = StrokeToJSON(s)
	}
	return json.MarshalIndent(jsonStrokes, "", "  ")
}

func displayStrokes(c *ishell.Context, strokes []*ink.StrokeData, asJSON bool) error {
	if asJSON {
		output, err := strokesJSON(strokes)
		if err != nil {
			return err
		}
		c.Println(string(output))
		return nil
	}
	for _, s := range strokes {
		c.Println(formatStroke(s))
	}
	return nil
}
