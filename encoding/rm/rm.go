// Package rm reads and writes reMarkable .lines pages and converts them to
// and from ink strokes.
package rm

import (
	"errors"
	"fmt"
	"os"
)

// Version of the .lines format.
type Version int

const (
	V3 Version = iota
	V5
	V6
)

const (
	HeaderV3  = "reMarkable .lines file, version=3          "
	HeaderV5  = "reMarkable .lines file, version=5          "
	HeaderV6  = "reMarkable .lines file, version=6          "
	HeaderLen = 43
)

// ErrUnsupportedVersion is returned for v6 pages, which use a tagged block
// format this package does not read.
var ErrUnsupportedVersion = errors.New("rm: unsupported .lines version")

type BrushColor uint32

const (
	Black BrushColor = 0
	Grey  BrushColor = 1
	White BrushColor = 2
)

type BrushType uint32

const (
	PaintBrush    BrushType = 0
	TiltPencil    BrushType = 1
	BallPoint     BrushType = 2
	Marker        BrushType = 3
	Fineliner     BrushType = 4
	Highlighter   BrushType = 5
	Eraser        BrushType = 6
	SharpPencil   BrushType = 7
	EraseArea     BrushType = 8
	PaintBrushV5  BrushType = 12
	SharpPencilV5 BrushType = 13
	TiltPencilV5  BrushType = 14
	BallPointV5   BrushType = 15
	MarkerV5      BrushType = 16
	FinelinerV5   BrushType = 17
	HighlighterV5 BrushType = 18
	CalligraphyV5 BrushType = 21
)

func (b BrushType) IsHighlighter() bool {
	return b == Highlighter || b == HighlighterV5
}

func (b BrushType) IsEraser() bool {
	return b == Eraser || b == EraseArea
}

type BrushSize float32

const (
	Small  BrushSize = 1.875
	Medium BrushSize = 2.0
	Large  BrushSize = 2.125
)

// Rm is one page.
type Rm struct {
	Version Version
	Layers  []Layer
}

type Layer struct {
	Lines []Line
}

type Line struct {
	BrushType  BrushType
	BrushColor BrushColor
	Padding    uint32
	BrushSize  BrushSize
	// only present in v5
	Unknown float32
	Points  []Point
}

type Point struct {
	X         float32
	Y         float32
	Speed     float32
	Direction float32
	Width     float32
	Pressure  float32
}

// ReadFile loads a page from disk.
func ReadFile(path string) (*Rm, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	page := &Rm{}
	if err := page.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return page, nil
}

// WriteFile stores page as a v5 .lines file.
func WriteFile(path string, page *Rm) error {
	data, err := page.MarshalBinary()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
