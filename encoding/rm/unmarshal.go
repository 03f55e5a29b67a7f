package rm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// maxCount bounds layer, line and point counts read from a page so a
// corrupt header can't trigger a huge allocation.
const maxCount = 1 << 20

// UnmarshalBinary implements encoding.BinaryUnmarshaler for v3 and v5
// pages.
func (rm *Rm) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	if err := r.checkHeader(); err != nil {
		return err
	}
	rm.Version = r.version

	if r.version == V6 {
		return ErrUnsupportedVersion
	}

	nbLayers, err := r.readCount()
	if err != nil {
		return err
	}

	rm.Layers = make([]Layer, nbLayers)
	for i := uint32(0); i < nbLayers; i++ {
		nbLines, err := r.readCount()
		if err != nil {
			return err
		}

		rm.Layers[i].Lines = make([]Line, nbLines)
		for j := uint32(0); j < nbLines; j++ {
			line, err := r.readLine()
			if err != nil {
				return fmt.Errorf("layer %d line %d: %w", i, j, err)
			}
			rm.Layers[i].Lines[j] = line
		}
	}

	return nil
}

type reader struct {
	bytes.Reader
	version Version
}

func newReader(data []byte) *reader {
	// the real version is set by checkHeader
	return &reader{Reader: *bytes.NewReader(data), version: V5}
}

func (r *reader) checkHeader() error {
	buf := make([]byte, HeaderLen)

	n, err := r.Read(buf)
	if err != nil {
		return fmt.Errorf("rm: can't read header: %w", err)
	}

	if n != HeaderLen {
		return fmt.Errorf("rm: wrong header size %d", n)
	}

	switch string(buf) {
	case HeaderV5:
		r.version = V5
	case HeaderV3:
		r.version = V3
	case HeaderV6:
		r.version = V6
	default:
		if strings.Contains(string(buf), "version=6") {
			r.version = V6
		} else {
			return fmt.Errorf("rm: unknown header %q", strings.TrimSpace(string(buf)))
		}
	}

	return nil
}

func (r *reader) readNumber() (uint32, error) {
	var nb uint32
	if err := binary.Read(r, binary.LittleEndian, &nb); err != nil {
		return 0, fmt.Errorf("rm: wrong number read: %w", err)
	}
	return nb, nil
}

func (r *reader) readCount() (uint32, error) {
	n, err := r.readNumber()
	if err != nil {
		return 0, err
	}
	if n > maxCount {
		return 0, fmt.Errorf("rm: count %d too large", n)
	}
	return n, nil
}

func (r *reader) readLine() (Line, error) {
	var line Line

	header := []any{&line.BrushType, &line.BrushColor, &line.Padding, &line.BrushSize}
	// this attribute was added in v5
	if r.version == V5 {
		header = append(header, &line.Unknown)
	}
	for _, field := range header {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return line, fmt.Errorf("rm: failed to read line: %w", err)
		}
	}

	nbPoints, err := r.readCount()
	if err != nil {
		return line, err
	}

	if nbPoints == 0 {
		return line, nil
	}

	line.Points = make([]Point, nbPoints)
	for i := uint32(0); i < nbPoints; i++ {
		if err := binary.Read(r, binary.LittleEndian, &line.Points[i]); err != nil {
			return line, fmt.Errorf("rm: failed to read point %d: %w", i, err)
		}
	}

	return line, nil
}
