package recognition

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/juruen/inkcore/ink"
)

// Fingerprint hashes every point and the style of each stroke, in order.
// Two stroke sets share a fingerprint only when they are geometrically
// identical.
func Fingerprint(strokes []*ink.StrokeData) string {
	h := sha256.New()
	buf := make([]byte, 8)
	writeFloat := func(f float64) {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		h.Write(buf)
	}

	for _, s := range strokes {
		binary.LittleEndian.PutUint64(buf, uint64(len(s.Points)))
		h.Write(buf)
		for _, p := range s.Points {
			writeFloat(p.X)
			writeFloat(p.Y)
			writeFloat(float64(p.Pressure))
		}
		a := s.Attributes
		h.Write([]byte{a.Color.R, a.Color.G, a.Color.B, a.Color.A})
		writeFloat(a.Width)
		m := a.Transform
		for _, v := range []float64{m.A, m.B, m.C, m.D, m.E, m.F} {
			writeFloat(v)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FastFingerprint only looks at point counts and endpoints. Different
// drawings with the same endpoints collide.
func FastFingerprint(strokes []*ink.StrokeData) string {
	var b strings.Builder
	for _, s := range strokes {
		fmt.Fprintf(&b, "%d", len(s.Points))
		if n := len(s.Points); n > 0 {
			first, last := s.Points[0], s.Points[n-1]
			fmt.Fprintf(&b, ":%.1f,%.1f:%.1f,%.1f", first.X, first.Y, last.X, last.Y)
		}
		b.WriteByte(';')
	}
	return b.String()
}
