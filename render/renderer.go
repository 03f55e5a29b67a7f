// Package render draws stroke sets into double buffered pixel surfaces.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/gogpu/gg"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/juruen/inkcore/ink"
	"github.com/juruen/inkcore/log"
)

// maxSurfaceSide bounds allocations for a single buffer.
const maxSurfaceSide = 16384

// highlighterAlpha replaces the alpha of highlighter strokes.
const highlighterAlpha = 0x60

type buffer struct {
	pm *gg.Pixmap
	dc *gg.Context
}

func newBuffer(width, height int) *buffer {
	pm := gg.NewPixmap(width, height)
	return &buffer{pm: pm, dc: gg.NewContext(width, height, gg.WithPixmap(pm))}
}

func (b *buffer) close() {
	_ = b.dc.Close()
}

// Renderer owns a front and a back buffer of the same size. Draw calls go
// to the back buffer, SwapBuffers publishes it.
type Renderer struct {
	// mu serializes renders and re-initialization.
	mu sync.Mutex
	// swapMu guards which buffer is front.
	swapMu sync.RWMutex

	front, back *buffer
	width       int
	height      int
	background  gg.RGBA
	res         *ResourceCache
}

// NewRenderer allocates both buffers. A nil cache gets a private one.
func NewRenderer(width, height int, background color.RGBA, res *ResourceCache) (*Renderer, error) {
	if res == nil {
		res = NewResourceCache(0)
	}
	r := &Renderer{background: toRGBA(background), res: res}
	if err := r.allocate(width, height); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Renderer) allocate(width, height int) error {
	if width <= 0 || height <= 0 || width > maxSurfaceSide || height > maxSurfaceSide {
		err := &ink.ResourceError{Op: "allocate", Err: fmt.Errorf("invalid surface size %dx%d", width, height)}
		log.Error.Println(err)
		return err
	}
	if r.front != nil {
		r.front.close()
		r.back.close()
	}
	r.front = newBuffer(width, height)
	r.back = newBuffer(width, height)
	r.front.dc.ClearWithColor(r.background)
	r.back.dc.ClearWithColor(r.background)
	r.width, r.height = width, height
	return nil
}

// Initialize discards both buffers and reallocates them at the new size.
// It waits for an in-flight render to finish.
func (r *Renderer) Initialize(width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.swapMu.Lock()
	defer r.swapMu.Unlock()

	if err := r.allocate(width, height); err != nil {
		return err
	}
	r.res.ClearAllCaches()
	log.Trace.Printf("renderer: surface reinitialized at %dx%d", width, height)
	return nil
}

func (r *Renderer) Size() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

func (r *Renderer) Resources() *ResourceCache {
	return r.res
}

// RenderStrokes clears the back buffer and draws every stroke that
// intersects bounds. An empty bounds draws everything. Call SwapBuffers to
// publish the result.
func (r *Renderer) RenderStrokes(strokes []*ink.StrokeData, bounds ink.Rect) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renderLocked(strokes, bounds, false)
}

// RenderIncremental copies the front buffer into the back buffer and draws
// only newStrokes on top of it. Call SwapBuffers to publish the result.
func (r *Renderer) RenderIncremental(newStrokes []*ink.StrokeData, bounds ink.Rect) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renderLocked(newStrokes, bounds, true)
}

// RenderFrame renders and swaps without letting another render run in
// between. A failed frame is not swapped.
func (r *Renderer) RenderFrame(strokes []*ink.StrokeData, bounds ink.Rect, incremental bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.renderLocked(strokes, bounds, incremental); err != nil {
		return err
	}
	r.swapLocked()
	return nil
}

func (r *Renderer) renderLocked(strokes []*ink.StrokeData, bounds ink.Rect, incremental bool) error {
	if r.back == nil {
		return &ink.ResourceError{Op: "render", Err: errors.New("renderer closed")}
	}
	if incremental {
		r.swapMu.RLock()
		copy(r.back.pm.Data(), r.front.pm.Data())
		r.swapMu.RUnlock()
	} else {
		r.back.dc.ClearWithColor(r.background)
	}
	return r.drawAll(strokes, bounds)
}

func (r *Renderer) drawAll(strokes []*ink.StrokeData, bounds ink.Rect) error {
	for _, s := range strokes {
		if s == nil || len(s.Points) == 0 || s.IsErasedPart || !Visible(s, bounds) {
			continue
		}
		if err := r.drawStroke(r.back.dc, s); err != nil {
			rerr := &ink.ResourceError{Op: "render", Err: errors.Wrapf(err, "stroke %s", s.ID)}
			log.Error.Println(rerr)
			return rerr
		}
	}
	return nil
}

// Visible reports whether a frame limited to bounds draws s. An empty
// bounds draws everything.
func Visible(s *ink.StrokeData, bounds ink.Rect) bool {
	if bounds.IsEmpty() {
		return true
	}
	return s.DrawnBounds().Inflate(s.Attributes.Width).Intersects(bounds)
}

func geometryKey(s *ink.StrokeData) string {
	return fmt.Sprintf("%s/%d", s.ID, len(s.Points))
}

// strokePath builds the path for a stroke. Single points become dots.
func strokePath(s *ink.StrokeData) *gg.Path {
	p := gg.NewPath()
	if len(s.Points) == 1 {
		radius := s.Attributes.Width / 2
		if radius <= 0 {
			radius = 0.5
		}
		p.Circle(s.Points[0].X, s.Points[0].Y, radius)
		return p
	}
	p.MoveTo(s.Points[0].X, s.Points[0].Y)
	for _, pt := range s.Points[1:] {
		p.LineTo(pt.X, pt.Y)
	}
	return p
}

func replay(dc *gg.Context, p *gg.Path) {
	for _, e := range p.Elements() {
		switch el := e.(type) {
		case gg.MoveTo:
			dc.MoveTo(el.Point.X, el.Point.Y)
		case gg.LineTo:
			dc.LineTo(el.Point.X, el.Point.Y)
		case gg.QuadTo:
			dc.QuadraticTo(el.Control.X, el.Control.Y, el.Point.X, el.Point.Y)
		case gg.CubicTo:
			dc.CubicTo(el.Control1.X, el.Control1.Y, el.Control2.X, el.Control2.Y, el.Point.X, el.Point.Y)
		case gg.Close:
			dc.ClosePath()
		}
	}
}

func (r *Renderer) drawStroke(dc *gg.Context, s *ink.StrokeData) error {
	attrs := s.Attributes
	c := attrs.Color
	if attrs.Highlighter {
		c.A = highlighterAlpha
	}
	width := attrs.Width
	if width <= 0 {
		width = 1
	}

	path := r.res.Geometry(geometryKey(s), func() *gg.Path { return strokePath(s) })

	dc.Push()
	defer dc.Pop()
	if !attrs.Transform.IsIdentity() {
		m := attrs.Transform
		dc.Transform(gg.Matrix{A: m.A, B: m.B, C: m.C, D: m.D, E: m.E, F: m.F})
	}

	dc.ClearPath()
	replay(dc, path)

	if len(s.Points) == 1 {
		dc.SetFillBrush(r.res.Brush(c))
		return dc.Fill()
	}
	pen := r.res.Pen(c, width, attrs.DashPattern)
	dc.SetStrokeBrush(pen.Brush)
	dc.SetStroke(pen.Style)
	return dc.Stroke()
}

// SwapBuffers makes the last rendered buffer the front buffer. It never
// runs while a render is drawing.
func (r *Renderer) SwapBuffers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swapLocked()
}

func (r *Renderer) swapLocked() {
	r.swapMu.Lock()
	r.front, r.back = r.back, r.front
	r.swapMu.Unlock()
}

// RenderToSurface copies the front buffer into dst at rect. The front
// buffer cannot change while the copy runs.
func (r *Renderer) RenderToSurface(dst draw.Image, rect image.Rectangle) error {
	if dst == nil {
		return &ink.ResourceError{Op: "present", Err: errors.New("nil surface")}
	}
	r.swapMu.RLock()
	defer r.swapMu.RUnlock()

	if r.front == nil {
		return &ink.ResourceError{Op: "present", Err: errors.New("renderer closed")}
	}
	if rect.Empty() {
		rect = dst.Bounds()
	}
	draw.Draw(dst, rect, r.front.pm.ToImage(), image.Point{}, draw.Src)
	return nil
}

// Snapshot returns a copy of the front buffer.
func (r *Renderer) Snapshot() *image.RGBA {
	r.swapMu.RLock()
	defer r.swapMu.RUnlock()
	if r.front == nil {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	return r.front.pm.ToImage()
}

// Thumbnail scales the front buffer to fit maxWidth x maxHeight keeping
// the aspect ratio.
func (r *Renderer) Thumbnail(maxWidth, maxHeight uint) image.Image {
	return resize.Thumbnail(maxWidth, maxHeight, r.Snapshot(), resize.Bilinear)
}

// Close releases both buffers and the cached resources.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swapMu.Lock()
	defer r.swapMu.Unlock()

	if r.front != nil {
		r.front.close()
		r.back.close()
		r.front, r.back = nil, nil
	}
	r.res.ClearAllCaches()
}
