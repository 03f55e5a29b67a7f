package render

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/gogpu/gg"
	"github.com/gogpu/gg/cache"
)

const defaultCacheCapacity = 64

// Pen is a brush plus a stroke style.
type Pen struct {
	Brush gg.SolidBrush
	Style gg.Stroke
}

// ResourceCache keeps drawing resources between frames. Entries are
// created on first use and never modified afterwards, so they can be
// shared between goroutines.
type ResourceCache struct {
	brushes  *cache.ShardedCache[string, gg.SolidBrush]
	pens     *cache.ShardedCache[string, Pen]
	geometry *cache.ShardedCache[string, *gg.Path]
}

// NewResourceCache creates a cache holding roughly capacity*16 entries of
// each kind. capacity <= 0 selects a default.
func NewResourceCache(capacity int) *ResourceCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &ResourceCache{
		brushes:  cache.NewSharded[string, gg.SolidBrush](capacity, cache.StringHasher),
		pens:     cache.NewSharded[string, Pen](capacity, cache.StringHasher),
		geometry: cache.NewSharded[string, *gg.Path](capacity, cache.StringHasher),
	}
}

func colorKey(c color.RGBA) string {
	return fmt.Sprintf("%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

func toRGBA(c color.RGBA) gg.RGBA {
	return gg.RGBA2(float64(c.R)/255, float64(c.G)/255, float64(c.B)/255, float64(c.A)/255)
}

// Brush returns the solid brush for c.
func (rc *ResourceCache) Brush(c color.RGBA) gg.SolidBrush {
	return rc.brushes.GetOrCreate(colorKey(c), func() gg.SolidBrush {
		return gg.Solid(toRGBA(c))
	})
}

// Pen returns the pen for the colour, width and dash pattern.
func (rc *ResourceCache) Pen(c color.RGBA, width float64, dash []float64) Pen {
	var key strings.Builder
	fmt.Fprintf(&key, "%s/%g", colorKey(c), width)
	for _, d := range dash {
		fmt.Fprintf(&key, ",%g", d)
	}

	return rc.pens.GetOrCreate(key.String(), func() Pen {
		style := gg.DefaultStroke().
			WithWidth(width).
			WithCap(gg.LineCapRound).
			WithJoin(gg.LineJoinRound)
		if len(dash) > 0 {
			style = style.WithDashPattern(dash...)
		}
		return Pen{Brush: rc.Brush(c), Style: style}
	})
}

// Geometry returns the path stored under key, building it when missing.
// The returned path is shared and must not be modified.
func (rc *ResourceCache) Geometry(key string, build func() *gg.Path) *gg.Path {
	return rc.geometry.GetOrCreate(key, build)
}

// ClearAllCaches drops every cached resource.
func (rc *ResourceCache) ClearAllCaches() {
	rc.brushes.Clear()
	rc.pens.Clear()
	rc.geometry.Clear()
}

// CacheStats summarizes the three caches.
type CacheStats struct {
	Brushes  cache.Stats
	Pens     cache.Stats
	Geometry cache.Stats
}

func (rc *ResourceCache) Stats() CacheStats {
	return CacheStats{
		Brushes:  rc.brushes.Stats(),
		Pens:     rc.pens.Stats(),
		Geometry: rc.geometry.Stats(),
	}
}
