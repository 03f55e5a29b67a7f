package shell

import (
	"context"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juruen/inkcore/encoding/rm"
	"github.com/juruen/inkcore/engine"
	"github.com/juruen/inkcore/ink"
)

func newTestEngine(t *testing.T) *engine.Engine {
	opts := engine.DefaultOptions()
	opts.Width, opts.Height = 200, 100
	e, err := engine.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func writePage(t *testing.T) string {
	page := &rm.Rm{Layers: []rm.Layer{{Lines: []rm.Line{
		{BrushType: rm.FinelinerV5, BrushSize: rm.Medium, Points: []rm.Point{{X: 10, Y: 10, Width: 2}, {X: 150, Y: 80, Width: 2}}},
		{BrushType: rm.BallPointV5, BrushSize: rm.Medium, Points: []rm.Point{{X: 20, Y: 50, Width: 3}}},
	}}}}
	path := filepath.Join(t.TempDir(), "page.rm")
	require.NoError(t, rm.WriteFile(path, page))
	return path
}

func TestLoadFile(t *testing.T) {
	e := newTestEngine(t)

	n, err := loadFile(context.Background(), e, writePage(t))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, e.Count())

	_, err = loadFile(context.Background(), e, filepath.Join(t.TempDir(), "missing.rm"))
	assert.Error(t, err)
}

func TestRenderPNG(t *testing.T) {
	e := newTestEngine(t)
	_, err := loadFile(context.Background(), e, writePage(t))
	require.NoError(t, err)

	dir := t.TempDir()
	full := filepath.Join(dir, "full.png")
	require.NoError(t, renderPNG(context.Background(), e, full, false, 0))

	f, err := os.Open(full)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 100, cfg.Height)

	thumb := filepath.Join(dir, "thumb.png")
	require.NoError(t, renderPNG(context.Background(), e, thumb, true, 50))
	tf, err := os.Open(thumb)
	require.NoError(t, err)
	defer tf.Close()
	cfg, err = png.DecodeConfig(tf)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Width)
	assert.Equal(t, 25, cfg.Height)
}

func TestStrokesJSON(t *testing.T) {
	s := ink.NewShape(ink.ShapeCircle, []ink.StrokePoint{{X: 1, Y: 2}, {X: 3, Y: 4}}, ink.DefaultAttributes())
	s.CreatedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	data, err := strokesJSON([]*ink.StrokeData{s})
	require.NoError(t, err)

	var out []StrokeJSON
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 1)
	assert.Equal(t, s.ID.String(), out[0].ID)
	assert.Equal(t, "Circle", out[0].Shape)
	assert.Equal(t, 2, out[0].Points)
	assert.Equal(t, "#000000ff", out[0].Color)
	assert.Equal(t, "2024-01-02T03:04:05Z", out[0].CreatedAt)

	assert.Contains(t, formatStroke(s), "[Circle]")
}

func TestParseIDs(t *testing.T) {
	id := uuid.New()
	ids, err := parseIDs([]string{id.String()})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, ids)

	_, err = parseIDs([]string{"nope"})
	assert.Error(t, err)
}

func TestParseSwitch(t *testing.T) {
	on, err := parseSwitch("on")
	require.NoError(t, err)
	assert.True(t, on)
	off, err := parseSwitch("0")
	require.NoError(t, err)
	assert.False(t, off)
	_, err = parseSwitch("maybe")
	assert.Error(t, err)
}

func TestPathCompleter(t *testing.T) {
	completer := shellPathCompleter{cmdToCompleter{
		"load": func([]string) []string { return []string{"page.rm", "other.rm"} },
		"ls":   nil,
	}}

	newLine, length := completer.Do([]rune("load pa"), 7)
	assert.Equal(t, 2, length)
	assert.Equal(t, [][]rune{[]rune("ge.rm")}, newLine)

	newLine, _ = completer.Do([]rune("l"), 1)
	assert.Len(t, newLine, 2)
}
