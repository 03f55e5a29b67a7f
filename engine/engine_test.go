package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juruen/inkcore/ink"
	"github.com/juruen/inkcore/perf"
	"github.com/juruen/inkcore/recognition"
)

func line(x0, y0, x1, y1 float64) *ink.StrokeData {
	attrs := ink.DefaultAttributes()
	attrs.Width = 4
	return ink.NewStroke([]ink.StrokePoint{{X: x0, Y: y0}, {X: x1, Y: y1}}, attrs)
}

func circleStroke() *ink.StrokeData {
	return ink.NewStroke([]ink.StrokePoint{
		{X: 50, Y: 0}, {X: 100, Y: 49}, {X: 50, Y: 98}, {X: 0, Y: 49},
	}, ink.DefaultAttributes())
}

type countingClassifier struct {
	calls atomic.Int32
}

func (c *countingClassifier) Classify(ctx context.Context, strokes []*ink.StrokeData) ([]recognition.Candidate, error) {
	c.calls.Add(1)
	return []recognition.Candidate{{
		Kind:       ink.ShapeCircle,
		Confidence: 0.95,
		Points:     []ink.Point{{X: 50, Y: 49}},
		Bounds:     ink.Rect{Width: 100, Height: 98},
	}}, nil
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Width, opts.Height = 120, 120
	opts.ShutdownTimeout = time.Second
	return opts
}

func newTestEngine(t *testing.T, options ...Option) *Engine {
	e, err := New(testOptions(), options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func ids(strokes []*ink.StrokeData) []string {
	out := make([]string, len(strokes))
	for i, s := range strokes {
		out[i] = s.ID.String()
	}
	return out
}

func TestAddStrokeVisibleToReaders(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	s := line(10, 10, 50, 10)
	require.NoError(t, e.AddStroke(ctx, s))

	assert.Equal(t, 1, e.Count())
	hits := e.HitTest(ink.Point{X: 30, Y: 11}, 1)
	require.Len(t, hits, 1)
	assert.Equal(t, s.ID, hits[0].ID)
	assert.Equal(t, ink.Rect{X: 10, Y: 10, Width: 40, Height: 0}, e.StrokesBounds())

	got, ok := e.Stroke(s.ID)
	require.True(t, ok)
	assert.NotSame(t, s, got, "engine keeps its own copy")
}

func TestOrderInvariant(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	var model []*ink.StrokeData
	for i := 0; i < 60; i++ {
		switch {
		case i%17 == 16:
			require.NoError(t, e.Clear(ctx))
			model = nil
		case i%5 == 4 && len(model) > 0:
			victim := model[len(model)/2]
			require.NoError(t, e.RemoveStroke(ctx, victim))
			model = append(model[:len(model)/2], model[len(model)/2+1:]...)
		default:
			s := line(float64(i), 0, float64(i), 10)
			require.NoError(t, e.AddStroke(ctx, s))
			model = append(model, s)
		}
	}

	assert.Equal(t, ids(model), ids(e.Strokes()))
}

func TestConcurrentAdds(t *testing.T) {
	e := newTestEngine(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, e.AddStroke(context.Background(), line(float64(i), 0, float64(i), 5)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, e.Count())
	stats, ok := e.Monitor().Stats(perf.OpStrokeAdd)
	require.True(t, ok)
	assert.Equal(t, int64(50), stats.Count)
}

func TestRemoveIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	kept := line(0, 0, 10, 10)
	require.NoError(t, e.AddStroke(ctx, kept))

	require.NoError(t, e.RemoveStroke(ctx, line(0, 0, 1, 1)))
	assert.Equal(t, []string{kept.ID.String()}, ids(e.Strokes()))

	require.NoError(t, e.RemoveStroke(ctx, kept))
	require.NoError(t, e.RemoveStroke(ctx, kept))
	assert.Zero(t, e.Count())

	assert.ErrorIs(t, e.RemoveStroke(ctx, nil), ink.ErrInvalidStroke)
}

func TestEmptyBatchIsNoop(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.AddStrokes(context.Background(), nil))
	assert.Zero(t, e.Count())
	_, ok := e.Monitor().Stats(perf.OpStrokeAddBatch)
	assert.False(t, ok, "no command is queued")
}

func TestBatchIsAtomic(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	existing := line(0, 0, 5, 5)
	require.NoError(t, e.AddStroke(ctx, existing))

	dup := existing.Clone()
	err := e.AddStrokes(ctx, []*ink.StrokeData{line(1, 1, 2, 2), dup})
	assert.ErrorIs(t, err, ink.ErrDuplicateStroke)
	assert.Equal(t, 1, e.Count())

	s := line(3, 3, 4, 4)
	err = e.AddStrokes(ctx, []*ink.StrokeData{s, s})
	assert.ErrorIs(t, err, ink.ErrDuplicateStroke)
	assert.Equal(t, 1, e.Count())

	bad := line(0, 0, 1, 1)
	bad.IsShape = true
	err = e.AddStrokes(ctx, []*ink.StrokeData{line(1, 1, 2, 2), bad})
	assert.ErrorIs(t, err, ink.ErrInvalidStroke)
	assert.Equal(t, 1, e.Count())
}

func TestBatchNeverObservedPartially(t *testing.T) {
	e := newTestEngine(t)
	const batchSize = 5

	stop := make(chan struct{})
	var partial atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if n := len(e.HitTestRect(ink.Rect{X: -1, Y: -1, Width: 1000, Height: 1000})); n%batchSize != 0 {
				partial.Add(1)
			}
		}
	}()

	for i := 0; i < 40; i++ {
		batch := make([]*ink.StrokeData, batchSize)
		for j := range batch {
			batch[j] = line(float64(j), float64(i), float64(j)+1, float64(i))
		}
		require.NoError(t, e.AddStrokes(context.Background(), batch))
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, partial.Load())
	assert.Equal(t, 40*batchSize, e.Count())
}

func TestClearInvariant(t *testing.T) {
	c := &countingClassifier{}
	e := newTestEngine(t, WithClassifier(c))
	e.SetRecognitionEnabled(false)
	ctx := context.Background()

	s := circleStroke()
	require.NoError(t, e.AddStroke(ctx, s))
	require.NoError(t, e.Render(ctx, nil, image.Rectangle{}, ink.EmptyRect))

	res, err := e.Recognize(ctx, []*ink.StrokeData{s})
	require.NoError(t, err)
	require.True(t, res.Success)
	_, err = e.Recognize(ctx, []*ink.StrokeData{s})
	require.NoError(t, err)
	assert.Equal(t, int32(1), c.calls.Load(), "second call is served from the cache")
	assert.Positive(t, e.RenderCacheStats().Geometry.Len)

	require.NoError(t, e.Clear(ctx))

	assert.Zero(t, e.Count())
	assert.True(t, e.StrokesBounds().IsEmpty())
	assert.Zero(t, e.RecognitionCacheLen())
	assert.Zero(t, e.RenderCacheStats().Geometry.Len)

	_, err = e.Recognize(ctx, []*ink.StrokeData{s})
	require.NoError(t, err)
	assert.Equal(t, int32(2), c.calls.Load(), "cache was invalidated")
}

func TestClearDuringBackgroundRecognition(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 4)
	var calls atomic.Int32
	blocking := recognition.ClassifierFunc(func(ctx context.Context, strokes []*ink.StrokeData) ([]recognition.Candidate, error) {
		if calls.Add(1) == 1 {
			started <- struct{}{}
			<-gate
		}
		return (&countingClassifier{}).Classify(ctx, strokes)
	})
	e := newTestEngine(t, WithClassifier(blocking))
	events, unsubscribe := e.Subscribe(16)
	defer unsubscribe()
	ctx := context.Background()

	require.NoError(t, e.AddStroke(ctx, circleStroke()))
	<-started
	require.NoError(t, e.Clear(ctx))
	close(gate)

	waitRecognition := func() Event {
		for {
			select {
			case ev := <-events:
				if ev.Type == RecognitionCompleted {
					return ev
				}
			case <-time.After(2 * time.Second):
				t.Fatal("no recognition event")
			}
		}
	}
	assert.True(t, waitRecognition().Result.Success)
	assert.Zero(t, e.RecognitionCacheLen(), "a result from before Clear is not cached")

	// the same geometry again is classified again
	require.NoError(t, e.AddStroke(ctx, circleStroke()))
	waitRecognition()
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 1, e.RecognitionCacheLen())
}

func TestRecognizeRejectsNilStroke(t *testing.T) {
	c := &countingClassifier{}
	e := newTestEngine(t, WithClassifier(c))

	_, err := e.Recognize(context.Background(), []*ink.StrokeData{nil})
	assert.ErrorIs(t, err, ink.ErrInvalidStroke)
	assert.Zero(t, c.calls.Load())
}

func TestRecognitionCircleScenario(t *testing.T) {
	e := newTestEngine(t, WithClassifier(&countingClassifier{}))
	events, unsubscribe := e.Subscribe(8)
	defer unsubscribe()

	s := circleStroke()
	require.NoError(t, e.AddStroke(context.Background(), s))

	var got []Event
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("missing events, got %v", got)
		}
	}

	assert.Equal(t, StrokeCollected, got[0].Type)
	assert.Equal(t, s.ID, got[0].Strokes[0].ID)

	assert.Equal(t, RecognitionCompleted, got[1].Type)
	assert.True(t, got[1].Result.Success)
	assert.Equal(t, ink.ShapeCircle, got[1].Result.Shape)
	assert.Equal(t, 0.95, got[1].Result.Confidence)
	assert.Equal(t, ink.Rect{Width: 100, Height: 98}, got[1].Result.BoundingBox)
}

func TestRecognitionFailureDoesNotFailAdd(t *testing.T) {
	failing := recognition.ClassifierFunc(func(ctx context.Context, strokes []*ink.StrokeData) ([]recognition.Candidate, error) {
		return nil, errors.New("service down")
	})
	e := newTestEngine(t, WithClassifier(failing))
	events, unsubscribe := e.Subscribe(8)
	defer unsubscribe()

	require.NoError(t, e.AddStroke(context.Background(), circleStroke()))
	assert.Equal(t, 1, e.Count())

	for {
		select {
		case ev := <-events:
			if ev.Type != RecognitionCompleted {
				continue
			}
			assert.False(t, ev.Result.Success)
			assert.Contains(t, ev.Result.Reason, "service down")
			return
		case <-time.After(2 * time.Second):
			t.Fatal("no recognition event")
		}
	}
}

func TestRecognizeWithoutClassifier(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Recognize(context.Background(), []*ink.StrokeData{circleStroke()})
	assert.ErrorIs(t, err, ErrNoClassifier)

	e.SetRecognitionEnabled(true)
	assert.False(t, e.RecognitionEnabled())
}

func TestCancelledBeforeApplied(t *testing.T) {
	e := newTestEngine(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	e.beforeApply = func(cmd *command) {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	first := make(chan error, 1)
	go func() {
		first <- e.AddStroke(context.Background(), line(0, 0, 1, 1))
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	queued := line(5, 5, 6, 6)
	second := make(chan error, 1)
	go func() {
		second <- e.AddStroke(ctx, queued)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-second, ink.ErrCancelled)

	close(release)
	require.NoError(t, <-first)

	require.NoError(t, e.AddStroke(context.Background(), line(7, 7, 8, 8)))
	_, ok := e.Stroke(queued.ID)
	assert.False(t, ok, "cancelled command is never applied")
	assert.Equal(t, 2, e.Count())
}

func TestCancelledAfterStartCompletes(t *testing.T) {
	e := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	e.beforeApply = func(cmd *command) {
		cancel()
	}

	s := line(0, 0, 1, 1)
	require.NoError(t, e.AddStroke(ctx, s))
	_, ok := e.Stroke(s.ID)
	assert.True(t, ok)
}

func TestAlreadyCancelledContext(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, e.AddStroke(ctx, line(0, 0, 1, 1)), ink.ErrCancelled)
	assert.ErrorIs(t, e.Render(ctx, nil, image.Rectangle{}, ink.EmptyRect), ink.ErrCancelled)
	assert.Zero(t, e.Count())
}

func TestPanicFailsOnlyThatCommand(t *testing.T) {
	e := newTestEngine(t)

	var calls atomic.Int32
	e.beforeApply = func(cmd *command) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	}

	err := e.AddStroke(context.Background(), line(0, 0, 1, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	require.NoError(t, e.AddStroke(context.Background(), line(2, 2, 3, 3)))
	assert.Equal(t, 1, e.Count())

	stats, ok := e.Monitor().Stats(perf.OpStrokeAdd)
	require.True(t, ok)
	assert.Equal(t, int64(2), stats.Count)
	assert.Equal(t, int64(1), stats.Failures)
}

func TestRender(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.AddStroke(ctx, line(10, 60, 110, 60)))

	dst := image.NewRGBA(image.Rect(0, 0, 120, 120))
	require.NoError(t, e.Render(ctx, dst, image.Rectangle{}, ink.EmptyRect))
	assert.Less(t, dst.RGBAAt(60, 60).R, uint8(0x80))
	assert.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, dst.RGBAAt(60, 20))

	require.NoError(t, e.AddStroke(ctx, line(10, 20, 110, 20)))
	require.NoError(t, e.RenderIncremental(ctx, dst, image.Rectangle{}, ink.EmptyRect))
	assert.Less(t, dst.RGBAAt(60, 60).R, uint8(0x80), "previous frame is kept")
	assert.Less(t, dst.RGBAAt(60, 20).R, uint8(0x80))

	stats, ok := e.Monitor().Stats(perf.OpRenderIncremental)
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Count)
}

func TestRenderIncrementalAfterRemoveRedraws(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	s := line(10, 60, 110, 60)
	require.NoError(t, e.AddStroke(ctx, s))
	require.NoError(t, e.Render(ctx, nil, image.Rectangle{}, ink.EmptyRect))
	require.Less(t, e.Snapshot().RGBAAt(60, 60).R, uint8(0x80))

	require.NoError(t, e.RemoveStroke(ctx, s))
	require.NoError(t, e.RenderIncremental(ctx, nil, image.Rectangle{}, ink.EmptyRect))
	assert.Equal(t, uint8(0xff), e.Snapshot().RGBAAt(60, 60).R)
}

func TestRenderBoundsKeepsCulledStrokesPending(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	top := ink.Rect{X: 0, Y: 0, Width: 120, Height: 50}

	require.NoError(t, e.Render(ctx, nil, image.Rectangle{}, ink.EmptyRect))
	require.NoError(t, e.AddStroke(ctx, line(10, 100, 110, 100)))

	require.NoError(t, e.RenderIncremental(ctx, nil, image.Rectangle{}, top))
	assert.Equal(t, uint8(0xff), e.Snapshot().RGBAAt(60, 100).R, "outside the bounds")

	require.NoError(t, e.RenderIncremental(ctx, nil, image.Rectangle{}, ink.EmptyRect))
	assert.Less(t, e.Snapshot().RGBAAt(60, 100).R, uint8(0x80), "drawn by the next frame")

	// a bounded full frame leaves the next incremental one to redraw
	require.NoError(t, e.Render(ctx, nil, image.Rectangle{}, top))
	assert.Equal(t, uint8(0xff), e.Snapshot().RGBAAt(60, 100).R)
	require.NoError(t, e.RenderIncremental(ctx, nil, image.Rectangle{}, ink.EmptyRect))
	assert.Less(t, e.Snapshot().RGBAAt(60, 100).R, uint8(0x80))
}

func TestRenderFramesFollowCommandBoundaries(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// each batch draws a full row; a frame holding part of a batch would
	// show a row with a gap
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for y := 10; y < 110; y += 10 {
			batch := []*ink.StrokeData{
				line(5, float64(y), 60, float64(y)),
				line(60, float64(y), 115, float64(y)),
			}
			assert.NoError(t, e.AddStrokes(ctx, batch))
		}
		close(stop)
	}()

	for done := false; !done; {
		select {
		case <-stop:
			done = true
		default:
		}
		require.NoError(t, e.Render(ctx, nil, image.Rectangle{}, ink.EmptyRect))
		img := e.Snapshot()
		for y := 10; y < 110; y += 10 {
			left := img.RGBAAt(30, y).R < 0x80
			right := img.RGBAAt(90, y).R < 0x80
			assert.Equal(t, left, right, "row %d drawn partially", y)
		}
	}
	wg.Wait()
}

func TestResize(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Resize(200, 80))
	w, h := e.Size()
	assert.Equal(t, 200, w)
	assert.Equal(t, 80, h)
	assert.Equal(t, image.Rect(0, 0, 200, 80), e.Snapshot().Bounds())

	var rerr *ink.ResourceError
	assert.ErrorAs(t, e.Resize(0, 10), &rerr)
}

func TestEvents(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	events, unsubscribe := e.Subscribe(8)

	s := line(0, 0, 1, 1)
	require.NoError(t, e.AddStroke(ctx, s))
	require.NoError(t, e.RemoveStroke(ctx, s))
	require.NoError(t, e.RemoveStroke(ctx, s))
	require.NoError(t, e.Clear(ctx))

	var types []EventType
	for i := 0; i < 3; i++ {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []EventType{StrokeCollected, StrokeRemoved, StrokesCleared}, types)

	unsubscribe()
	unsubscribe()
	_, open := <-events
	assert.False(t, open)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	e := newTestEngine(t)
	_, unsubscribe := e.Subscribe(1)
	defer unsubscribe()

	for i := 0; i < 10; i++ {
		require.NoError(t, e.AddStroke(context.Background(), line(float64(i), 0, float64(i), 1)))
	}
	assert.Equal(t, 10, e.Count())
}

func TestDisposed(t *testing.T) {
	e, err := New(testOptions(), WithClassifier(&countingClassifier{}))
	require.NoError(t, err)
	ctx := context.Background()
	events, _ := e.Subscribe(4)

	require.NoError(t, e.AddStroke(ctx, line(0, 0, 1, 1)))
	require.NoError(t, e.Close(ctx))
	require.NoError(t, e.Close(ctx))

	assert.ErrorIs(t, e.AddStroke(ctx, line(2, 2, 3, 3)), ink.ErrDisposed)
	assert.ErrorIs(t, e.Clear(ctx), ink.ErrDisposed)
	assert.ErrorIs(t, e.Render(ctx, nil, image.Rectangle{}, ink.EmptyRect), ink.ErrDisposed)
	assert.ErrorIs(t, e.Resize(10, 10), ink.ErrDisposed)
	_, err = e.Recognize(ctx, []*ink.StrokeData{circleStroke()})
	assert.ErrorIs(t, err, ink.ErrDisposed)
	assert.Equal(t, 1, e.Count(), "stroke set unchanged")

	for range events {
	}
	late, _ := e.Subscribe(1)
	_, open := <-late
	assert.False(t, open)
}

func TestCloseFailsQueuedCommands(t *testing.T) {
	opts := testOptions()
	opts.ShutdownTimeout = 50 * time.Millisecond
	e, err := New(opts)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	e.beforeApply = func(cmd *command) {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	first := make(chan error, 1)
	go func() { first <- e.AddStroke(context.Background(), line(0, 0, 1, 1)) }()
	<-started

	queued := make(chan error, 1)
	go func() { queued <- e.AddStroke(context.Background(), line(2, 2, 3, 3)) }()
	time.Sleep(20 * time.Millisecond)

	assert.Error(t, e.Close(context.Background()), "running command outlives the timeout")
	assert.ErrorIs(t, <-queued, ink.ErrDisposed)

	close(release)
	assert.NoError(t, <-first)
}

func TestInvalidOptions(t *testing.T) {
	opts := testOptions()
	opts.QueueSize = 0
	_, err := New(opts)
	assert.Error(t, err)

	opts = testOptions()
	opts.Recognition.ConfidenceThreshold = 2
	_, err = New(opts)
	assert.Error(t, err)
}
