package recognition

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juruen/inkcore/ink"
)

// circleStroke is a four point stroke spanning 100x98.
func circleStroke() *ink.StrokeData {
	return ink.NewStroke([]ink.StrokePoint{
		{X: 50, Y: 0}, {X: 100, Y: 49}, {X: 50, Y: 98}, {X: 0, Y: 49},
	}, ink.DefaultAttributes())
}

type countingClassifier struct {
	calls      atomic.Int32
	candidates []Candidate
	err        error
}

func (c *countingClassifier) Classify(ctx context.Context, strokes []*ink.StrokeData) ([]Candidate, error) {
	c.calls.Add(1)
	return c.candidates, c.err
}

func circleCandidate(confidence float64) Candidate {
	return Candidate{
		Kind:       ink.ShapeCircle,
		Confidence: confidence,
		Points:     []ink.Point{{X: 50, Y: 49}},
		Bounds:     ink.Rect{Width: 100, Height: 98},
	}
}

func newTestPipeline(t *testing.T, c Classifier, mutate func(*Options), options ...Option) *Pipeline {
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	p, err := NewPipeline(c, opts, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestSubmitCircleScenario(t *testing.T) {
	c := &countingClassifier{candidates: []Candidate{circleCandidate(0.95)}}
	p := newTestPipeline(t, c, func(o *Options) { o.ConfidenceThreshold = 0.6 })

	r, err := p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)
	require.True(t, r.Success, r.Reason)
	assert.Equal(t, ink.ShapeCircle, r.Shape)
	assert.Equal(t, 0.95, r.Confidence)
	assert.Equal(t, ink.Rect{Width: 100, Height: 98}, r.BoundingBox)
	assert.Equal(t, []ink.Point{{X: 50, Y: 49}}, r.HotPoints)
	assert.NoError(t, r.Err())
}

func TestSubmitUsesCache(t *testing.T) {
	c := &countingClassifier{candidates: []Candidate{circleCandidate(0.9)}}
	p := newTestPipeline(t, c, nil)

	first, err := p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)
	// a different stroke object with identical geometry
	second, err := p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, c.calls.Load())
	assert.Equal(t, 1, p.CacheLen())

	require.NoError(t, p.ClearCache(context.Background()))
	_, err = p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)
	assert.EqualValues(t, 2, c.calls.Load())
}

func TestConfidenceGating(t *testing.T) {
	c := &countingClassifier{candidates: []Candidate{circleCandidate(0.59)}}
	p := newTestPipeline(t, c, func(o *Options) { o.ConfidenceThreshold = 0.6 })

	r, err := p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Contains(t, r.Reason, "below threshold")

	var rerr *RecognitionError
	assert.True(t, errors.As(r.Err(), &rerr))
	assert.Equal(t, 0, p.CacheLen(), "failures are not cached")
}

func TestConfidenceOutOfRange(t *testing.T) {
	for _, tc := range []struct {
		name       string
		candidates []Candidate
		success    bool
		confidence float64
	}{
		{"NaN ahead of a low candidate", []Candidate{circleCandidate(math.NaN()), circleCandidate(0.1)}, false, 0},
		{"above one", []Candidate{circleCandidate(1.7)}, false, 0},
		{"negative", []Candidate{circleCandidate(-0.2)}, false, 0},
		{"NaN ahead of a valid candidate", []Candidate{circleCandidate(math.NaN()), circleCandidate(0.9)}, true, 0.9},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := &countingClassifier{candidates: tc.candidates}
			p := newTestPipeline(t, c, func(o *Options) { o.ConfidenceThreshold = 0.6 })

			r, err := p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
			require.NoError(t, err)
			assert.Equal(t, tc.success, r.Success, r.Reason)
			if tc.success {
				assert.Equal(t, tc.confidence, r.Confidence)
				assert.Equal(t, 1, p.CacheLen())
			} else {
				assert.Equal(t, 0, p.CacheLen())
			}
		})
	}
}

func TestSubmitRejectsNilStroke(t *testing.T) {
	c := &countingClassifier{candidates: []Candidate{circleCandidate(0.9)}}
	p := newTestPipeline(t, c, nil)

	_, err := p.Submit(context.Background(), []*ink.StrokeData{circleStroke(), nil})
	assert.ErrorIs(t, err, ink.ErrInvalidStroke)
	assert.EqualValues(t, 0, c.calls.Load())
}

func TestClearCacheWhileClassifying(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 4)
	var calls atomic.Int32
	blocking := ClassifierFunc(func(ctx context.Context, _ []*ink.StrokeData) ([]Candidate, error) {
		if calls.Add(1) == 1 {
			started <- struct{}{}
			<-gate
		}
		return []Candidate{circleCandidate(0.9)}, nil
	})
	p := newTestPipeline(t, blocking, nil)

	first := make(chan Result, 1)
	go func() {
		r, _ := p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
		first <- r
	}()
	<-started

	require.NoError(t, p.ClearCache(context.Background()))
	close(gate)

	r := <-first
	assert.True(t, r.Success, "the caller still gets its result")
	assert.Equal(t, 0, p.CacheLen(), "a result from before the clear is not cached")

	_, err := p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 1, p.CacheLen())
}

func TestBestSupportedCandidate(t *testing.T) {
	c := &countingClassifier{candidates: []Candidate{
		{Kind: ink.ShapeCustom, Confidence: 0.99},
		{Kind: ink.ShapePentagon, Confidence: 0.97, Points: make([]ink.Point, 5)},
		circleCandidate(0.8),
		{Kind: ink.ShapeLine, Confidence: 0.7},
	}}

	p := newTestPipeline(t, c, func(o *Options) { o.EnablePolygonRecognition = false })
	r, err := p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)
	assert.Equal(t, ink.ShapeCircle, r.Shape)

	withPolygons := newTestPipeline(t, c, nil)
	r, err = withPolygons.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)
	assert.Equal(t, ink.ShapePentagon, r.Shape)
}

func TestNoSupportedCandidate(t *testing.T) {
	c := &countingClassifier{candidates: []Candidate{{Kind: ink.ShapeHexagon, Confidence: 0.9}}}
	p := newTestPipeline(t, c, func(o *Options) { o.EnablePolygonRecognition = false })

	r, err := p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Equal(t, "no supported shape recognized", r.Reason)
}

func TestGeometryValidation(t *testing.T) {
	flat := circleCandidate(0.9)
	flat.Bounds = ink.Rect{Width: 100, Height: 50}
	triangle := Candidate{Kind: ink.ShapeTriangle, Confidence: 0.9, Points: []ink.Point{{}, {X: 1}}}

	for _, tc := range []struct {
		name      string
		candidate Candidate
		validate  bool
		success   bool
	}{
		{"flat circle", flat, true, false},
		{"flat circle unvalidated", flat, false, true},
		{"triangle with two vertices", triangle, true, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := &countingClassifier{candidates: []Candidate{tc.candidate}}
			p := newTestPipeline(t, c, func(o *Options) { o.EnableGeometryValidation = tc.validate })
			r, err := p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
			require.NoError(t, err)
			assert.Equal(t, tc.success, r.Success, r.Reason)
		})
	}
}

func TestTooSmallSkipsClassifier(t *testing.T) {
	c := &countingClassifier{candidates: []Candidate{circleCandidate(0.9)}}
	p := newTestPipeline(t, c, func(o *Options) { o.MinimumShapeSize = 20 })

	tiny := ink.NewStroke([]ink.StrokePoint{{X: 0, Y: 0}, {X: 5, Y: 5}}, ink.DefaultAttributes())
	r, err := p.Submit(context.Background(), []*ink.StrokeData{tiny})
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Contains(t, r.Reason, "too small")
	assert.EqualValues(t, 0, c.calls.Load())

	r, err = p.Submit(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, r.Success)
}

func TestClassifierFailuresAreData(t *testing.T) {
	failing := &countingClassifier{err: errors.New("service unavailable")}
	p := newTestPipeline(t, failing, nil)
	r, err := p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)
	assert.Contains(t, r.Reason, "service unavailable")

	panicking := ClassifierFunc(func(context.Context, []*ink.StrokeData) ([]Candidate, error) {
		panic("bad geometry")
	})
	p = newTestPipeline(t, panicking, nil)
	r, err = p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)
	assert.Contains(t, r.Reason, "bad geometry")

	// the consumer survived the panic
	r, err = p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)
	assert.False(t, r.Success)
}

func TestCacheExpiration(t *testing.T) {
	var mu sync.Mutex
	now := time.Unix(1000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	c := &countingClassifier{candidates: []Candidate{circleCandidate(0.9)}}
	p := newTestPipeline(t, c, func(o *Options) { o.CacheExpiration = time.Minute }, WithClock(clock))

	_, err := p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)
	_, err = p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.calls.Load())

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	_, err = p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)
	assert.EqualValues(t, 2, c.calls.Load())
}

func TestCacheSweep(t *testing.T) {
	start := time.Unix(0, 0)
	c := newResultCache(8, time.Minute)
	c.put("a", Success(ink.ShapeLine, 1, nil, ink.Rect{}), start)
	c.put("b", Success(ink.ShapeLine, 1, nil, ink.Rect{}), start.Add(30*time.Second))

	assert.Equal(t, 0, c.sweep(start.Add(59*time.Second)))
	assert.Equal(t, 1, c.sweep(start.Add(61*time.Second)))
	assert.Equal(t, 1, c.len())

	_, ok := c.get("b", start.Add(62*time.Second))
	assert.True(t, ok)
	_, ok = c.get("b", start.Add(91*time.Second))
	assert.False(t, ok)
}

func TestSubmitAfterClose(t *testing.T) {
	c := &countingClassifier{candidates: []Candidate{circleCandidate(0.9)}}
	p, err := NewPipeline(c, DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))

	_, err = p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	assert.ErrorIs(t, err, ink.ErrDisposed)
}

func TestSubmitCancelled(t *testing.T) {
	c := &countingClassifier{candidates: []Candidate{circleCandidate(0.9)}}
	p := newTestPipeline(t, c, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Submit(ctx, []*ink.StrokeData{circleStroke()})
	assert.ErrorIs(t, err, ink.ErrCancelled)
	assert.EqualValues(t, 0, c.calls.Load())
}

func TestCloseFailsQueuedTasks(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	blocking := ClassifierFunc(func(ctx context.Context, _ []*ink.StrokeData) ([]Candidate, error) {
		started <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	})
	p, err := NewPipeline(blocking, DefaultOptions())
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
		first <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Close(ctx), "the classifier blocks until cancelled so shutdown times out")
	close(gate)

	// the in-flight task still completes with data
	assert.NoError(t, <-first)
}

func TestInvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.ConfidenceThreshold = 1.5
	_, err := NewPipeline(&countingClassifier{}, opts)
	assert.Error(t, err)

	_, err = NewPipeline(nil, DefaultOptions())
	assert.Error(t, err)
}

func TestRedisStoreSharedBetweenPipelines(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	store := NewRedisStoreFromClient(backend.NewClient(&backend.Options{Addr: mr.Addr()}))
	c := &countingClassifier{candidates: []Candidate{circleCandidate(0.9)}}

	a := newTestPipeline(t, c, nil, WithStore(store))
	b := newTestPipeline(t, c, nil, WithStore(store))

	ra, err := a.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)
	rb, err := b.Submit(context.Background(), []*ink.StrokeData{circleStroke()})
	require.NoError(t, err)

	assert.EqualValues(t, 1, c.calls.Load())
	assert.Equal(t, ra.Shape, rb.Shape)
	assert.Equal(t, ra.BoundingBox, rb.BoundingBox)
	assert.Len(t, mr.Keys(), 1)

	require.NoError(t, a.ClearCache(context.Background()))
	assert.Empty(t, mr.Keys())
}
