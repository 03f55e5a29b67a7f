package recognition

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/juruen/inkcore/ink"
	"github.com/juruen/inkcore/log"
	"github.com/juruen/inkcore/perf"
)

type task struct {
	strokes []*ink.StrokeData
	key     string
	gen     uint64
	done    chan Result
}

// Pipeline runs classification on a single consumer goroutine. Submit may
// be called from any goroutine.
type Pipeline struct {
	opts       Options
	classifier Classifier
	store      Store
	monitor    *perf.Monitor
	now        func() time.Time

	cache  *resultCache
	queue  chan *task
	flight singleflight.Group

	// genMu guards gen, bumped by ClearCache. Results computed for an older
	// generation are not cached.
	genMu sync.Mutex
	gen   uint64

	// mu guards closed; producers hold the read lock while enqueueing so
	// Close can wait for them.
	mu        sync.RWMutex
	closed    bool
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// ctx is cancelled on Close and bounds classifier calls.
	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Pipeline)

// WithStore adds a second level cache.
func WithStore(s Store) Option {
	return func(p *Pipeline) {
		p.store = s
	}
}

// WithMonitor records classification timings under perf.OpShapeRecognition.
func WithMonitor(m *perf.Monitor) Option {
	return func(p *Pipeline) {
		p.monitor = m
	}
}

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// NewPipeline starts the consumer goroutine.
func NewPipeline(classifier Classifier, opts Options, options ...Option) (*Pipeline, error) {
	if classifier == nil {
		return nil, fmt.Errorf("recognition: nil classifier")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		opts:       opts,
		classifier: classifier,
		now:        time.Now,
		cache:      newResultCache(opts.CacheCapacity, opts.CacheExpiration),
		queue:      make(chan *task, opts.QueueSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, o := range options {
		o(p)
	}
	if p.monitor == nil {
		p.monitor = perf.NewMonitor()
	}

	go p.run()
	return p, nil
}

func (p *Pipeline) key(strokes []*ink.StrokeData) string {
	if p.opts.FastFingerprint {
		return FastFingerprint(strokes)
	}
	return Fingerprint(strokes)
}

// Submit classifies strokes. Normal "no shape" outcomes are returned as a
// failed Result; the error is only ink.ErrInvalidStroke for a nil entry,
// ink.ErrDisposed or ink.ErrCancelled.
// Cached results are returned without touching the queue, and concurrent
// submissions of the same geometry share one task.
func (p *Pipeline) Submit(ctx context.Context, strokes []*ink.StrokeData) (Result, error) {
	if p.isClosed() {
		return Result{}, ink.ErrDisposed
	}
	if err := ctx.Err(); err != nil {
		return Result{}, ink.ErrCancelled
	}
	for i, s := range strokes {
		if s == nil {
			return Result{}, fmt.Errorf("%w: nil stroke at %d", ink.ErrInvalidStroke, i)
		}
	}

	gen := p.generation()
	key := p.key(strokes)
	if r, ok := p.cache.get(key, p.now()); ok {
		log.Trace.Printf("recognition: cache hit %.12s", key)
		return r, nil
	}
	if r, ok := p.loadStore(ctx, key, gen); ok {
		return r, nil
	}

	snapshot := make([]*ink.StrokeData, len(strokes))
	for i, s := range strokes {
		snapshot[i] = s.Clone()
	}

	// a task started before ClearCache is not shared with later callers
	ch := p.flight.DoChan(fmt.Sprintf("%d/%s", gen, key), func() (interface{}, error) {
		return p.enqueue(&task{strokes: snapshot, key: key, gen: gen, done: make(chan Result, 1)})
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	case <-ctx.Done():
		// the shared task keeps running and fills the cache
		return Result{}, ink.ErrCancelled
	}
}

func (p *Pipeline) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// enqueue waits for queue space, then for the consumer's answer.
func (p *Pipeline) enqueue(t *task) (Result, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return Result{}, ink.ErrDisposed
	}
	select {
	case p.queue <- t:
	case <-p.quit:
		p.mu.RUnlock()
		return Result{}, ink.ErrDisposed
	}
	p.mu.RUnlock()

	r, ok := <-t.done
	if !ok {
		return Result{}, ink.ErrDisposed
	}
	return r, nil
}

func (p *Pipeline) generation() uint64 {
	p.genMu.Lock()
	defer p.genMu.Unlock()
	return p.gen
}

// putCurrent caches r unless ClearCache ran since gen was taken.
func (p *Pipeline) putCurrent(gen uint64, key string, r Result, save bool) bool {
	p.genMu.Lock()
	defer p.genMu.Unlock()
	if gen != p.gen {
		return false
	}
	p.cache.put(key, r, p.now())
	if save && p.store != nil {
		if err := p.store.Save(p.ctx, key, r, p.opts.CacheExpiration); err != nil {
			log.Warning.Printf("recognition: store save failed: %v", err)
		}
	}
	return true
}

func (p *Pipeline) loadStore(ctx context.Context, key string, gen uint64) (Result, bool) {
	if p.store == nil {
		return Result{}, false
	}
	r, ok, err := p.store.Load(ctx, key)
	if err != nil {
		log.Warning.Printf("recognition: store lookup failed: %v", err)
		return Result{}, false
	}
	if ok {
		p.putCurrent(gen, key, r, false)
	}
	return r, ok
}

func (p *Pipeline) run() {
	defer close(p.done)

	interval := p.opts.CacheExpiration / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		default:
		}

		select {
		case <-p.quit:
			return
		case <-ticker.C:
			if n := p.cache.sweep(p.now()); n > 0 {
				log.Trace.Printf("recognition: expired %d cached results", n)
			}
		case t := <-p.queue:
			t.done <- p.process(t)
		}
	}
}

func (p *Pipeline) process(t *task) (r Result) {
	var err error
	op := p.monitor.BeginOperation(perf.OpShapeRecognition)
	defer op.End(&err)

	r = p.recognize(t.strokes)
	if !r.Success {
		err = r.Err()
		log.Trace.Printf("recognition: %s", r.Reason)
		return r
	}

	if !p.putCurrent(t.gen, t.key, r, true) {
		log.Trace.Printf("recognition: cache cleared while classifying, %s not cached", r)
		return r
	}
	log.Trace.Printf("recognition: accepted %s", r)
	return r
}

func (p *Pipeline) classify(strokes []*ink.StrokeData) (candidates []Candidate, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("classifier panic: %v", rec)
		}
	}()
	return p.classifier.Classify(p.ctx, strokes)
}

// validConfidence rejects NaN and values outside [0,1].
func validConfidence(c float64) bool {
	return c >= 0 && c <= 1
}

func (p *Pipeline) recognize(strokes []*ink.StrokeData) Result {
	bounds := ink.UnionBounds(strokes)
	if bounds.IsEmpty() {
		return Failure("no points to recognize")
	}
	if size := math.Max(bounds.Width, bounds.Height); size < p.opts.MinimumShapeSize {
		return Failure("shape too small: %.1fpx < %.1fpx", size, p.opts.MinimumShapeSize)
	}

	candidates, err := p.classify(strokes)
	if err != nil {
		return Failure("classifier error: %v", err)
	}

	best := -1
	for i, c := range candidates {
		if !supported(c.Kind, p.opts.EnablePolygonRecognition) || !validConfidence(c.Confidence) {
			continue
		}
		if best < 0 || c.Confidence > candidates[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return Failure("no supported shape recognized")
	}

	c := candidates[best]
	if c.Confidence < p.opts.ConfidenceThreshold {
		return Failure("%s confidence %.2f below threshold %.2f", c.Kind, c.Confidence, p.opts.ConfidenceThreshold)
	}
	if p.opts.EnableGeometryValidation {
		if reason := validateGeometry(c, bounds); reason != "" {
			return Failure("%s", reason)
		}
	}

	box := c.Bounds
	if box.IsEmpty() {
		box = bounds
	}
	return Success(c.Kind, c.Confidence, c.Points, box)
}

// ClearCache drops every cached result, including the second level store.
func (p *Pipeline) ClearCache(ctx context.Context) error {
	p.genMu.Lock()
	p.gen++
	p.cache.clear()
	p.genMu.Unlock()

	if p.store != nil {
		return p.store.Clear(ctx)
	}
	return nil
}

// CacheLen returns the number of results held in memory.
func (p *Pipeline) CacheLen() int {
	return p.cache.len()
}

// Close stops the consumer. Tasks still queued receive ink.ErrDisposed.
// Close is idempotent; ctx bounds the wait for the task in progress.
func (p *Pipeline) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		close(p.quit)

		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		select {
		case <-p.done:
		case <-ctx.Done():
			err = fmt.Errorf("recognition: shutdown timed out: %w", ctx.Err())
		}
		// aborts a classifier call that is still running
		p.cancel()

		for drained := false; !drained; {
			select {
			case t := <-p.queue:
				close(t.done)
			default:
				drained = true
			}
		}
		p.cache.clear()
	})
	return err
}
