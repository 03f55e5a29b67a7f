// Package engine owns the live stroke set of a drawing surface. Mutations
// are applied in submission order by a single consumer goroutine; reads,
// rendering and recognition run alongside it.
package engine

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/juruen/inkcore/ink"
	"github.com/juruen/inkcore/log"
	"github.com/juruen/inkcore/perf"
	"github.com/juruen/inkcore/recognition"
	"github.com/juruen/inkcore/render"
)

// ErrNoClassifier is returned by Recognize when the engine was built
// without a classifier.
var ErrNoClassifier = errors.New("engine: no shape classifier configured")

type Engine struct {
	opts       Options
	classifier recognition.Classifier
	store      recognition.Store
	monitor    *perf.Monitor
	renderer   *render.Renderer
	pipeline   *recognition.Pipeline
	events     *broker

	// mu guards the stroke set. Only the consumer takes the write lock.
	mu      sync.RWMutex
	strokes []*ink.StrokeData
	index   map[uuid.UUID]*ink.StrokeData
	// fresh holds strokes added since the last render; stale forces the
	// next incremental render to redraw everything.
	fresh []*ink.StrokeData
	stale bool

	// renderMu serializes frames and resizes.
	renderMu sync.Mutex

	queue     chan *command
	qmu       sync.RWMutex
	closed    bool
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	recognizing atomic.Bool
	recMu       sync.Mutex
	recClosed   bool
	recGroup    errgroup.Group

	ctx    context.Context
	cancel context.CancelFunc

	// beforeApply runs ahead of every command, used by tests.
	beforeApply func(*command)
}

// New builds the renderer and, when a classifier is given, the recognition
// pipeline, then starts the consumer.
func New(opts Options, options ...Option) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:   opts,
		events: newBroker(),
		index:  make(map[uuid.UUID]*ink.StrokeData),
		queue:  make(chan *command, opts.QueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, o := range options {
		o(e)
	}
	if e.monitor == nil {
		e.monitor = perf.NewMonitor()
	}

	renderer, err := render.NewRenderer(opts.Width, opts.Height, opts.Background, render.NewResourceCache(opts.ResourceCacheCapacity))
	if err != nil {
		cancel()
		return nil, err
	}
	e.renderer = renderer

	if e.classifier != nil {
		pipeOpts := []recognition.Option{recognition.WithMonitor(e.monitor)}
		if e.store != nil {
			pipeOpts = append(pipeOpts, recognition.WithStore(e.store))
		}
		e.pipeline, err = recognition.NewPipeline(e.classifier, opts.Recognition, pipeOpts...)
		if err != nil {
			renderer.Close()
			cancel()
			return nil, err
		}
		e.recognizing.Store(opts.RecognitionEnabled)
		e.recGroup.SetLimit(max(opts.Recognition.QueueSize, 1))
	}

	go e.run()
	return e, nil
}

// AddStroke registers s and returns once it is visible to readers. The
// engine keeps its own copy of s.
func (e *Engine) AddStroke(ctx context.Context, s *ink.StrokeData) error {
	if err := s.Validate(); err != nil {
		return err
	}
	cmd := newCommand(cmdAdd)
	cmd.strokes = []*ink.StrokeData{s.Clone()}
	return e.submit(ctx, cmd)
}

// AddStrokes registers every stroke at once or none of them. An empty
// batch succeeds without touching the queue.
func (e *Engine) AddStrokes(ctx context.Context, strokes []*ink.StrokeData) error {
	if len(strokes) == 0 {
		return nil
	}
	cmd := newCommand(cmdAddBatch)
	cmd.strokes = make([]*ink.StrokeData, len(strokes))
	for i, s := range strokes {
		if err := s.Validate(); err != nil {
			return errors.Wrapf(err, "stroke %d", i)
		}
		cmd.strokes[i] = s.Clone()
	}
	return e.submit(ctx, cmd)
}

// RemoveStroke removes the stroke with the identity of s. Removing a
// stroke that is not present succeeds.
func (e *Engine) RemoveStroke(ctx context.Context, s *ink.StrokeData) error {
	if s == nil {
		return errors.Wrap(ink.ErrInvalidStroke, "nil stroke")
	}
	return e.RemoveStrokeByID(ctx, s.ID)
}

func (e *Engine) RemoveStrokeByID(ctx context.Context, id uuid.UUID) error {
	cmd := newCommand(cmdRemove)
	cmd.id = id
	return e.submit(ctx, cmd)
}

// Clear empties the stroke set and drops every render and recognition
// cache in one step.
func (e *Engine) Clear(ctx context.Context) error {
	return e.submit(ctx, newCommand(cmdClear))
}

func (e *Engine) isClosed() bool {
	e.qmu.RLock()
	defer e.qmu.RUnlock()
	return e.closed
}

// submit enqueues cmd and waits for its outcome. A command the consumer
// already started always runs to completion, even if ctx fires.
func (e *Engine) submit(ctx context.Context, cmd *command) error {
	e.qmu.RLock()
	if e.closed {
		e.qmu.RUnlock()
		return ink.ErrDisposed
	}
	if ctx.Err() != nil {
		e.qmu.RUnlock()
		return ink.ErrCancelled
	}
	select {
	case e.queue <- cmd:
	case <-ctx.Done():
		e.qmu.RUnlock()
		return ink.ErrCancelled
	case <-e.quit:
		e.qmu.RUnlock()
		return ink.ErrDisposed
	}
	e.qmu.RUnlock()

	select {
	case err, ok := <-cmd.done:
		return outcome(err, ok)
	case <-ctx.Done():
		if cmd.cancel() {
			return ink.ErrCancelled
		}
		err, ok := <-cmd.done
		return outcome(err, ok)
	}
}

func outcome(err error, ok bool) error {
	if !ok {
		return ink.ErrDisposed
	}
	return err
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			return
		default:
		}

		select {
		case <-e.quit:
			return
		case cmd := <-e.queue:
			if !cmd.start() {
				log.Trace.Printf("engine: skipping cancelled %s", cmd.kind)
				continue
			}
			cmd.done <- e.apply(cmd)
		}
	}
}

// apply runs one command. A panic fails only this command.
func (e *Engine) apply(cmd *command) (err error) {
	op := e.monitor.BeginOperation(cmd.kind.opName())
	defer op.End(&err)
	defer func() {
		if r := recover(); r != nil {
			log.Error.Printf("engine: %s panicked: %v", cmd.kind, r)
			err = fmt.Errorf("engine: %s failed: %v", cmd.kind, r)
		}
	}()

	if e.beforeApply != nil {
		e.beforeApply(cmd)
	}

	switch cmd.kind {
	case cmdAdd, cmdAddBatch:
		if err := e.add(cmd.strokes); err != nil {
			return err
		}
		e.events.publish(Event{Type: StrokeCollected, Strokes: cmd.strokes})
		e.recognize(cmd.strokes)
	case cmdRemove:
		if s := e.remove(cmd.id); s != nil {
			e.events.publish(Event{Type: StrokeRemoved, Strokes: []*ink.StrokeData{s}})
		}
	case cmdClear:
		e.clear()
		e.events.publish(Event{Type: StrokesCleared})
	default:
		return fmt.Errorf("engine: unknown command %d", cmd.kind)
	}
	return nil
}

func (e *Engine) add(strokes []*ink.StrokeData) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(strokes))
	for _, s := range strokes {
		if _, ok := e.index[s.ID]; ok {
			return errors.Wrapf(ink.ErrDuplicateStroke, "%s", s.ID)
		}
		if _, ok := seen[s.ID]; ok {
			return errors.Wrapf(ink.ErrDuplicateStroke, "%s repeated in batch", s.ID)
		}
		seen[s.ID] = struct{}{}
	}

	for _, s := range strokes {
		e.strokes = append(e.strokes, s)
		e.index[s.ID] = s
	}
	e.fresh = append(e.fresh, strokes...)
	return nil
}

func (e *Engine) remove(id uuid.UUID) *ink.StrokeData {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.index[id]
	if !ok {
		return nil
	}
	delete(e.index, id)
	for i, c := range e.strokes {
		if c.ID == id {
			e.strokes = append(e.strokes[:i], e.strokes[i+1:]...)
			break
		}
	}
	e.fresh = nil
	e.stale = true
	return s
}

func (e *Engine) clear() {
	e.mu.Lock()
	e.strokes = nil
	e.index = make(map[uuid.UUID]*ink.StrokeData)
	e.fresh = nil
	e.stale = true
	e.renderer.Resources().ClearAllCaches()
	e.mu.Unlock()

	if e.pipeline != nil {
		if err := e.pipeline.ClearCache(e.ctx); err != nil {
			log.Warning.Printf("engine: clearing recognition store: %v", err)
		}
	}
}

// recognize submits strokes in the background. Its outcome never affects
// the add that triggered it.
func (e *Engine) recognize(strokes []*ink.StrokeData) {
	if e.pipeline == nil || !e.recognizing.Load() {
		return
	}

	e.recMu.Lock()
	defer e.recMu.Unlock()
	if e.recClosed {
		return
	}
	started := e.recGroup.TryGo(func() error {
		res, err := e.pipeline.Submit(e.ctx, strokes)
		if err != nil {
			log.Trace.Printf("engine: recognition abandoned: %v", err)
			return nil
		}
		e.events.publish(Event{Type: RecognitionCompleted, Strokes: strokes, Result: res})
		return nil
	})
	if !started {
		log.Trace.Printf("engine: recognition backlog full, skipping %d strokes", len(strokes))
	}
}

// Recognize classifies strokes and waits for the result.
func (e *Engine) Recognize(ctx context.Context, strokes []*ink.StrokeData) (recognition.Result, error) {
	if e.pipeline == nil {
		return recognition.Result{}, ErrNoClassifier
	}
	if e.isClosed() {
		return recognition.Result{}, ink.ErrDisposed
	}
	return e.pipeline.Submit(ctx, strokes)
}

// SetRecognitionEnabled toggles background recognition of added strokes.
func (e *Engine) SetRecognitionEnabled(enabled bool) {
	e.recognizing.Store(enabled && e.pipeline != nil)
}

func (e *Engine) RecognitionEnabled() bool {
	return e.recognizing.Load()
}

// HitTest returns the strokes within tolerance of p, oldest first.
func (e *Engine) HitTest(p ink.Point, tolerance float64) []*ink.StrokeData {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var hits []*ink.StrokeData
	for _, s := range e.strokes {
		if s.HitPoint(p, tolerance) {
			hits = append(hits, s)
		}
	}
	return hits
}

// HitTestRect returns the strokes touching r, oldest first.
func (e *Engine) HitTestRect(r ink.Rect) []*ink.StrokeData {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var hits []*ink.StrokeData
	for _, s := range e.strokes {
		if s.HitRect(r) {
			hits = append(hits, s)
		}
	}
	return hits
}

// StrokesBounds is the union of every stroke's bounds, ink.EmptyRect when
// there are none.
func (e *Engine) StrokesBounds() ink.Rect {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return ink.UnionBounds(e.strokes)
}

// Strokes returns the stroke set in insertion order. The strokes are
// shared and must not be modified.
func (e *Engine) Strokes() []*ink.StrokeData {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*ink.StrokeData, len(e.strokes))
	copy(out, e.strokes)
	return out
}

func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.strokes)
}

func (e *Engine) Stroke(id uuid.UUID) (*ink.StrokeData, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.index[id]
	return s, ok
}

// Render draws the strokes intersecting bounds, swaps the buffers and
// copies the new front buffer into dst at rect. A nil dst only updates
// the front buffer.
func (e *Engine) Render(ctx context.Context, dst draw.Image, rect image.Rectangle, bounds ink.Rect) error {
	return e.render(ctx, dst, rect, bounds, false)
}

// RenderIncremental draws only the strokes added since the previous frame
// on top of it. It falls back to a full frame after a removal, clear or
// resize.
func (e *Engine) RenderIncremental(ctx context.Context, dst draw.Image, rect image.Rectangle, bounds ink.Rect) error {
	return e.render(ctx, dst, rect, bounds, true)
}

func (e *Engine) render(ctx context.Context, dst draw.Image, rect image.Rectangle, bounds ink.Rect, incremental bool) (err error) {
	if e.isClosed() {
		return ink.ErrDisposed
	}
	if ctx.Err() != nil {
		return ink.ErrCancelled
	}

	name := perf.OpRender
	if incremental {
		name = perf.OpRenderIncremental
	}
	op := e.monitor.BeginOperation(name)
	defer op.End(&err)

	e.renderMu.Lock()
	defer e.renderMu.Unlock()

	// one snapshot under the lock keeps the frame on a single command
	// boundary
	e.mu.Lock()
	full := !incremental || e.stale
	var strokes []*ink.StrokeData
	if full {
		strokes = make([]*ink.StrokeData, len(e.strokes))
		copy(strokes, e.strokes)
	} else {
		strokes = e.fresh
	}
	// strokes culled by bounds are missing from the frame and stay pending
	var culled []*ink.StrokeData
	for _, s := range strokes {
		if !render.Visible(s, bounds) {
			culled = append(culled, s)
		}
	}
	e.fresh = nil
	e.stale = full && len(culled) > 0
	if !full {
		e.fresh = culled
	}
	e.mu.Unlock()

	if err := e.renderer.RenderFrame(strokes, bounds, !full); err != nil {
		log.Error.Printf("engine: render failed: %v", err)
		e.mu.Lock()
		e.stale = true
		e.mu.Unlock()
		return err
	}
	if dst == nil {
		return nil
	}
	return e.renderer.RenderToSurface(dst, rect)
}

// Present copies the current front buffer into dst without rendering.
func (e *Engine) Present(dst draw.Image, rect image.Rectangle) error {
	if e.isClosed() {
		return ink.ErrDisposed
	}
	return e.renderer.RenderToSurface(dst, rect)
}

// Snapshot returns a copy of the front buffer.
func (e *Engine) Snapshot() *image.RGBA {
	return e.renderer.Snapshot()
}

// Thumbnail scales the front buffer to fit maxWidth x maxHeight.
func (e *Engine) Thumbnail(maxWidth, maxHeight uint) image.Image {
	return e.renderer.Thumbnail(maxWidth, maxHeight)
}

// Resize reallocates both buffers. It waits for the frame in progress.
func (e *Engine) Resize(width, height int) error {
	if e.isClosed() {
		return ink.ErrDisposed
	}
	e.renderMu.Lock()
	defer e.renderMu.Unlock()

	if err := e.renderer.Initialize(width, height); err != nil {
		return err
	}
	e.mu.Lock()
	e.fresh = nil
	e.stale = true
	e.mu.Unlock()
	return nil
}

func (e *Engine) Size() (int, int) {
	return e.renderer.Size()
}

// Subscribe returns a channel receiving engine events and a function that
// cancels the subscription. Events are dropped when the buffer is full.
// The channel is closed on unsubscribe or Close.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	return e.events.subscribe(buffer)
}

func (e *Engine) Monitor() *perf.Monitor {
	return e.monitor
}

// RenderCacheStats reports the render resource caches.
func (e *Engine) RenderCacheStats() render.CacheStats {
	return e.renderer.Resources().Stats()
}

// RecognitionCacheLen is the number of in-memory recognition results.
func (e *Engine) RecognitionCacheLen() int {
	if e.pipeline == nil {
		return 0
	}
	return e.pipeline.CacheLen()
}

// Close stops accepting commands, waits up to the shutdown timeout for the
// command in progress, fails queued commands with ink.ErrDisposed and
// releases the pipeline and the renderer. Close is idempotent.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, e.opts.ShutdownTimeout)
		defer cancel()

		close(e.quit)
		e.qmu.Lock()
		e.closed = true
		e.qmu.Unlock()

		select {
		case <-e.done:
		case <-ctx.Done():
			err = errors.Wrap(ctx.Err(), "engine: shutdown timed out")
		}

		for drained := false; !drained; {
			select {
			case cmd := <-e.queue:
				close(cmd.done)
			default:
				drained = true
			}
		}

		e.cancel()
		e.recMu.Lock()
		e.recClosed = true
		e.recMu.Unlock()

		var g errgroup.Group
		g.Go(func() error {
			return e.recGroup.Wait()
		})
		if e.pipeline != nil {
			g.Go(func() error {
				return e.pipeline.Close(ctx)
			})
		}
		if werr := g.Wait(); werr != nil && err == nil {
			err = werr
		}

		e.renderMu.Lock()
		e.renderer.Close()
		e.renderMu.Unlock()
		e.events.close()
		log.Trace.Println("engine: closed")
	})
	return err
}
