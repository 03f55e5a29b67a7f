// Package perf records durations and failure counts per operation kind.
package perf

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Operation names recorded by the engine.
const (
	OpStrokeAdd         = "StrokeAdd"
	OpStrokeAddBatch    = "StrokeAddBatch"
	OpStrokeRemove      = "StrokeRemove"
	OpClear             = "Clear"
	OpRender            = "Render"
	OpRenderIncremental = "RenderIncremental"
	OpShapeRecognition  = "ShapeRecognition"
)

// Stats is a point in time copy of the counters for one operation.
type Stats struct {
	Name     string
	Count    int64
	Failures int64
	Total    time.Duration
	Min      time.Duration
	Max      time.Duration
}

func (s Stats) Avg() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Monitor is safe for concurrent use. One instance per engine.
type Monitor struct {
	mu  sync.RWMutex
	ops map[string]*Stats
	now func() time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{ops: make(map[string]*Stats), now: time.Now}
}

// Record adds a single measurement.
func (m *Monitor) Record(name string, d time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.ops[name]
	if !ok {
		s = &Stats{Name: name, Min: d, Max: d}
		m.ops[name] = s
	}
	s.Count++
	if failed {
		s.Failures++
	}
	s.Total += d
	if d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
}

// Operation is an in-progress measurement returned by BeginOperation.
type Operation struct {
	m     *Monitor
	name  string
	start time.Time
	once  sync.Once
}

// BeginOperation starts timing name. Use it with defer so that every exit
// path is recorded:
//
//	op := m.BeginOperation(perf.OpRender)
//	defer op.End(&err)
func (m *Monitor) BeginOperation(name string) *Operation {
	return &Operation{m: m, name: name, start: m.now()}
}

// End records the elapsed time. The operation counts as failed when *errp
// is non-nil or when the goroutine is panicking; the panic is re-raised.
// Only the first call records.
func (o *Operation) End(errp *error) {
	r := recover()
	failed := r != nil || (errp != nil && *errp != nil)
	o.once.Do(func() {
		o.m.Record(o.name, o.m.now().Sub(o.start), failed)
	})
	if r != nil {
		panic(r)
	}
}

// Stats returns the counters for name.
func (m *Monitor) Stats(name string) (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.ops[name]
	if !ok {
		return Stats{Name: name}, false
	}
	return *s, true
}

// Snapshot returns every operation sorted by name.
func (m *Monitor) Snapshot() []Stats {
	m.mu.RLock()
	out := make([]Stats, 0, len(m.ops))
	for _, s := range m.ops {
		out = append(out, *s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Monitor) Reset() {
	m.mu.Lock()
	m.ops = make(map[string]*Stats)
	m.mu.Unlock()
}

// Report renders the snapshot as a table.
func (m *Monitor) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %8s %8s %12s %12s %12s\n", "operation", "count", "failed", "avg", "min", "max")
	for _, s := range m.Snapshot() {
		fmt.Fprintf(&b, "%-20s %8d %8d %12s %12s %12s\n", s.Name, s.Count, s.Failures, s.Avg(), s.Min, s.Max)
	}
	return b.String()
}
