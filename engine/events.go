package engine

import (
	"sync"

	"github.com/juruen/inkcore/ink"
	"github.com/juruen/inkcore/log"
	"github.com/juruen/inkcore/recognition"
)

type EventType int

const (
	// StrokeCollected is sent once per applied add, with every stroke of
	// the batch.
	StrokeCollected EventType = iota
	StrokeRemoved
	StrokesCleared
	// RecognitionCompleted carries the classification of the strokes of
	// an add. Failed recognitions are delivered too.
	RecognitionCompleted
)

func (t EventType) String() string {
	switch t {
	case StrokeCollected:
		return "StrokeCollected"
	case StrokeRemoved:
		return "StrokeRemoved"
	case StrokesCleared:
		return "StrokesCleared"
	case RecognitionCompleted:
		return "RecognitionCompleted"
	}
	return "Unknown"
}

type Event struct {
	Type    EventType
	Strokes []*ink.StrokeData
	Result  recognition.Result
}

// broker fans events out to subscribers. Sends never block: a subscriber
// whose buffer is full misses the event.
type broker struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan Event)}
}

func (b *broker) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

func (b *broker) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Trace.Printf("engine: subscriber %d is slow, dropped %s", id, ev.Type)
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
