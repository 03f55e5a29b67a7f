package engine

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/juruen/inkcore/ink"
	"github.com/juruen/inkcore/perf"
)

type commandKind int

const (
	cmdAdd commandKind = iota
	cmdAddBatch
	cmdRemove
	cmdClear
)

func (k commandKind) String() string {
	switch k {
	case cmdAdd:
		return "add"
	case cmdAddBatch:
		return "add batch"
	case cmdRemove:
		return "remove"
	case cmdClear:
		return "clear"
	}
	return "unknown"
}

func (k commandKind) opName() string {
	switch k {
	case cmdAdd:
		return perf.OpStrokeAdd
	case cmdAddBatch:
		return perf.OpStrokeAddBatch
	case cmdRemove:
		return perf.OpStrokeRemove
	default:
		return perf.OpClear
	}
}

// command states; a command leaves pending exactly once.
const (
	statePending int32 = iota
	stateRunning
	stateCancelled
)

type command struct {
	kind    commandKind
	strokes []*ink.StrokeData
	id      uuid.UUID

	state atomic.Int32
	// done receives the outcome, or is closed if the engine shut down
	// before the command ran.
	done chan error
}

func newCommand(kind commandKind) *command {
	return &command{kind: kind, done: make(chan error, 1)}
}

// start moves a pending command to running. It fails if the caller gave up
// first.
func (c *command) start() bool {
	return c.state.CompareAndSwap(statePending, stateRunning)
}

// cancel withdraws a command that has not started.
func (c *command) cancel() bool {
	return c.state.CompareAndSwap(statePending, stateCancelled)
}
