// Package scheduler keeps one pending turn-deadline timer per room and
// fires a handler when the deadline passes. It is in-process state only;
// room truth stays in storage, and a missed fire after a restart is
// recovered by client-driven timeout checks.
package scheduler

import (
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// fireSlack delays fires slightly past the deadline so the stored
// deadline is unambiguously in the past when the handler loads the room.
const fireSlack = 20 * time.Millisecond

// FireFunc handles an elapsed room deadline.
type FireFunc func(roomCode string)

type entry struct {
	timer *time.Timer
	seq   uint64
}

// Registry implements ports.TimeoutScheduler over time.AfterFunc.
// Scheduling a room replaces its pending timer; Cancel guarantees a
// canceled entry never reaches the handler, even if its timer already
// fired into the goroutine queue.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
	fire    FireFunc
	logger  runtime.Logger
}

func New(logger runtime.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// SetHandler binds the fire handler. The handler drives the engine, which
// in turn schedules on this registry, so the binding happens after both
// exist.
func (r *Registry) SetHandler(fn FireFunc) {
	r.mu.Lock()
	r.fire = fn
	r.mu.Unlock()
}

// Schedule arms the room's deadline timer, replacing any pending one.
func (r *Registry) Schedule(roomCode string, deadline time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[roomCode]; ok {
		prev.timer.Stop()
	}
	r.seq++
	seq := r.seq

	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	en := &entry{seq: seq}
	en.timer = time.AfterFunc(d+fireSlack, func() {
		r.fired(roomCode, seq)
	})
	r.entries[roomCode] = en
}

// Cancel disarms the room's pending timer, if any.
func (r *Registry) Cancel(roomCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if en, ok := r.entries[roomCode]; ok {
		en.timer.Stop()
		delete(r.entries, roomCode)
	}
}

func (r *Registry) fired(roomCode string, seq uint64) {
	r.mu.Lock()
	en, ok := r.entries[roomCode]
	if !ok || en.seq != seq {
		// replaced or canceled while the fire was in flight
		r.mu.Unlock()
		return
	}
	delete(r.entries, roomCode)
	fn := r.fire
	r.mu.Unlock()

	if fn == nil {
		if r.logger != nil {
			r.logger.Warn("Registry: deadline for room %s fired with no handler bound", roomCode)
		}
		return
	}
	fn(roomCode)
}
