package session

import (
	"sync"

	"github.com/srg/flexlink/internal/groutine"
)

type event struct {
	change  *StateChange
	reading *Reading
	epoch   uint64
	ticket  uint64
}

// dispatcher serializes delivery of queued events. Events are queued while
// the session lock is held and delivered outside it by one goroutine at a
// time. Re-entrant calls from listeners only enqueue; the outer loop picks
// their events up in order once the listener returns.
type dispatcher struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []event
	pushed    uint64
	delivered uint64
	draining  bool
	owner     uint64
}

func (d *dispatcher) push(ev event) {
	d.mu.Lock()
	d.pushed++
	ev.ticket = d.pushed
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
}

// drain delivers the queue unless another goroutine already is.
func (d *dispatcher) drain(deliver func(event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.draining {
		return
	}
	d.run(0, deliver)
}

// drainSync returns once every event queued before the call has been
// delivered, waiting for a concurrent drainer if needed. Called from a
// listener on the delivering goroutine it returns at once.
func (d *dispatcher) drainSync(deliver func(event)) {
	gid := groutine.GetGID()

	d.mu.Lock()
	defer d.mu.Unlock()
	target := d.pushed
	for d.delivered < target {
		switch {
		case !d.draining:
			d.run(gid, deliver)
		case d.owner == gid:
			return
		default:
			d.waitCond().Wait()
		}
	}
}

// run delivers until the queue is empty. d.mu is held on entry and exit.
func (d *dispatcher) run(owner uint64, deliver func(event)) {
	d.draining = true
	d.owner = owner
	for len(d.queue) > 0 {
		ev := d.queue[0]
		d.queue[0] = event{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		deliver(ev)

		d.mu.Lock()
		d.delivered = ev.ticket
		d.broadcast()
	}
	d.draining = false
	d.owner = 0
	d.queue = nil
	d.broadcast()
}

func (d *dispatcher) waitCond() *sync.Cond {
	if d.cond == nil {
		d.cond = sync.NewCond(&d.mu)
	}
	return d.cond
}

func (d *dispatcher) broadcast() {
	if d.cond != nil {
		d.cond.Broadcast()
	}
}
