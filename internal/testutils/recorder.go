package testutils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/srg/flexlink/internal/session"
)

const waitTimeout = 2 * time.Second

// Recorder captures everything a Session emits
type Recorder struct {
	mu       sync.Mutex
	changes  []session.StateChange
	readings []session.Reading
}

// RecordSession attaches a Recorder to s
func RecordSession(s *session.Session) *Recorder {
	r := &Recorder{}
	s.OnStateChange(func(c session.StateChange) {
		r.mu.Lock()
		r.changes = append(r.changes, c)
		r.mu.Unlock()
	})
	s.OnReading(func(rd session.Reading) {
		r.mu.Lock()
		r.readings = append(r.readings, rd)
		r.mu.Unlock()
	})
	return r
}

func (r *Recorder) Changes() []session.StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.StateChange(nil), r.changes...)
}

// Transitions returns the sequence of entered states
func (r *Recorder) Transitions() []session.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.ConnectionState, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.Next.Kind
	}
	return out
}

func (r *Recorder) Readings() []session.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Reading(nil), r.readings...)
}

// Reset forgets everything recorded so far
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = nil
	r.readings = nil
}

// WaitForState waits until a transition into kind was recorded and returns the last such change
func (r *Recorder) WaitForState(t testing.TB, kind session.ConnectionState) session.StateChange {
	t.Helper()
	var found session.StateChange
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i := len(r.changes) - 1; i >= 0; i-- {
			if r.changes[i].Next.Kind == kind {
				found = r.changes[i]
				return true
			}
		}
		return false
	}, waitTimeout, 5*time.Millisecond, "state %s never reached", kind)
	return found
}

// WaitForReadings waits until at least n readings were recorded
func (r *Recorder) WaitForReadings(t testing.TB, n int) []session.Reading {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.readings) >= n
	}, waitTimeout, 5*time.Millisecond, "expected %d readings", n)
	return r.Readings()
}
