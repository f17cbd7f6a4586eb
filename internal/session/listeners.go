package session

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

type listener[T any] struct {
	fn     func(T)
	active atomic.Bool
}

// listenerList is a copy-on-write list. Dispatch iterates a snapshot, so
// listeners may add or remove entries (including themselves) mid-dispatch.
type listenerList[T any] struct {
	mu      sync.Mutex
	entries []*listener[T]
}

func (l *listenerList[T]) add(fn func(T)) func() {
	entry := &listener[T]{fn: fn}
	entry.active.Store(true)

	l.mu.Lock()
	next := make([]*listener[T], len(l.entries), len(l.entries)+1)
	copy(next, l.entries)
	l.entries = append(next, entry)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.active.Store(false)
			l.mu.Lock()
			defer l.mu.Unlock()
			next := make([]*listener[T], 0, len(l.entries))
			for _, e := range l.entries {
				if e != entry {
					next = append(next, e)
				}
			}
			l.entries = next
		})
	}
}

func (l *listenerList[T]) snapshot() []*listener[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries
}

func (l *listenerList[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// emit calls every active listener; a panicking listener is logged and skipped.
func (l *listenerList[T]) emit(logger *logrus.Logger, kind string, v T) {
	for _, e := range l.snapshot() {
		if !e.active.Load() {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.WithFields(logrus.Fields{
						"listener": kind,
						"panic":    r,
					}).Error("listener panicked")
				}
			}()
			e.fn(v)
		}()
	}
}
