package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/flexlink/internal/groutine"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows the current session phase with a countdown until the
// phase deadline.
//
//	p := NewProgressPrinter(os.Stderr, "Looking for glove", "scanning", 10*time.Second, "connected")
//	p.Start()
//	defer p.Stop()
//
// Phases named in stopPhases end the display. A ProgressPrinter is single-use.
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	phase      atomic.Value
	stopPhases map[string]struct{}
	duration   time.Duration
	startTime  time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

func NewProgressPrinter(out io.Writer, prefix, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		stopPhases: stopSet,
		duration:   duration,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	p.startTime = time.Now()
	p.print(p.phase.Load().(string), 0)

	groutine.Go(context.Background(), "progress-printer", func(ctx context.Context) {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				phase := p.phase.Load().(string)
				if _, stop := p.stopPhases[phase]; stop {
					return
				}
				p.print(phase, p.remaining())
			}
		}
	})
}

// remaining rounds the countdown to the nearest second, never below zero
func (p *ProgressPrinter) remaining() int {
	left := p.duration - time.Since(p.startTime)
	if left <= 0 {
		return 0
	}
	return int(left.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Callback returns a phase setter. A stop phase stops the printer.
// Safe to call from multiple goroutines.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop clears the progress line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		if p.started.Load() {
			<-p.done
		}
		fmt.Fprint(p.out, clearLineSequence)
	})
}
