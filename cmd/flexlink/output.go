package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/srg/flexlink/internal/calibrate"
	"github.com/srg/flexlink/internal/groutine"
	"github.com/srg/flexlink/internal/session"
	"github.com/srg/flexlink/pkg/config"
)

const outputFlushInterval = 20 * time.Millisecond

// formatFunc renders one reading as a single output line, newline included
type formatFunc func(r session.Reading) ([]byte, error)

// readingRecord is the JSON line written with --format json
type readingRecord struct {
	Seq       uint64    `json:"seq"`
	Channel   string    `json:"channel"`
	Values    []float64 `json:"values"`
	Angles    []float64 `json:"angles,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// angleChannel is the only channel that --angles rewrites
const angleChannel = "flex"

func newFormatter(format string, calib *calibrate.Calibration) (formatFunc, error) {
	angles := func(r session.Reading) []float64 {
		if calib == nil || r.Channel != angleChannel {
			return nil
		}
		return calib.Angles(r.Values)
	}

	switch format {
	case config.FormatText:
		return func(r session.Reading) ([]byte, error) {
			var b strings.Builder
			b.WriteString(r.Channel)
			values := r.Values
			if a := angles(r); a != nil {
				values = a
			}
			for _, v := range values {
				b.WriteByte(' ')
				b.WriteString(formatValue(v))
			}
			b.WriteByte('\n')
			return []byte(b.String()), nil
		}, nil
	case config.FormatJSON:
		return func(r session.Reading) ([]byte, error) {
			line, err := json.Marshal(readingRecord{
				Seq:       r.Seq,
				Channel:   r.Channel,
				Values:    r.Values,
				Angles:    angles(r),
				Timestamp: r.Timestamp.UTC(),
			})
			if err != nil {
				return nil, err
			}
			return append(line, '\n'), nil
		}, nil
	default:
		return nil, fmt.Errorf("invalid format %q: use %s or %s", format, config.FormatText, config.FormatJSON)
	}
}

// formatValue prints at most four decimals without trailing zeros
func formatValue(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e4)/1e4, 'f', -1, 64)
}

// readingSink decouples session delivery from terminal output. Readings go
// into an overlapping ring so a slow writer loses the oldest lines instead of
// stalling notification delivery.
type readingSink struct {
	buffer mpmc.RichOverlappedRingBuffer[session.Reading]
	format formatFunc
	out    io.Writer
	logger *logrus.Logger

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}

	written     atomic.Uint64
	overwritten atomic.Uint64
}

func newReadingSink(out io.Writer, format formatFunc, size uint32, logger *logrus.Logger) *readingSink {
	return &readingSink{
		buffer: mpmc.NewOverlappedRingBuffer[session.Reading](size),
		format: format,
		out:    out,
		logger: logger,
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Push is the session reading listener
func (k *readingSink) Push(r session.Reading) {
	overwrites, err := k.buffer.EnqueueM(r)
	if err != nil {
		k.logger.WithError(err).Warn("Dropping reading")
		return
	}
	if overwrites > 0 {
		k.overwritten.Add(uint64(overwrites))
	}
	select {
	case k.notify <- struct{}{}:
	default:
	}
}

func (k *readingSink) Start(ctx context.Context) {
	groutine.Go(ctx, "stream-output", func(ctx context.Context) {
		defer close(k.done)
		ticker := time.NewTicker(outputFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-k.stop:
				k.flush()
				return
			case <-k.notify:
				k.flush()
			case <-ticker.C:
				k.flush()
			}
		}
	})
}

// Stop writes whatever is still queued and waits for the writer to exit
func (k *readingSink) Stop() {
	select {
	case <-k.stop:
		return
	default:
		close(k.stop)
	}
	<-k.done
	if n := k.overwritten.Load(); n > 0 {
		k.logger.WithField("overwritten", n).Warn("Output could not keep up; oldest readings were dropped")
	}
}

func (k *readingSink) flush() {
	for !k.buffer.IsEmpty() {
		r, err := k.buffer.Dequeue()
		if err != nil {
			return
		}
		line, err := k.format(r)
		if err != nil {
			k.logger.WithError(err).Warn("Failed to format reading")
			continue
		}
		if _, err := k.out.Write(line); err != nil {
			k.logger.WithError(err).Debug("Output write failed")
			continue
		}
		k.written.Add(1)
	}
}

var (
	stateOK    = color.New(color.FgGreen)
	stateBusy  = color.New(color.FgYellow)
	stateError = color.New(color.FgRed, color.Bold)
	stateIdle  = color.New(color.Faint)
)

// stateLine renders a transition for the status stream
func stateLine(ch session.StateChange, deviceName string) string {
	switch ch.Next.Kind {
	case session.StateScanning:
		return stateBusy.Sprint("Scanning for glove...")
	case session.StateConnecting:
		return stateBusy.Sprintf("Connecting to %s...", deviceName)
	case session.StateConnected:
		return stateOK.Sprintf("Connected to %s", deviceName)
	case session.StateError:
		if ch.Err != nil {
			return stateError.Sprintf("Error: %s", FormatUserError(ch.Err))
		}
		return stateError.Sprintf("Error: %s", ch.Next.Reason)
	default:
		if ch.PeerInitiated {
			return stateError.Sprint("Glove disconnected")
		}
		return stateIdle.Sprint("Disconnected")
	}
}
