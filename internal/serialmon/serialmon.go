// Package serialmon mirrors the glove's decoded readings onto a pseudo-terminal
// so any serial console (screen, minicom, an IDE monitor) can follow them.
//
//	mon, err := serialmon.Open(serialmon.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer mon.Close()
//	fmt.Println("serial monitor at", mon.TTYName())
//	fmt.Fprintf(mon, "flex 10 20 30 40 50\n")
//
// Writes never block. When nobody drains the terminal the buffer keeps the
// newest bytes and counts what it dropped.
package serialmon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/flexlink/internal/groutine"
)

type Options struct {
	BufferSize  int           `default:"65536"`
	PollTimeout time.Duration `default:"50ms"`
	Logger      *logrus.Logger
}

// Stats are running counters for the monitor
type Stats struct {
	Queued  int
	Written uint64
	Dropped uint64
}

type Monitor struct {
	logger      *logrus.Logger
	master      *os.File
	masterFd    int
	slave       *os.File
	ttyName     string
	pollTimeout int

	bufMu sync.Mutex
	buf   *ringbuffer.RingBuffer

	written atomic.Uint64
	dropped atomic.Uint64
	closed  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ io.WriteCloser = (*Monitor)(nil)

// Open creates the pseudo-terminal pair and starts the writer
func Open(opts Options) (*Monitor, error) {
	defaults.SetDefaults(&opts)
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	master, fd, slave, err := openPTY()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		logger:      logger,
		master:      master,
		masterFd:    fd,
		slave:       slave,
		ttyName:     slave.Name(),
		pollTimeout: int(opts.PollTimeout / time.Millisecond),
		buf:         ringbuffer.New(opts.BufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}

	m.wg.Add(1)
	groutine.Go(ctx, "serialmon-write-loop", func(ctx context.Context) {
		defer m.wg.Done()
		m.writeLoop(ctx)
	})

	logger.WithField("tty", m.ttyName).Info("Serial monitor opened")
	return m, nil
}

// TTYName is the slave device path, e.g. /dev/pts/5
func (m *Monitor) TTYName() string {
	return m.ttyName
}

// Write queues p for the terminal. It always accepts the whole of p.
func (m *Monitor) Write(p []byte) (int, error) {
	if m.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	m.bufMu.Lock()
	dropped, err := pushDropOldest(m.buf, p)
	m.bufMu.Unlock()
	if err != nil {
		return 0, err
	}
	if dropped > 0 {
		m.dropped.Add(uint64(dropped))
		m.logger.WithField("dropped", dropped).Debug("Serial monitor buffer overflow")
	}
	return len(p), nil
}

func (m *Monitor) Stats() Stats {
	return Stats{
		Queued:  m.buf.Length(),
		Written: m.written.Load(),
		Dropped: m.dropped.Load(),
	}
}

func (m *Monitor) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.cancel()
	m.wg.Wait()

	var errs []error
	if err := m.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pty master: %w", err))
	}
	if err := m.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pty slave: %w", err))
	}
	m.logger.WithField("tty", m.ttyName).Debug("Serial monitor closed")
	return errors.Join(errs...)
}

func (m *Monitor) writeLoop(ctx context.Context) {
	pollFd := []unix.PollFd{{Fd: int32(m.masterFd), Events: unix.POLLOUT}}
	chunk := make([]byte, 4096)

	for ctx.Err() == nil {
		m.bufMu.Lock()
		n, err := m.buf.TryRead(chunk)
		m.bufMu.Unlock()
		if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
			time.Sleep(time.Duration(m.pollTimeout) * time.Millisecond)
			continue
		}

		for off := 0; off < n && ctx.Err() == nil; {
			w, err := m.master.Write(chunk[off:n])
			if w > 0 {
				off += w
				m.written.Add(uint64(w))
			}
			switch {
			case err == nil:
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				if _, perr := unix.Poll(pollFd, m.pollTimeout); perr != nil && !errors.Is(perr, syscall.EINTR) {
					m.logger.WithField("error", perr).Warn("Serial monitor poll failed")
				}
			default:
				m.logger.WithField("error", err).Warn("Serial monitor write loop exiting")
				return
			}
		}
	}
}

// pushDropOldest writes p, discarding the oldest queued bytes to make room.
// When p alone exceeds capacity only its tail is kept.
func pushDropOldest(rb *ringbuffer.RingBuffer, p []byte) (int, error) {
	dropped := 0
	if c := rb.Capacity(); len(p) > c {
		dropped += len(p) - c
		p = p[len(p)-c:]
	}
	if need := len(p) - rb.Free(); need > 0 {
		discard := make([]byte, need)
		n, err := rb.TryRead(discard)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return dropped, err
		}
		dropped += n
	}
	if _, err := rb.Write(p); err != nil {
		return dropped, err
	}
	return dropped, nil
}

// openPTY returns the master, its raw fd and the slave. Fd() switches a file
// back to blocking mode, so the fd is taken once before SetNonblock.
func openPTY() (*os.File, int, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	cleanup := func(cause error) error {
		return errors.Join(cause, master.Close(), slave.Close())
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return nil, 0, nil, cleanup(fmt.Errorf("failed to set %s to raw mode: %w", slave.Name(), err))
	}
	fd := int(master.Fd())
	if err := syscall.SetNonblock(fd, true); err != nil {
		return nil, 0, nil, cleanup(fmt.Errorf("failed to set PTY master nonblocking: %w", err))
	}
	return master, fd, slave, nil
}
