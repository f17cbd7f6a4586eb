// Package webbt drives a browser's Web Bluetooth API from Go.
// The browser opens the bridge page served by Handler; the page keeps a
// websocket to the process and executes GATT requests on its behalf.
package webbt

import (
	"context"
	_ "embed"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/flexlink/internal/device"
)

//go:embed index.html
var indexHTML []byte

// Bridge implements device.Transport over an attached browser page
type Bridge struct {
	logger   *logrus.Logger
	upgrader websocket.Upgrader
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	page     *page
	attached chan struct{}
}

func NewBridge(logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:      ctx,
		cancel:   cancel,
		attached: make(chan struct{}),
	}
}

// Handler serves the bridge page at / and its websocket at /ws
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(indexHTML)
	})
	mux.HandleFunc("/ws", b.serveWS)
	return mux
}

func (b *Bridge) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.WithField("error", err).Warn("Bridge websocket upgrade failed")
		return
	}

	p := newPage(conn, b.logger)

	b.mu.Lock()
	prev := b.page
	b.page = p
	close(b.attached)
	b.attached = make(chan struct{})
	b.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	b.logger.WithField("remote", r.RemoteAddr).Info("Bridge page attached")
	p.serve(b.ctx)
}

// Close detaches the current page
func (b *Bridge) Close() error {
	b.cancel()
	b.mu.Lock()
	p := b.page
	b.page = nil
	b.mu.Unlock()
	if p != nil {
		p.close()
	}
	return nil
}

// waitPage blocks until a live page is attached or ctx is done
func (b *Bridge) waitPage(ctx context.Context) (*page, error) {
	for {
		b.mu.Lock()
		p, ch := b.page, b.attached
		b.mu.Unlock()
		if p != nil && !p.closed() {
			return p, nil
		}

		b.logger.Debug("Waiting for bridge page to attach")
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// RequestDevice asks the page to open the browser's device chooser
func (b *Bridge) RequestDevice(ctx context.Context, serviceUUID string) (device.DeviceHandle, error) {
	p, err := b.waitPage(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := p.call(ctx, request{Op: opRequestDevice, Service: device.ExpandUUID(serviceUUID)})
	if err != nil {
		return nil, err
	}
	if msg.Device == nil || msg.Device.ID == "" {
		return nil, &device.TransportError{Kind: device.DeviceNotFound, Msg: "page returned no device"}
	}
	return device.Handle{Address: msg.Device.ID, LocalName: msg.Device.Name}, nil
}

func (b *Bridge) Connect(ctx context.Context, handle device.DeviceHandle) (device.GattSession, error) {
	p, err := b.waitPage(ctx)
	if err != nil {
		return nil, err
	}

	s := newGattSession(p, handle.ID())
	p.sessions.Set(handle.ID(), s)
	if _, err := p.call(ctx, request{Op: opConnect, Device: handle.ID()}); err != nil {
		p.sessions.Del(handle.ID())
		return nil, err
	}
	return s, nil
}
