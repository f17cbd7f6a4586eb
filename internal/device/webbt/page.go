package webbt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/flexlink/internal/device"
	"github.com/srg/flexlink/internal/groutine"
)

const writeWait = 5 * time.Second

// page is one attached browser tab
type page struct {
	conn   *websocket.Conn
	logger *logrus.Logger

	writeMu  sync.Mutex
	nextID   atomic.Uint64
	pending  *hashmap.Map[uint64, chan message]
	sessions *hashmap.Map[string, *gattSession]

	done      chan struct{}
	closeOnce sync.Once
}

func newPage(conn *websocket.Conn, logger *logrus.Logger) *page {
	return &page{
		conn:     conn,
		logger:   logger,
		pending:  hashmap.New[uint64, chan message](),
		sessions: hashmap.New[string, *gattSession](),
		done:     make(chan struct{}),
	}
}

func (p *page) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *page) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
		p.sessions.Range(func(_ string, s *gattSession) bool {
			s.markDisconnected()
			return true
		})
	})
}

// readLoop routes replies to their callers and events to sessions
func (p *page) readLoop(ctx context.Context) {
	defer p.close()
	for {
		var msg message
		if err := p.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.WithField("error", err).Debug("Bridge page read failed")
			}
			return
		}

		if msg.Event != "" {
			p.handleEvent(msg)
			continue
		}
		if ch, ok := p.pending.Get(msg.ID); ok {
			p.pending.Del(msg.ID)
			ch <- msg
		} else {
			p.logger.WithField("id", msg.ID).Debug("Reply for unknown request")
		}
	}
}

func (p *page) handleEvent(msg message) {
	if msg.Device == nil {
		return
	}
	s, ok := p.sessions.Get(msg.Device.ID)
	if !ok {
		return
	}
	switch msg.Event {
	case eventNotification:
		s.dispatch(msg.Characteristic, msg.Data)
	case eventDisconnected:
		s.markDisconnected()
	default:
		p.logger.WithField("event", msg.Event).Debug("Unknown bridge event")
	}
}

// call sends req and waits for its reply
func (p *page) call(ctx context.Context, req request) (message, error) {
	req.ID = p.nextID.Add(1)
	ch := make(chan message, 1)
	p.pending.Set(req.ID, ch)
	defer p.pending.Del(req.ID)

	p.writeMu.Lock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := p.conn.WriteJSON(req)
	p.writeMu.Unlock()
	if err != nil {
		p.close()
		return message{}, &device.TransportError{Kind: device.NotConnected, Msg: "bridge page went away"}
	}

	p.logger.WithFields(logrus.Fields{
		"id": req.ID,
		"op": req.Op,
	}).Debug("Bridge request sent")

	select {
	case msg := <-ch:
		if !msg.OK {
			if msg.Error == nil {
				msg.Error = &domError{Name: "UnknownError", Message: "request failed"}
			}
			return msg, msg.Error.toError(req)
		}
		return msg, nil
	case <-p.done:
		return message{}, &device.TransportError{Kind: device.NotConnected, Msg: "bridge page went away"}
	case <-ctx.Done():
		return message{}, ctx.Err()
	}
}

func (p *page) serve(ctx context.Context) {
	groutine.Go(ctx, "webbt-page-reader", p.readLoop)
}
