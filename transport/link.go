package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LinkConfig tunes one WebSocket link.
type LinkConfig struct {
	Buffers

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// MaxFrameSize caps inbound frames; a larger frame ends the link.
	MaxFrameSize int64

	// PingInterval enables keepalive pings when positive.
	PingInterval time.Duration
}

// DefaultLinkConfig returns 10s writes, 1 MiB frames and 30s pings.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		Buffers:      DefaultBuffers(),
		WriteTimeout: 10 * time.Second,
		MaxFrameSize: 1 << 20,
		PingInterval: 30 * time.Second,
	}
}

// WSLink is the accepting side of a peer platform's connection.
type WSLink struct {
	conn   *websocket.Conn
	config LinkConfig

	in   chan *Frame
	out  chan *Frame
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

var _ Link = (*WSLink)(nil)

// NewWSLink wraps an upgraded connection.
func NewWSLink(conn *websocket.Conn, cfg LinkConfig) *WSLink {
	defaults := DefaultBuffers()
	if cfg.Inbound <= 0 {
		cfg.Inbound = defaults.Inbound
	}
	if cfg.Outbound <= 0 {
		cfg.Outbound = defaults.Outbound
	}
	if cfg.MaxFrameSize > 0 {
		conn.SetReadLimit(cfg.MaxFrameSize)
	}
	return &WSLink{
		conn:   conn,
		config: cfg,
		in:     make(chan *Frame, cfg.Inbound),
		out:    make(chan *Frame, cfg.Outbound),
		done:   make(chan struct{}),
	}
}

// newUpgrader accepts any origin: peers are platforms, not browsers.
func newUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
}

func (l *WSLink) Frames() <-chan *Frame {
	return l.in
}

// Send queues f; it fails with ErrClosed once the link is closed.
func (l *WSLink) Send(f *Frame) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}

	select {
	case l.out <- f:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// Run returns ctx.Err() when ctx ends and nil when the peer hangs up or
// the link is closed. Frames is closed on return.
func (l *WSLink) Run(ctx context.Context) error {
	readDone := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		defer close(readDone)
		l.read()
	}()
	go func() {
		defer close(writeDone)
		l.write()
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-readDone:
	case <-l.done:
	}

	l.Close()
	<-readDone
	<-writeDone
	return err
}

// Close sends a close frame and drops the connection. Repeated calls are
// no-ops.
func (l *WSLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	l.mu.Unlock()

	l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return l.conn.Close()
}

func (l *WSLink) read() {
	defer close(l.in)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := DecodeFrame(data)
		if err != nil {
			l.reject(err)
			continue
		}
		select {
		case l.in <- f:
		case <-l.done:
			return
		}
	}
}

// write owns the connection's write side; gorilla allows one writer.
func (l *WSLink) write() {
	var ping <-chan time.Time
	if l.config.PingInterval > 0 {
		t := time.NewTicker(l.config.PingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-l.done:
			return
		case <-ping:
			l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
		case f := <-l.out:
			data, err := f.Encode()
			if err != nil {
				continue
			}
			if l.config.WriteTimeout > 0 {
				l.conn.SetWriteDeadline(time.Now().Add(l.config.WriteTimeout))
			}
			l.conn.WriteMessage(websocket.TextMessage, data)
		}
	}
}

// reject answers an undecodable frame; the id is unknown so it is null.
func (l *WSLink) reject(err error) {
	rpcErr, ok := err.(*Error)
	if !ok {
		rpcErr = &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}
	l.Send(ErrorFrame(nil, rpcErr.Code, rpcErr.Message, rpcErr.Data))
}
