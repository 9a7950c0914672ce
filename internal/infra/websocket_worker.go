package infra

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState models the connection lifecycle:
// Closed → Connecting → Open → (Closing|Failed) → Closed.
type ConnState int32

const (
	StateClosed ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// FeedHandler defines feed-specific logic for the FeedConn.
type FeedHandler interface {
	URL() string
	// OnOpen is called after each (re)connect; this is where subscription
	// frames are sent. An error tears the connection down and retries.
	OnOpen(ctx context.Context, conn *websocket.Conn) error
	OnFrame(ctx context.Context, msg []byte)
	ID() string
}

// FeedConn manages the lifecycle of a WebSocket connection: dialing, the read
// loop, keepalive pings, and reconnection with jittered backoff. Writes are
// serialized and only permitted while the connection is Open.
type FeedConn struct {
	handler FeedHandler
	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	state   atomic.Int32

	// OnStatus, if set, is called on every state change with the current
	// consecutive-failure count. Called from the connection goroutine.
	OnStatus func(state ConnState, retries int)

	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// NewFeedConn creates a connection manager around the given handler.
func NewFeedConn(handler FeedHandler) *FeedConn {
	return &FeedConn{
		handler:      handler,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Start launches the connect/read loop.
func (w *FeedConn) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.runLoop(ctx)
}

// Stop terminates the connection and waits for the loop to exit.
func (w *FeedConn) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.setState(StateClosing, 0)
	w.close()
	w.wg.Wait()
	w.setState(StateClosed, 0)
}

// State returns the current connection state.
func (w *FeedConn) State() ConnState {
	return ConnState(w.state.Load())
}

func (w *FeedConn) setState(s ConnState, retries int) {
	w.state.Store(int32(s))
	if w.OnStatus != nil {
		w.OnStatus(s, retries)
	}
}

func (w *FeedConn) runLoop(ctx context.Context) {
	defer w.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.setState(StateConnecting, retry)
		if err := w.connect(ctx); err != nil {
			w.setState(StateFailed, retry+1)
			delay := JitteredBackoff(retry)
			slog.Warn("feed connect failed",
				"id", w.handler.ID(), "err", err, "retry", retry, "delay", delay)
			retry++

			// Backoff sleep happens here, with no lock held.
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0
		w.setState(StateOpen, 0)
		w.process(ctx)

		// Read loop exited: either shutdown or a dropped connection.
		select {
		case <-ctx.Done():
			return
		default:
			w.setState(StateFailed, retry)
		}
	}
}

func (w *FeedConn) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, w.handler.URL(), nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	// Mark Open before OnOpen so subscription frames pass the state check.
	w.state.Store(int32(StateOpen))
	if err := w.handler.OnOpen(ctx, conn); err != nil {
		w.close()
		return fmt.Errorf("OnOpen failed: %w", err)
	}

	if w.PingInterval > 0 {
		go w.pingLoop(ctx)
	}

	slog.Info("feed connected", "id", w.handler.ID())
	return nil
}

func (w *FeedConn) process(ctx context.Context) {
	for {
		w.mu.RLock()
		c := w.conn
		w.mu.RUnlock()
		if c == nil {
			return
		}

		c.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			slog.Warn("feed read error", "id", w.handler.ID(), "err", err)
			w.close()
			return
		}

		w.handler.OnFrame(ctx, msg)
	}
}

func (w *FeedConn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(w.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			c := w.conn
			w.mu.RUnlock()
			if c == nil {
				return
			}
			w.writeMu.Lock()
			err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			w.writeMu.Unlock()
			if err != nil {
				slog.Warn("feed ping error", "id", w.handler.ID(), "err", err)
				w.close()
				return
			}
		}
	}
}

// Write sends a frame. It fails if the connection is not Open.
func (w *FeedConn) Write(msgType int, data []byte) error {
	if w.State() != StateOpen {
		return fmt.Errorf("feed not open (state=%s)", w.State())
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	c := w.conn
	w.mu.RUnlock()

	if c == nil {
		return fmt.Errorf("feed not connected")
	}

	return c.WriteMessage(msgType, data)
}

func (w *FeedConn) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
