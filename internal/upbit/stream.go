package upbit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"coinpaper/internal/domain"
	"coinpaper/internal/infra"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Channel is a logical push-subscription category.
type Channel string

const (
	ChannelTicker    Channel = "ticker"
	ChannelOrderBook Channel = "orderbook"
	ChannelTrade     Channel = "trade"
)

// CandleChannel returns the channel for a candle interval, e.g. "candle.1s".
func CandleChannel(interval string) Channel {
	return Channel("candle." + interval)
}

// IsCandle reports whether the channel is a candle channel and, if so, its
// interval.
func (c Channel) IsCandle() (string, bool) {
	s := string(c)
	if strings.HasPrefix(s, "candle.") && len(s) > len("candle.") {
		return s[len("candle."):], true
	}
	return "", false
}

// MessageHandler receives demultiplexed, typed feed messages. A handler only
// gets calls for the (instrument, channel) pairs it subscribed to.
type MessageHandler interface {
	HandleTicker(t domain.TickerSnapshot)
	HandleOrderBook(b domain.OrderBookSnapshot)
	HandleTrade(e domain.TradeEvent)
	HandleCandle(c domain.CandleSnapshot)
}

// Subscription is the registration handle returned by Subscribe.
type Subscription struct {
	key subKey
	id  int
}

// NewSubscription builds a handle from its parts, for Streamer
// implementations other than StreamManager.
func NewSubscription(code string, ch Channel, id int) Subscription {
	return Subscription{key: subKey{code: code, ch: ch}, id: id}
}

// ID returns the registration identifier within the manager.
func (s Subscription) ID() int { return s.id }

type subKey struct {
	code string
	ch   Channel
}

// StreamManager owns the WebSocket connection to the market-data feed. It
// tracks the desired (instrument, channel) set, sends the full desired set on
// every change (the feed protocol has no incremental add/remove), reopens the
// connection with backoff after failures, and demultiplexes inbound frames by
// message kind to the registered handlers.
type StreamManager struct {
	url    string
	ticket string

	mu      sync.Mutex
	desired map[subKey]map[int]MessageHandler
	nextID  int
	conn    *infra.FeedConn
	ctx     context.Context
	running bool

	// OnHealth, if set, is told when the connection enters or leaves a
	// degraded state (repeated reconnect failures).
	OnHealth func(healthy bool)
}

// NewStreamManager creates a manager for the given feed URL. Start must be
// called before Subscribe.
func NewStreamManager(url string) *StreamManager {
	return &StreamManager{
		url:     url,
		ticket:  uuid.NewString(),
		desired: make(map[subKey]map[int]MessageHandler),
	}
}

// Start binds the manager to a lifecycle context. No connection is opened
// until the first Subscribe.
func (m *StreamManager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = ctx
}

// Stop closes the connection regardless of the desired set.
func (m *StreamManager) Stop() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.running = false
	m.mu.Unlock()

	if conn != nil {
		conn.Stop()
	}
}

// Subscribe registers interest in one (instrument, channel) pair. The first
// subscription opens the connection; subsequent ones resend the full desired
// set. The returned handle is used for Unsubscribe.
func (m *StreamManager) Subscribe(code string, ch Channel, h MessageHandler) Subscription {
	m.mu.Lock()
	key := subKey{code: code, ch: ch}
	if m.desired[key] == nil {
		m.desired[key] = make(map[int]MessageHandler)
	}
	m.nextID++
	id := m.nextID
	m.desired[key][id] = h

	var conn *infra.FeedConn
	start := false
	if !m.running {
		m.conn = infra.NewFeedConn(m)
		m.conn.OnStatus = m.onConnStatus
		m.running = true
		start = true
	}
	conn = m.conn
	ctx := m.ctx
	m.mu.Unlock()

	if start {
		if ctx == nil {
			ctx = context.Background()
		}
		conn.Start(ctx)
	} else {
		// Connection already up: push the updated full desired set. If the
		// connection is mid-reconnect the frame is sent by OnOpen instead.
		m.sendDesired(conn)
	}

	return Subscription{key: key, id: id}
}

// Unsubscribe removes a registration. Emptying the desired set closes the
// connection.
func (m *StreamManager) Unsubscribe(sub Subscription) {
	m.mu.Lock()
	if handlers, ok := m.desired[sub.key]; ok {
		delete(handlers, sub.id)
		if len(handlers) == 0 {
			delete(m.desired, sub.key)
		}
	}
	empty := len(m.desired) == 0
	conn := m.conn
	if empty {
		m.conn = nil
		m.running = false
	}
	m.mu.Unlock()

	if conn == nil {
		return
	}
	if empty {
		conn.Stop()
		return
	}
	m.sendDesired(conn)
}

// URL implements infra.FeedHandler.
func (m *StreamManager) URL() string { return m.url }

// ID implements infra.FeedHandler.
func (m *StreamManager) ID() string { return "UPBIT" }

// OnOpen sends the full desired-subscription set after every (re)connect.
func (m *StreamManager) OnOpen(ctx context.Context, conn *websocket.Conn) error {
	frame := m.buildFrame()
	if frame == nil {
		return nil
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// OnFrame classifies one inbound frame and dispatches it. Malformed frames
// are counted and dropped; the connection stays up.
func (m *StreamManager) OnFrame(ctx context.Context, msg []byte) {
	var probe struct {
		Type           string          `json:"type"`
		BestBidPrice   json.RawMessage `json:"best_bid_price"`
		OrderbookUnits json.RawMessage `json:"orderbook_units"`
	}
	if err := json.Unmarshal(msg, &probe); err != nil {
		infra.MalformedFramesTotal.Inc()
		slog.Debug("dropping malformed frame", "err", err)
		return
	}

	// Classification priority: trade, order book, ticker, candle.
	switch {
	case probe.BestBidPrice != nil:
		var f tradeFrame
		if err := json.Unmarshal(msg, &f); err != nil || f.Code == "" {
			infra.MalformedFramesTotal.Inc()
			return
		}
		infra.FramesTotal.WithLabelValues("trade").Inc()
		ev := f.toEvent()
		for _, h := range m.handlersFor(f.Code, ChannelTrade) {
			h.HandleTrade(ev)
		}

	case probe.OrderbookUnits != nil:
		var f orderbookFrame
		if err := json.Unmarshal(msg, &f); err != nil || f.Code == "" {
			infra.MalformedFramesTotal.Inc()
			return
		}
		infra.FramesTotal.WithLabelValues("orderbook").Inc()
		snap := f.toSnapshot()
		for _, h := range m.handlersFor(f.Code, ChannelOrderBook) {
			h.HandleOrderBook(snap)
		}

	case probe.Type == "ticker":
		var f tickerFrame
		if err := json.Unmarshal(msg, &f); err != nil || f.Code == "" {
			infra.MalformedFramesTotal.Inc()
			return
		}
		infra.FramesTotal.WithLabelValues("ticker").Inc()
		snap := f.toSnapshot()
		for _, h := range m.handlersFor(f.Code, ChannelTicker) {
			h.HandleTicker(snap)
		}

	case strings.HasPrefix(probe.Type, "candle."):
		interval, ok := Channel(probe.Type).IsCandle()
		if !ok {
			infra.MalformedFramesTotal.Inc()
			return
		}
		var f candleFrame
		if err := json.Unmarshal(msg, &f); err != nil || f.Code == "" || f.CandleDateTimeUTC == "" {
			infra.MalformedFramesTotal.Inc()
			return
		}
		infra.FramesTotal.WithLabelValues("candle").Inc()
		snap := f.toSnapshot(interval)
		for _, h := range m.handlersFor(f.Code, Channel(probe.Type)) {
			h.HandleCandle(snap)
		}

	default:
		// Status frames and other noise are expected; ignore quietly.
	}
}

// handlersFor snapshots the handler list for a (code, channel) pair so
// dispatch happens without holding the manager lock.
func (m *StreamManager) handlersFor(code string, ch Channel) []MessageHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	handlers := m.desired[subKey{code: code, ch: ch}]
	if len(handlers) == 0 {
		return nil
	}
	out := make([]MessageHandler, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, h)
	}
	return out
}

// buildFrame serializes the subscription frame listing the complete desired
// set, grouped by channel. Returns nil when nothing is desired.
func (m *StreamManager) buildFrame() []byte {
	m.mu.Lock()
	byChannel := make(map[Channel][]string)
	for key := range m.desired {
		byChannel[key.ch] = append(byChannel[key.ch], key.code)
	}
	ticket := m.ticket
	m.mu.Unlock()

	if len(byChannel) == 0 {
		return nil
	}

	channels := make([]string, 0, len(byChannel))
	for ch := range byChannel {
		channels = append(channels, string(ch))
	}
	sort.Strings(channels)

	frame := []any{map[string]any{"ticket": ticket}}
	for _, ch := range channels {
		codes := byChannel[Channel(ch)]
		sort.Strings(codes)
		entry := map[string]any{"type": ch, "codes": dedupe(codes)}
		if _, ok := Channel(ch).IsCandle(); ok {
			entry["isOnlyRealtime"] = true
		}
		frame = append(frame, entry)
	}
	frame = append(frame, map[string]any{"format": "DEFAULT"})

	b, err := json.Marshal(frame)
	if err != nil {
		slog.Error("subscription frame marshal failed", "err", err)
		return nil
	}
	return b
}

func (m *StreamManager) sendDesired(conn *infra.FeedConn) {
	frame := m.buildFrame()
	if frame == nil {
		return
	}
	if err := conn.Write(websocket.TextMessage, frame); err != nil {
		// Not open yet: OnOpen resends the full set once connected.
		slog.Debug("subscription frame deferred", "err", err)
	}
}

// onConnStatus translates connection state changes into health signals.
// Three consecutive failures mark the stream degraded.
func (m *StreamManager) onConnStatus(state infra.ConnState, retries int) {
	switch state {
	case infra.StateConnecting:
		if retries > 0 {
			infra.ReconnectsTotal.Inc()
		}
	case infra.StateOpen:
		if m.OnHealth != nil {
			m.OnHealth(true)
		}
	case infra.StateFailed:
		if retries >= 3 && m.OnHealth != nil {
			m.OnHealth(false)
		}
	}
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
