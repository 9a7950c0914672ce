package market

import (
	"sync"

	"coinpaper/internal/domain"
)

// Store is the in-memory per-instrument snapshot store. It is the single
// writer for ticker/order-book/trade/candle state; readers get copies, never
// live references, so a reader can never observe a torn write.
type Store struct {
	mu           sync.RWMutex
	views        map[string]*domain.InstrumentView
	tradeWindow  int
	candleWindow int
	onChange     func(code string)
}

// NewStore creates a store with the given window bounds for the recent-trade
// list and each candle series.
func NewStore(tradeWindow, candleWindow int) *Store {
	return &Store{
		views:        make(map[string]*domain.InstrumentView),
		tradeWindow:  tradeWindow,
		candleWindow: candleWindow,
	}
}

// SetOnChange registers a callback invoked (outside the store lock) after
// every mutation, with the instrument that changed.
func (s *Store) SetOnChange(fn func(code string)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) view(code string) *domain.InstrumentView {
	v, ok := s.views[code]
	if !ok {
		v = &domain.InstrumentView{Code: code}
		s.views[code] = v
	}
	return v
}

func (s *Store) notify(code string) {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn(code)
	}
}

// ApplyTicker replaces the instrument's ticker wholesale.
func (s *Store) ApplyTicker(t domain.TickerSnapshot) {
	s.mu.Lock()
	v := s.view(t.Code)
	tc := t
	v.Ticker = &tc
	s.mu.Unlock()
	s.notify(t.Code)
}

// ApplyOrderBook replaces the instrument's order book wholesale; the feed
// sends full depth each push, never deltas.
func (s *Store) ApplyOrderBook(b domain.OrderBookSnapshot) {
	s.mu.Lock()
	v := s.view(b.Code)
	bc := b
	v.OrderBook = &bc
	s.mu.Unlock()
	s.notify(b.Code)
}

// AppendTrade prepends a trade to the bounded recent-trade window, evicting
// the oldest entries beyond the bound.
func (s *Store) AppendTrade(e domain.TradeEvent) {
	s.mu.Lock()
	v := s.view(e.Code)
	trades := make([]domain.TradeEvent, 0, len(v.Trades)+1)
	trades = append(trades, e)
	trades = append(trades, v.Trades...)
	if len(trades) > s.tradeWindow {
		trades = trades[:s.tradeWindow]
	}
	v.Trades = trades
	s.mu.Unlock()
	s.notify(e.Code)
}

// UpsertCandle replaces the candle with the same bucket timestamp in place,
// or prepends a new one. The series stays newest-first; consumers walk it in
// reverse to compute day-over-day deltas, so ordering is a correctness
// requirement here, not cosmetics.
func (s *Store) UpsertCandle(c domain.CandleSnapshot) {
	s.mu.Lock()
	v := s.view(c.Code)
	if v.Candles == nil {
		v.Candles = make(map[string][]domain.CandleSnapshot)
	}

	series := v.Candles[c.Interval]
	replaced := false
	for i := range series {
		if series[i].BucketUTC == c.BucketUTC {
			series[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		next := make([]domain.CandleSnapshot, 0, len(series)+1)
		next = append(next, c)
		next = append(next, series...)
		if len(next) > s.candleWindow {
			next = next[:s.candleWindow]
		}
		series = next
	}
	v.Candles[c.Interval] = series
	s.mu.Unlock()
	s.notify(c.Code)
}

// Read returns a copy of the merged view for one instrument. Kinds not yet
// received are nil/empty. ok is false when nothing has been received at all.
func (s *Store) Read(code string) (domain.InstrumentView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.views[code]
	if !ok {
		return domain.InstrumentView{Code: code}, false
	}
	return copyView(v), true
}

// Drop discards all state for an instrument, typically after it is unwatched.
func (s *Store) Drop(code string) {
	s.mu.Lock()
	delete(s.views, code)
	s.mu.Unlock()
}

func copyView(v *domain.InstrumentView) domain.InstrumentView {
	out := domain.InstrumentView{Code: v.Code}
	if v.Ticker != nil {
		t := *v.Ticker
		out.Ticker = &t
	}
	if v.OrderBook != nil {
		b := *v.OrderBook
		b.Levels = append([]domain.OrderBookLevel(nil), v.OrderBook.Levels...)
		out.OrderBook = &b
	}
	if len(v.Trades) > 0 {
		out.Trades = append([]domain.TradeEvent(nil), v.Trades...)
	}
	if len(v.Candles) > 0 {
		out.Candles = make(map[string][]domain.CandleSnapshot, len(v.Candles))
		for interval, series := range v.Candles {
			out.Candles[interval] = append([]domain.CandleSnapshot(nil), series...)
		}
	}
	return out
}
