package domain

// ChangeDirection is the day-over-day price direction reported by the feed.
type ChangeDirection string

const (
	ChangeRise ChangeDirection = "RISE"
	ChangeFall ChangeDirection = "FALL"
	ChangeEven ChangeDirection = "EVEN"
)

// TickerSnapshot is the latest trade price and change statistics for one
// instrument. Replaced wholesale on every ticker push.
type TickerSnapshot struct {
	Code              string          `json:"code"` // e.g. "KRW-BTC"
	TradePrice        float64         `json:"trade_price"`
	SignedChangePrice float64         `json:"signed_change_price"`
	SignedChangeRate  float64         `json:"signed_change_rate"`
	Change            ChangeDirection `json:"change"`
	AccTradePrice24h  float64         `json:"acc_trade_price_24h"`
	TimestampMS       int64           `json:"timestamp"`
}

// OrderBookLevel is one (ask, bid) depth level, best levels first.
type OrderBookLevel struct {
	AskPrice float64 `json:"ask_price"`
	AskSize  float64 `json:"ask_size"`
	BidPrice float64 `json:"bid_price"`
	BidSize  float64 `json:"bid_size"`
}

// OrderBookSnapshot holds full depth for one instrument. The feed sends the
// whole book each push, so snapshots replace, never merge.
type OrderBookSnapshot struct {
	Code        string           `json:"code"`
	Levels      []OrderBookLevel `json:"levels"`
	TimestampMS int64            `json:"timestamp"`
}

// TradeEvent is a single executed trade on the exchange. Immutable.
type TradeEvent struct {
	Code        string  `json:"code"`
	Price       float64 `json:"price"`
	Volume      float64 `json:"volume"`
	AskBid      string  `json:"ask_bid"` // "BID" buy-initiated, "ASK" sell-initiated
	TradeTime   string  `json:"trade_time"`
	TimestampMS int64   `json:"timestamp"`
}

// CandleSnapshot is an OHLC + volume aggregate for one time bucket.
// BucketUTC identifies the bucket; a push for the currently open bucket
// replaces the previous snapshot of the same bucket.
type CandleSnapshot struct {
	Code      string  `json:"code"`
	Interval  string  `json:"interval"` // e.g. "1s", "1m"
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	AccVolume float64 `json:"acc_volume"`
	BucketUTC string  `json:"bucket_utc"` // bucket start, e.g. "2024-01-01T00:00:00"
}

// InstrumentView is the merged state for one instrument. Kinds that have not
// been received yet are nil/empty so callers can tell "no data" from zero.
type InstrumentView struct {
	Code      string                      `json:"code"`
	Ticker    *TickerSnapshot             `json:"ticker,omitempty"`
	OrderBook *OrderBookSnapshot          `json:"order_book,omitempty"`
	Trades    []TradeEvent                `json:"trades,omitempty"`
	Candles   map[string][]CandleSnapshot `json:"candles,omitempty"` // interval → newest-first
}
