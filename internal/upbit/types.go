package upbit

import (
	"strconv"
	"strings"

	"coinpaper/internal/domain"
)

// wireNumber tolerates the feed sending numeric fields either as JSON numbers
// or as quoted strings. Unparseable values decode to zero rather than failing
// the whole frame.
type wireNumber float64

func (n *wireNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = wireNumber(f)
	return nil
}

type tickerFrame struct {
	Type              string     `json:"type"` // "ticker"
	Code              string     `json:"code"` // "KRW-BTC"
	TradePrice        wireNumber `json:"trade_price"`
	SignedChangePrice wireNumber `json:"signed_change_price"`
	SignedChangeRate  wireNumber `json:"signed_change_rate"`
	Change            string     `json:"change"` // RISE / FALL / EVEN
	AccTradePrice24h  wireNumber `json:"acc_trade_price_24h"`
	Timestamp         int64      `json:"timestamp"`
}

func (f *tickerFrame) toSnapshot() domain.TickerSnapshot {
	change := domain.ChangeDirection(f.Change)
	switch change {
	case domain.ChangeRise, domain.ChangeFall, domain.ChangeEven:
	default:
		change = domain.ChangeEven
	}
	return domain.TickerSnapshot{
		Code:              f.Code,
		TradePrice:        float64(f.TradePrice),
		SignedChangePrice: float64(f.SignedChangePrice),
		SignedChangeRate:  float64(f.SignedChangeRate),
		Change:            change,
		AccTradePrice24h:  float64(f.AccTradePrice24h),
		TimestampMS:       f.Timestamp,
	}
}

type orderbookUnit struct {
	AskPrice wireNumber `json:"ask_price"`
	BidPrice wireNumber `json:"bid_price"`
	AskSize  wireNumber `json:"ask_size"`
	BidSize  wireNumber `json:"bid_size"`
}

type orderbookFrame struct {
	Code           string          `json:"code"`
	OrderbookUnits []orderbookUnit `json:"orderbook_units"`
	Timestamp      int64           `json:"timestamp"`
}

func (f *orderbookFrame) toSnapshot() domain.OrderBookSnapshot {
	levels := make([]domain.OrderBookLevel, 0, len(f.OrderbookUnits))
	for _, u := range f.OrderbookUnits {
		levels = append(levels, domain.OrderBookLevel{
			AskPrice: float64(u.AskPrice),
			AskSize:  float64(u.AskSize),
			BidPrice: float64(u.BidPrice),
			BidSize:  float64(u.BidSize),
		})
	}
	return domain.OrderBookSnapshot{
		Code:        f.Code,
		Levels:      levels,
		TimestampMS: f.Timestamp,
	}
}

type tradeFrame struct {
	Code           string     `json:"code"`
	TradePrice     wireNumber `json:"trade_price"`
	TradeVolume    wireNumber `json:"trade_volume"`
	AskBid         string     `json:"ask_bid"`
	TradeTime      string     `json:"trade_time"`
	TradeTimestamp int64      `json:"trade_timestamp"`
}

func (f *tradeFrame) toEvent() domain.TradeEvent {
	return domain.TradeEvent{
		Code:        f.Code,
		Price:       float64(f.TradePrice),
		Volume:      float64(f.TradeVolume),
		AskBid:      f.AskBid,
		TradeTime:   f.TradeTime,
		TimestampMS: f.TradeTimestamp,
	}
}

type candleFrame struct {
	Type                 string     `json:"type"` // "candle.<interval>"
	Code                 string     `json:"code"`
	CandleDateTimeUTC    string     `json:"candle_date_time_utc"`
	OpeningPrice         wireNumber `json:"opening_price"`
	HighPrice            wireNumber `json:"high_price"`
	LowPrice             wireNumber `json:"low_price"`
	TradePrice           wireNumber `json:"trade_price"`
	CandleAccTradeVolume wireNumber `json:"candle_acc_trade_volume"`
}

func (f *candleFrame) toSnapshot(interval string) domain.CandleSnapshot {
	return domain.CandleSnapshot{
		Code:      f.Code,
		Interval:  interval,
		Open:      float64(f.OpeningPrice),
		High:      float64(f.HighPrice),
		Low:       float64(f.LowPrice),
		Close:     float64(f.TradePrice),
		AccVolume: float64(f.CandleAccTradeVolume),
		BucketUTC: f.CandleDateTimeUTC,
	}
}

// Market is one row of GET /market/all.
type Market struct {
	Market      string `json:"market"`
	KoreanName  string `json:"korean_name"`
	EnglishName string `json:"english_name"`
}

// restTicker is one row of GET /ticker. Same payload shape as the push ticker
// but keyed by "market" instead of "code".
type restTicker struct {
	Market            string     `json:"market"`
	TradePrice        wireNumber `json:"trade_price"`
	SignedChangePrice wireNumber `json:"signed_change_price"`
	SignedChangeRate  wireNumber `json:"signed_change_rate"`
	Change            string     `json:"change"`
	AccTradePrice24h  wireNumber `json:"acc_trade_price_24h"`
	Timestamp         int64      `json:"timestamp"`
}

func (t *restTicker) toSnapshot() domain.TickerSnapshot {
	f := tickerFrame{
		Code:              t.Market,
		TradePrice:        t.TradePrice,
		SignedChangePrice: t.SignedChangePrice,
		SignedChangeRate:  t.SignedChangeRate,
		Change:            t.Change,
		AccTradePrice24h:  t.AccTradePrice24h,
		Timestamp:         t.Timestamp,
	}
	return f.toSnapshot()
}
