package upbit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"coinpaper/internal/domain"

	"github.com/gorilla/websocket"
)

// recorder collects demultiplexed messages for assertions.
type recorder struct {
	mu         sync.Mutex
	tickers    []domain.TickerSnapshot
	orderBooks []domain.OrderBookSnapshot
	trades     []domain.TradeEvent
	candles    []domain.CandleSnapshot
}

func (r *recorder) HandleTicker(t domain.TickerSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickers = append(r.tickers, t)
}
func (r *recorder) HandleOrderBook(b domain.OrderBookSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orderBooks = append(r.orderBooks, b)
}
func (r *recorder) HandleTrade(e domain.TradeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, e)
}
func (r *recorder) HandleCandle(c domain.CandleSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candles = append(r.candles, c)
}

func (r *recorder) counts() (int, int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickers), len(r.orderBooks), len(r.trades), len(r.candles)
}

func TestStreamManager_ClassifiesTicker(t *testing.T) {
	m := NewStreamManager("ws://unused")
	rec := &recorder{}
	m.Subscribe("KRW-BTC", ChannelTicker, rec)

	frame := `{"type":"ticker","code":"KRW-BTC","trade_price":"50000000",
		"signed_change_price":"1000","signed_change_rate":"0.02",
		"change":"RISE","acc_trade_price_24h":"12345.6","timestamp":1704067200000}`
	m.OnFrame(context.Background(), []byte(frame))

	tickers, _, _, _ := rec.counts()
	if tickers != 1 {
		t.Fatalf("expected 1 ticker, got %d", tickers)
	}
	got := rec.tickers[0]
	if got.TradePrice != 50000000 {
		t.Errorf("trade price = %v", got.TradePrice)
	}
	if got.Change != domain.ChangeRise {
		t.Errorf("change = %v", got.Change)
	}
}

func TestStreamManager_ClassifiesTradeByBestBid(t *testing.T) {
	m := NewStreamManager("ws://unused")
	rec := &recorder{}
	m.Subscribe("KRW-BTC", ChannelTrade, rec)

	// Trade frames carry a best_bid_price field; classification must pick
	// trade even though a "type" field is also present.
	frame := `{"type":"trade","code":"KRW-BTC","best_bid_price":49999000,
		"trade_price":50000000,"trade_volume":0.5,"ask_bid":"BID",
		"trade_time":"120000","trade_timestamp":1704067200000}`
	m.OnFrame(context.Background(), []byte(frame))

	_, _, trades, _ := rec.counts()
	if trades != 1 {
		t.Fatalf("expected 1 trade, got %d", trades)
	}
	if rec.trades[0].Volume != 0.5 || rec.trades[0].AskBid != "BID" {
		t.Errorf("unexpected trade: %+v", rec.trades[0])
	}
}

func TestStreamManager_ClassifiesOrderBook(t *testing.T) {
	m := NewStreamManager("ws://unused")
	rec := &recorder{}
	m.Subscribe("KRW-BTC", ChannelOrderBook, rec)

	frame := `{"code":"KRW-BTC","timestamp":1704067200000,"orderbook_units":[
		{"ask_price":50100000,"bid_price":50000000,"ask_size":1.5,"bid_size":2.0},
		{"ask_price":50200000,"bid_price":49900000,"ask_size":0.7,"bid_size":0.9}]}`
	m.OnFrame(context.Background(), []byte(frame))

	_, books, _, _ := rec.counts()
	if books != 1 {
		t.Fatalf("expected 1 order book, got %d", books)
	}
	if len(rec.orderBooks[0].Levels) != 2 {
		t.Errorf("expected 2 levels, got %d", len(rec.orderBooks[0].Levels))
	}
	if rec.orderBooks[0].Levels[0].AskPrice != 50100000 {
		t.Errorf("best ask = %v", rec.orderBooks[0].Levels[0].AskPrice)
	}
}

func TestStreamManager_ClassifiesCandleByInterval(t *testing.T) {
	m := NewStreamManager("ws://unused")
	rec1s := &recorder{}
	rec1m := &recorder{}
	m.Subscribe("KRW-BTC", CandleChannel("1s"), rec1s)
	m.Subscribe("KRW-BTC", CandleChannel("1m"), rec1m)

	frame := `{"type":"candle.1s","code":"KRW-BTC","candle_date_time_utc":"2024-01-01T00:00:00",
		"opening_price":100,"high_price":110,"low_price":95,"trade_price":105,
		"candle_acc_trade_volume":12.5}`
	m.OnFrame(context.Background(), []byte(frame))

	if _, _, _, candles := rec1s.counts(); candles != 1 {
		t.Fatalf("1s recorder expected 1 candle, got %d", candles)
	}
	if _, _, _, candles := rec1m.counts(); candles != 0 {
		t.Errorf("1m recorder should not receive candle.1s frames")
	}
	if rec1s.candles[0].Interval != "1s" || rec1s.candles[0].Close != 105 {
		t.Errorf("unexpected candle: %+v", rec1s.candles[0])
	}
}

func TestStreamManager_InstrumentIsolation(t *testing.T) {
	m := NewStreamManager("ws://unused")
	btc := &recorder{}
	eth := &recorder{}
	m.Subscribe("KRW-BTC", ChannelTicker, btc)
	m.Subscribe("KRW-ETH", ChannelTicker, eth)

	frame := `{"type":"ticker","code":"KRW-ETH","trade_price":3000000}`
	m.OnFrame(context.Background(), []byte(frame))

	if tickers, _, _, _ := btc.counts(); tickers != 0 {
		t.Error("BTC handler received an ETH ticker")
	}
	if tickers, _, _, _ := eth.counts(); tickers != 1 {
		t.Error("ETH handler did not receive its ticker")
	}
}

func TestStreamManager_DropsMalformedFrames(t *testing.T) {
	m := NewStreamManager("ws://unused")
	rec := &recorder{}
	m.Subscribe("KRW-BTC", ChannelTicker, rec)

	frames := []string{
		`not json at all`,
		`{"type":"ticker"}`,              // missing code
		`{"unknown_field":true}`,         // nothing discriminating
		`{"type":"candle."}`,             // empty interval
		`{"type":"status","code":"UP"}`,  // unrelated frame
	}
	for _, f := range frames {
		m.OnFrame(context.Background(), []byte(f))
	}

	if tickers, books, trades, candles := rec.counts(); tickers+books+trades+candles != 0 {
		t.Error("malformed frames must not be dispatched")
	}
}

func TestStreamManager_UnsubscribeStopsDelivery(t *testing.T) {
	m := NewStreamManager("ws://unused")
	rec := &recorder{}
	sub := m.Subscribe("KRW-BTC", ChannelTicker, rec)

	m.Unsubscribe(sub)
	m.OnFrame(context.Background(), []byte(`{"type":"ticker","code":"KRW-BTC","trade_price":1}`))

	if tickers, _, _, _ := rec.counts(); tickers != 0 {
		t.Error("unsubscribed handler still received updates")
	}
}

func TestStreamManager_BuildFrameListsFullDesiredSet(t *testing.T) {
	m := NewStreamManager("ws://unused")
	rec := &recorder{}
	m.Subscribe("KRW-BTC", ChannelTicker, rec)
	m.Subscribe("KRW-ETH", ChannelTicker, rec)
	m.Subscribe("KRW-BTC", ChannelOrderBook, rec)
	m.Subscribe("KRW-BTC", CandleChannel("1s"), rec)

	raw := m.buildFrame()
	if raw == nil {
		t.Fatal("expected a frame")
	}

	var frame []map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}

	if _, ok := frame[0]["ticket"]; !ok {
		t.Error("first element must carry the ticket")
	}
	if f := frame[len(frame)-1]["format"]; f != "DEFAULT" {
		t.Errorf("last element format = %v", f)
	}

	byType := make(map[string][]any)
	var candleEntry map[string]any
	for _, entry := range frame[1 : len(frame)-1] {
		typ, _ := entry["type"].(string)
		codes, _ := entry["codes"].([]any)
		byType[typ] = codes
		if typ == "candle.1s" {
			candleEntry = entry
		}
	}

	if len(byType["ticker"]) != 2 {
		t.Errorf("ticker codes = %v", byType["ticker"])
	}
	if len(byType["orderbook"]) != 1 {
		t.Errorf("orderbook codes = %v", byType["orderbook"])
	}
	if candleEntry == nil || candleEntry["isOnlyRealtime"] != true {
		t.Error("candle entry must set isOnlyRealtime")
	}
}

func TestStreamManager_SendsFullSetOnConnect(t *testing.T) {
	received := make(chan []byte, 4)
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	m := NewStreamManager(strings.Replace(server.URL, "http://", "ws://", 1))
	m.Start(ctx)
	defer m.Stop()

	rec := &recorder{}
	m.Subscribe("KRW-BTC", ChannelTicker, rec)

	select {
	case msg := <-received:
		if !strings.Contains(string(msg), "KRW-BTC") || !strings.Contains(string(msg), "ticker") {
			t.Errorf("subscription frame missing desired set: %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription frame received on connect")
	}
}
