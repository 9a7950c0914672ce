package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"coinpaper/internal/domain"
	"coinpaper/internal/upbit"
)

// fakeStreamer records subscribe/unsubscribe calls and hands out handlers so
// tests can inject feed messages directly.
type fakeStreamer struct {
	mu       sync.Mutex
	nextID   int
	active   map[int]fakeSub
	unsubbed []int
}

type fakeSub struct {
	code    string
	channel upbit.Channel
	handler upbit.MessageHandler
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{active: make(map[int]fakeSub)}
}

func (s *fakeStreamer) Subscribe(code string, ch upbit.Channel, h upbit.MessageHandler) upbit.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.active[s.nextID] = fakeSub{code: code, channel: ch, handler: h}
	return upbit.NewSubscription(code, ch, s.nextID)
}

func (s *fakeStreamer) Unsubscribe(sub upbit.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, sub.ID())
	s.unsubbed = append(s.unsubbed, sub.ID())
}

func (s *fakeStreamer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *fakeStreamer) handlerFor(code string, ch upbit.Channel) upbit.MessageHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.active {
		if sub.code == code && sub.channel == ch {
			return sub.handler
		}
	}
	return nil
}

type fakeRest struct{}

func (fakeRest) Markets(ctx context.Context) ([]upbit.Market, error) { return nil, nil }
func (fakeRest) Tickers(ctx context.Context, codes []string) ([]domain.TickerSnapshot, error) {
	return nil, nil
}

func newTestFacade(stream *fakeStreamer, pumpEvery time.Duration) *Facade {
	store := NewStore(200, 200)
	return NewFacade(store, stream, fakeRest{}, []string{"1s"}, pumpEvery, nil)
}

func TestFacade_WatchSubscribesAllChannels(t *testing.T) {
	stream := newFakeStreamer()
	f := newTestFacade(stream, time.Hour)

	f.Watch([]string{"KRW-BTC"})

	// ticker + orderbook + trade + one candle interval.
	if got := stream.count(); got != 4 {
		t.Fatalf("expected 4 subscriptions, got %d", got)
	}
	if h := stream.handlerFor("KRW-BTC", upbit.ChannelTicker); h == nil {
		t.Error("no ticker subscription for KRW-BTC")
	}
	if h := stream.handlerFor("KRW-BTC", upbit.CandleChannel("1s")); h == nil {
		t.Error("no candle subscription for KRW-BTC")
	}
}

func TestFacade_WatchIsIdempotent(t *testing.T) {
	stream := newFakeStreamer()
	f := newTestFacade(stream, time.Hour)

	f.Watch([]string{"KRW-BTC", "KRW-ETH"})
	before := stream.count()
	f.Watch([]string{"KRW-ETH", "KRW-BTC"})

	if got := stream.count(); got != before {
		t.Errorf("repeat Watch changed subscriptions: %d -> %d", before, got)
	}
	if len(stream.unsubbed) != 0 {
		t.Errorf("repeat Watch triggered %d unsubscribes", len(stream.unsubbed))
	}
}

func TestFacade_WatchRemovalDropsState(t *testing.T) {
	stream := newFakeStreamer()
	f := newTestFacade(stream, time.Hour)

	f.Watch([]string{"KRW-BTC", "KRW-ETH"})
	stream.handlerFor("KRW-ETH", upbit.ChannelTicker).HandleTicker(domain.TickerSnapshot{Code: "KRW-ETH", TradePrice: 1})

	f.Watch([]string{"KRW-BTC"})

	if got := stream.count(); got != 4 {
		t.Errorf("expected only KRW-BTC subscriptions to remain, got %d", got)
	}
	if _, ok := f.Snapshot("KRW-ETH"); ok {
		t.Error("removed instrument should have no snapshot")
	}
	want := f.Watched()
	if len(want) != 1 || want[0] != "KRW-BTC" {
		t.Errorf("Watched() = %v", want)
	}
}

func TestFacade_CoalescedDelivery(t *testing.T) {
	stream := newFakeStreamer()
	f := newTestFacade(stream, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Stop()

	f.Watch([]string{"KRW-BTC"})
	updates, unsub := f.Subscribe()
	defer unsub()

	h := stream.handlerFor("KRW-BTC", upbit.ChannelTicker)
	// Burst of pushes inside a single pump tick: observers see the latest
	// state, not every intermediate one.
	for i := 1; i <= 50; i++ {
		h.HandleTicker(domain.TickerSnapshot{Code: "KRW-BTC", TradePrice: float64(i)})
	}

	select {
	case u := <-updates:
		if u.Code != "KRW-BTC" {
			t.Fatalf("update code = %s", u.Code)
		}
		if u.View.Ticker == nil || u.View.Ticker.TradePrice != 50 {
			t.Fatalf("expected latest state, got %+v", u.View.Ticker)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}
}

func TestFacade_SlowConsumerGetsLatestEventually(t *testing.T) {
	stream := newFakeStreamer()
	f := newTestFacade(stream, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Stop()

	f.Watch([]string{"KRW-BTC"})
	updates, unsub := f.Subscribe()
	defer unsub()

	h := stream.handlerFor("KRW-BTC", upbit.ChannelTicker)
	for i := 1; i <= 200; i++ {
		h.HandleTicker(domain.TickerSnapshot{Code: "KRW-BTC", TradePrice: float64(i)})
		time.Sleep(time.Millisecond)
	}

	// Drain without keeping pace; the final drain must surface the final
	// price even though intermediate updates were coalesced away.
	deadline := time.After(2 * time.Second)
	var last float64
	for {
		select {
		case u := <-updates:
			if u.View.Ticker != nil {
				last = u.View.Ticker.TradePrice
			}
			if last == 200 {
				return
			}
		case <-deadline:
			t.Fatalf("never saw final price, last = %v", last)
		}
	}
}

func TestFacade_SubscribeCancelChurn(t *testing.T) {
	stream := newFakeStreamer()
	f := newTestFacade(stream, 100*time.Microsecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Stop()

	f.Watch([]string{"KRW-BTC"})
	h := stream.handlerFor("KRW-BTC", upbit.ChannelTicker)

	// Keep the pump busy while observers come and go. A send racing a
	// cancelled observer's channel close would panic the pump goroutine.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; ; i++ {
			select {
			case <-stop:
				return
			default:
				h.HandleTicker(domain.TickerSnapshot{Code: "KRW-BTC", TradePrice: float64(i)})
			}
		}
	}()

	for i := 0; i < 500; i++ {
		updates, unsub := f.Subscribe()
		select {
		case <-updates:
		default:
		}
		unsub()
	}

	close(stop)
	wg.Wait()
}

func TestFacade_ConcurrentWatchNoOrphans(t *testing.T) {
	stream := newFakeStreamer()
	f := newTestFacade(stream, time.Hour)

	// Several callers racing to watch the same new instrument must leave
	// exactly one set of subscriptions behind.
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			f.Watch([]string{"KRW-BTC"})
		}()
	}
	close(start)
	wg.Wait()

	// ticker + orderbook + trade + one candle interval.
	if got := stream.count(); got != 4 {
		t.Fatalf("expected 4 subscriptions after racing watches, got %d", got)
	}

	f.Watch(nil)
	if got := stream.count(); got != 0 {
		t.Fatalf("%d subscriptions still active after unwatching everything", got)
	}
}

func TestFacade_HealthSignal(t *testing.T) {
	stream := newFakeStreamer()
	f := newTestFacade(stream, time.Hour)

	if !f.Healthy() {
		t.Fatal("facade should start healthy")
	}
	f.SetHealthy(false)
	if f.Healthy() {
		t.Error("expected degraded after SetHealthy(false)")
	}
	f.SetHealthy(true)
	if !f.Healthy() {
		t.Error("expected recovery after SetHealthy(true)")
	}
}
