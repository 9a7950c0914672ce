package market

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"coinpaper/internal/domain"
	"coinpaper/internal/upbit"
)

// Streamer is the subscription-manager side of the facade.
type Streamer interface {
	Subscribe(code string, ch upbit.Channel, h upbit.MessageHandler) upbit.Subscription
	Unsubscribe(sub upbit.Subscription)
}

// RestAPI is the one-shot request side of the facade.
type RestAPI interface {
	Markets(ctx context.Context) ([]upbit.Market, error)
	Tickers(ctx context.Context, codes []string) ([]domain.TickerSnapshot, error)
}

// TickerPublisher receives every ticker applied to the store. Optional.
type TickerPublisher interface {
	PublishTicker(ctx context.Context, t domain.TickerSnapshot)
}

// Update carries the merged snapshot for one instrument to observers.
type Update struct {
	Code string
	View domain.InstrumentView
}

// Facade is the single entry point consumers use for market data: it turns a
// watch set into feed subscriptions, merges pushes into the snapshot store,
// and republishes coalesced snapshots to observers.
type Facade struct {
	store     *Store
	stream    Streamer
	rest      RestAPI
	publisher TickerPublisher
	intervals []string
	pumpEvery time.Duration

	// watchMu serializes whole Watch calls (diff and apply) so two
	// concurrent calls cannot both subscribe the same addition and orphan
	// one set of handles. f.mu alone only protects the maps.
	watchMu sync.Mutex

	mu      sync.Mutex
	watched map[string][]upbit.Subscription
	dirty   map[string]struct{}
	subs    map[int]chan Update
	nextSub int

	healthy atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewFacade wires the facade to its collaborators. candleIntervals lists the
// candle channels subscribed for every watched instrument. publisher may be
// nil.
func NewFacade(store *Store, stream Streamer, rest RestAPI, candleIntervals []string, pumpEvery time.Duration, publisher TickerPublisher) *Facade {
	f := &Facade{
		store:     store,
		stream:    stream,
		rest:      rest,
		publisher: publisher,
		intervals: candleIntervals,
		pumpEvery: pumpEvery,
		watched:   make(map[string][]upbit.Subscription),
		dirty:     make(map[string]struct{}),
		subs:      make(map[int]chan Update),
	}
	f.healthy.Store(true)
	store.SetOnChange(f.markDirty)
	return f
}

// Start launches the republish pump.
func (f *Facade) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.pump(ctx)
}

// Stop halts the pump and unsubscribes everything.
func (f *Facade) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	f.Watch(nil)
}

// Watch diffs the requested set against the current one: additions get
// subscribed on every relevant channel, removals get unsubscribed and their
// snapshots dropped. Calling Watch twice with the same set is a no-op the
// second time.
func (f *Facade) Watch(codes []string) {
	f.watchMu.Lock()
	defer f.watchMu.Unlock()

	want := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if c != "" {
			want[c] = struct{}{}
		}
	}

	f.mu.Lock()
	var added, removed []string
	for c := range want {
		if _, ok := f.watched[c]; !ok {
			added = append(added, c)
		}
	}
	for c := range f.watched {
		if _, ok := want[c]; !ok {
			removed = append(removed, c)
		}
	}
	f.mu.Unlock()

	if len(added) == 0 && len(removed) == 0 {
		return
	}
	sort.Strings(added)
	sort.Strings(removed)

	handler := &storeHandler{f: f}
	for _, code := range added {
		subs := []upbit.Subscription{
			f.stream.Subscribe(code, upbit.ChannelTicker, handler),
			f.stream.Subscribe(code, upbit.ChannelOrderBook, handler),
			f.stream.Subscribe(code, upbit.ChannelTrade, handler),
		}
		for _, interval := range f.intervals {
			subs = append(subs, f.stream.Subscribe(code, upbit.CandleChannel(interval), handler))
		}
		f.mu.Lock()
		f.watched[code] = subs
		f.mu.Unlock()
	}

	for _, code := range removed {
		f.mu.Lock()
		subs := f.watched[code]
		delete(f.watched, code)
		delete(f.dirty, code)
		f.mu.Unlock()
		for _, sub := range subs {
			f.stream.Unsubscribe(sub)
		}
		f.store.Drop(code)
	}

	slog.Info("watch set changed", "added", len(added), "removed", len(removed))
}

// Watched returns the currently watched instruments, sorted.
func (f *Facade) Watched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.watched))
	for c := range f.watched {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns the merged view for one instrument.
func (f *Facade) Snapshot(code string) (domain.InstrumentView, bool) {
	return f.store.Read(code)
}

// Subscribe returns an update stream and its cancel function. Updates are
// coalesced: at most one delivery per instrument per pump tick, latest state
// wins. Consumers must not assume every intermediate state is delivered.
func (f *Facade) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 64)
	f.mu.Lock()
	f.nextSub++
	id := f.nextSub
	f.subs[id] = ch
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// ListMarkets is the one-shot REST path for initial list population.
func (f *Facade) ListMarkets(ctx context.Context) ([]upbit.Market, error) {
	return f.rest.Markets(ctx)
}

// Tickers is the one-shot REST path for a batch ticker read without a push
// subscription.
func (f *Facade) Tickers(ctx context.Context, codes []string) ([]domain.TickerSnapshot, error) {
	return f.rest.Tickers(ctx, codes)
}

// SetHealthy records the degraded-state signal from the stream manager.
func (f *Facade) SetHealthy(ok bool) {
	was := f.healthy.Swap(ok)
	if was != ok {
		slog.Warn("market data health changed", "healthy", ok)
	}
}

// Healthy reports whether the push feed is currently believed live. False
// means snapshots may be stale; it is never surfaced as an error to callers.
func (f *Facade) Healthy() bool {
	return f.healthy.Load()
}

func (f *Facade) markDirty(code string) {
	f.mu.Lock()
	f.dirty[code] = struct{}{}
	f.mu.Unlock()
}

// pump delivers coalesced snapshots to observers once per tick.
func (f *Facade) pump(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.pumpEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.flush()
		}
	}
}

func (f *Facade) flush() {
	f.mu.Lock()
	if len(f.dirty) == 0 || len(f.subs) == 0 {
		f.mu.Unlock()
		return
	}
	codes := make([]string, 0, len(f.dirty))
	for c := range f.dirty {
		codes = append(codes, c)
	}
	f.dirty = make(map[string]struct{})
	f.mu.Unlock()

	sort.Strings(codes)
	for _, code := range codes {
		view, ok := f.store.Read(code)
		if !ok {
			continue
		}
		u := Update{Code: code, View: view}
		// Sends happen under f.mu so a concurrent cancel (which closes the
		// channel under the same lock) can never race a send. The sends are
		// non-blocking, so holding the lock here is cheap.
		f.mu.Lock()
		for _, ch := range f.subs {
			select {
			case ch <- u:
			default:
				// Slow consumer: re-mark dirty so the latest state is
				// delivered on a later tick instead of being lost.
				f.dirty[code] = struct{}{}
			}
		}
		f.mu.Unlock()
	}
}

// storeHandler routes demultiplexed feed messages into the snapshot store.
type storeHandler struct {
	f *Facade
}

func (h *storeHandler) HandleTicker(t domain.TickerSnapshot) {
	h.f.store.ApplyTicker(t)
	if h.f.publisher != nil {
		h.f.publisher.PublishTicker(context.Background(), t)
	}
}

func (h *storeHandler) HandleOrderBook(b domain.OrderBookSnapshot) {
	h.f.store.ApplyOrderBook(b)
}

func (h *storeHandler) HandleTrade(e domain.TradeEvent) {
	h.f.store.AppendTrade(e)
}

func (h *storeHandler) HandleCandle(c domain.CandleSnapshot) {
	h.f.store.UpsertCandle(c)
}
