package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"coinpaper/internal/domain"
	"coinpaper/internal/infra"
	"coinpaper/internal/storage"
)

// Engine maintains the simulated account: virtual cash balance, per-instrument
// holdings with weighted-average cost, and an append-only trade history.
//
// Every mutating operation runs under one mutex AND inside one sqlite
// transaction, so the balance check, balance write, holding write and history
// append either all apply or none do. Two concurrent buys can never both read
// the same stale balance.
type Engine struct {
	store *storage.Store
	mu    sync.Mutex
}

// NewEngine creates a ledger engine over the persisted store.
func NewEngine(store *storage.Store) *Engine {
	return &Engine{store: store}
}

// Buy purchases qty units at price, debiting the balance and folding the
// purchase into the holding's weighted-average cost.
func (e *Engine) Buy(ctx context.Context, code string, qty, price float64) (*domain.TradeRecord, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	if price <= 0 {
		return nil, ErrInvalidPrice
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	balance, err := e.store.Balance(ctx, tx)
	if err != nil {
		return nil, err
	}
	cost := qty * price
	if cost > balance {
		return nil, ErrInsufficientFunds
	}

	holding, err := e.store.GetHolding(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if holding == nil {
		holding = &domain.Holding{Code: code, Quantity: qty, AvgPrice: price}
	} else {
		holding.ApplyBuy(qty, price)
	}
	if err := e.store.UpsertHolding(ctx, tx, holding); err != nil {
		return nil, err
	}

	if err := e.store.SetBalance(ctx, tx, balance-cost); err != nil {
		return nil, err
	}

	rec := &domain.TradeRecord{
		Code:           code,
		Side:           domain.SideBuy,
		Price:          price,
		Quantity:       qty,
		Total:          cost,
		CreatedAtUnixM: time.Now().UnixMicro(),
	}
	if err := e.store.InsertTrade(ctx, tx, rec); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	infra.TradesTotal.WithLabelValues(string(domain.SideBuy)).Inc()
	slog.Info("ledger buy",
		"code", code, "qty", qty, "price", price, "balance", balance-cost)
	return rec, nil
}

// Sell disposes qty units at the caller-supplied price (the engine is
// price-agnostic; callers pass the price they displayed). The holding's
// average cost is never recomputed on sells; selling the full quantity
// deletes the holding row entirely.
func (e *Engine) Sell(ctx context.Context, code string, qty, price float64) (*domain.TradeRecord, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	if price <= 0 {
		return nil, ErrInvalidPrice
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	holding, err := e.store.GetHolding(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if holding == nil || qty > holding.Quantity {
		return nil, ErrInsufficientHoldings
	}

	remaining := holding.Quantity - qty
	if remaining <= 0 {
		if err := e.store.DeleteHolding(ctx, tx, code); err != nil {
			return nil, err
		}
	} else {
		holding.Quantity = remaining
		if err := e.store.UpsertHolding(ctx, tx, holding); err != nil {
			return nil, err
		}
	}

	balance, err := e.store.Balance(ctx, tx)
	if err != nil {
		return nil, err
	}
	proceeds := qty * price
	if err := e.store.SetBalance(ctx, tx, balance+proceeds); err != nil {
		return nil, err
	}

	rec := &domain.TradeRecord{
		Code:           code,
		Side:           domain.SideSell,
		Price:          price,
		Quantity:       qty,
		Total:          proceeds,
		CreatedAtUnixM: time.Now().UnixMicro(),
	}
	if err := e.store.InsertTrade(ctx, tx, rec); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	infra.TradesTotal.WithLabelValues(string(domain.SideSell)).Inc()
	slog.Info("ledger sell",
		"code", code, "qty", qty, "price", price, "balance", balance+proceeds)
	return rec, nil
}

// Charge tops up the virtual balance.
func (e *Engine) Charge(ctx context.Context, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return e.adjust(ctx, amount)
}

// Spend deducts from the balance; rejected if it would go negative.
func (e *Engine) Spend(ctx context.Context, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return e.adjust(ctx, -amount)
}

func (e *Engine) adjust(ctx context.Context, delta float64) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	balance, err := e.store.Balance(ctx, tx)
	if err != nil {
		return 0, err
	}
	next := balance + delta
	if next < 0 {
		return 0, ErrInsufficientFunds
	}
	if err := e.store.SetBalance(ctx, tx, next); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

// Balance reads the current virtual balance.
func (e *Engine) Balance(ctx context.Context) (float64, error) {
	return e.store.Balance(ctx, e.store.DB())
}

// Holding returns the position for one instrument; (nil, nil) when absent.
func (e *Engine) Holding(ctx context.Context, code string) (*domain.Holding, error) {
	return e.store.GetHolding(ctx, e.store.DB(), code)
}

// Holdings lists every open position.
func (e *Engine) Holdings(ctx context.Context) ([]domain.Holding, error) {
	return e.store.ListHoldings(ctx, e.store.DB())
}

// History lists the trade history for one instrument, newest first.
func (e *Engine) History(ctx context.Context, code string) ([]domain.TradeRecord, error) {
	return e.store.HistoryByCode(ctx, e.store.DB(), code)
}

// AllHistory lists the full trade history, newest first.
func (e *Engine) AllHistory(ctx context.Context) ([]domain.TradeRecord, error) {
	return e.store.AllHistory(ctx, e.store.DB())
}

// ClearHistory bulk-deletes the history for one instrument.
func (e *Engine) ClearHistory(ctx context.Context, code string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.DeleteHistory(ctx, e.store.DB(), code)
}
