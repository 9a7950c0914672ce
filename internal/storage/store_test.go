package storage

import (
	"context"
	"testing"

	"coinpaper/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir() + "/store_test.db")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_EnsureBalanceSeedsOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.EnsureBalance(ctx, 1_000_000); err != nil {
		t.Fatalf("EnsureBalance: %v", err)
	}
	if err := store.SetBalance(ctx, store.DB(), 42); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	// Seeding again must not clobber the live balance.
	if err := store.EnsureBalance(ctx, 1_000_000); err != nil {
		t.Fatalf("EnsureBalance again: %v", err)
	}

	balance, err := store.Balance(ctx, store.DB())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 42 {
		t.Errorf("balance = %v, want 42", balance)
	}
}

func TestStore_BalanceUnseededIsAnError(t *testing.T) {
	store := newTestStore(t)

	// Without EnsureBalance there is no singleton row; that must surface as
	// an error, not read as an empty account.
	if _, err := store.Balance(context.Background(), store.DB()); err == nil {
		t.Fatal("expected error reading unseeded balance")
	}
}

func TestStore_HoldingLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	h, err := store.GetHolding(ctx, store.DB(), "KRW-BTC")
	if err != nil || h != nil {
		t.Fatalf("absent holding should read (nil, nil), got %+v, %v", h, err)
	}

	if err := store.UpsertHolding(ctx, store.DB(), &domain.Holding{Code: "KRW-BTC", Quantity: 1, AvgPrice: 100}); err != nil {
		t.Fatalf("UpsertHolding: %v", err)
	}
	if err := store.UpsertHolding(ctx, store.DB(), &domain.Holding{Code: "KRW-BTC", Quantity: 2, AvgPrice: 150}); err != nil {
		t.Fatalf("UpsertHolding update: %v", err)
	}

	h, err = store.GetHolding(ctx, store.DB(), "KRW-BTC")
	if err != nil || h == nil {
		t.Fatalf("GetHolding: %+v, %v", h, err)
	}
	if h.Quantity != 2 || h.AvgPrice != 150 {
		t.Errorf("upsert did not overwrite: %+v", h)
	}

	if err := store.DeleteHolding(ctx, store.DB(), "KRW-BTC"); err != nil {
		t.Fatalf("DeleteHolding: %v", err)
	}
	if h, _ := store.GetHolding(ctx, store.DB(), "KRW-BTC"); h != nil {
		t.Errorf("holding survived delete: %+v", h)
	}
}

func TestStore_ListHoldingsOrderedByCode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, code := range []string{"KRW-XRP", "KRW-BTC", "KRW-ETH"} {
		if err := store.UpsertHolding(ctx, store.DB(), &domain.Holding{Code: code, Quantity: 1, AvgPrice: 1}); err != nil {
			t.Fatalf("UpsertHolding %s: %v", code, err)
		}
	}

	list, err := store.ListHoldings(ctx, store.DB())
	if err != nil {
		t.Fatalf("ListHoldings: %v", err)
	}
	want := []string{"KRW-BTC", "KRW-ETH", "KRW-XRP"}
	if len(list) != len(want) {
		t.Fatalf("got %d holdings", len(list))
	}
	for i, code := range want {
		if list[i].Code != code {
			t.Errorf("list[%d] = %s, want %s", i, list[i].Code, code)
		}
	}
}

func TestStore_TradeHistoryPerCodeDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	recs := []*domain.TradeRecord{
		{Code: "KRW-BTC", Side: domain.SideBuy, Price: 100, Quantity: 1, Total: 100, CreatedAtUnixM: 1},
		{Code: "KRW-ETH", Side: domain.SideBuy, Price: 200, Quantity: 1, Total: 200, CreatedAtUnixM: 2},
		{Code: "KRW-BTC", Side: domain.SideSell, Price: 150, Quantity: 1, Total: 150, CreatedAtUnixM: 3},
	}
	for _, rec := range recs {
		if err := store.InsertTrade(ctx, store.DB(), rec); err != nil {
			t.Fatalf("InsertTrade: %v", err)
		}
		if rec.ID == 0 {
			t.Error("InsertTrade did not assign an ID")
		}
	}

	btc, err := store.HistoryByCode(ctx, store.DB(), "KRW-BTC")
	if err != nil {
		t.Fatalf("HistoryByCode: %v", err)
	}
	if len(btc) != 2 || btc[0].Side != domain.SideSell {
		t.Errorf("KRW-BTC history = %+v", btc)
	}

	if err := store.DeleteHistory(ctx, store.DB(), "KRW-BTC"); err != nil {
		t.Fatalf("DeleteHistory: %v", err)
	}
	all, err := store.AllHistory(ctx, store.DB())
	if err != nil {
		t.Fatalf("AllHistory: %v", err)
	}
	if len(all) != 1 || all[0].Code != "KRW-ETH" {
		t.Errorf("per-code delete touched other instruments: %+v", all)
	}
}

func TestStore_TradeRoundTripInTx(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	rec := &domain.TradeRecord{Code: "KRW-BTC", Side: domain.SideBuy, Price: 1, Quantity: 1, Total: 1, CreatedAtUnixM: 1}
	if err := store.InsertTrade(ctx, tx, rec); err != nil {
		t.Fatalf("InsertTrade: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	all, _ := store.AllHistory(ctx, store.DB())
	if len(all) != 0 {
		t.Errorf("rolled-back insert persisted: %+v", all)
	}
}

func TestStore_FavoritesRecencyOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	favs := []*domain.FavoriteEntry{
		{Code: "KRW-BTC", KoreanName: "비트코인", EnglishName: "Bitcoin", AddedAtUnixM: 10},
		{Code: "KRW-ETH", KoreanName: "이더리움", EnglishName: "Ethereum", AddedAtUnixM: 20},
	}
	for _, fav := range favs {
		if err := store.UpsertFavorite(ctx, fav); err != nil {
			t.Fatalf("UpsertFavorite: %v", err)
		}
	}

	list, err := store.ListFavorites(ctx)
	if err != nil {
		t.Fatalf("ListFavorites: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d favorites", len(list))
	}
	if list[0].Code != "KRW-ETH" {
		t.Errorf("expected most recent first, got %s", list[0].Code)
	}

	// Re-starring refreshes recency.
	if err := store.UpsertFavorite(ctx, &domain.FavoriteEntry{
		Code: "KRW-BTC", KoreanName: "비트코인", EnglishName: "Bitcoin", AddedAtUnixM: 30,
	}); err != nil {
		t.Fatalf("UpsertFavorite refresh: %v", err)
	}
	list, _ = store.ListFavorites(ctx)
	if len(list) != 2 || list[0].Code != "KRW-BTC" {
		t.Errorf("re-star did not refresh recency: %+v", list)
	}

	if err := store.DeleteFavorite(ctx, "KRW-BTC"); err != nil {
		t.Fatalf("DeleteFavorite: %v", err)
	}
	list, _ = store.ListFavorites(ctx)
	if len(list) != 1 || list[0].Code != "KRW-ETH" {
		t.Errorf("after delete: %+v", list)
	}
}
