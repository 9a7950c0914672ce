package storage

import (
	"context"
	"database/sql"
	"fmt"

	"coinpaper/internal/domain"

	_ "github.com/glebarez/go-sqlite"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so repo methods can run
// standalone or inside a ledger transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the persisted record store backing the ledger and favorites.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database with WAL mode enabled and
// ensures the schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS balance (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			amount REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS holdings (
			code TEXT PRIMARY KEY,
			quantity REAL NOT NULL,
			avg_price REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trade_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			total REAL NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trade_history_code ON trade_history(code, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS favorites (
			code TEXT PRIMARY KEY,
			korean_name TEXT NOT NULL,
			english_name TEXT NOT NULL,
			added_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// DB exposes the raw handle for non-transactional reads.
func (s *Store) DB() Querier { return s.db }

// Begin starts a transaction for a ledger operation.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---- balance (singleton row) ----

// EnsureBalance seeds the singleton balance row if it does not exist yet.
func (s *Store) EnsureBalance(ctx context.Context, initial float64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO balance (id, amount) VALUES (1, ?)", initial)
	return err
}

// Balance reads the singleton balance. A missing row means EnsureBalance was
// never run; that is a setup error, not an empty account.
func (s *Store) Balance(ctx context.Context, q Querier) (float64, error) {
	var amount float64
	err := q.QueryRowContext(ctx, "SELECT amount FROM balance WHERE id = 1").Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("balance row not seeded: %w", err)
	}
	return amount, err
}

// SetBalance overwrites the singleton balance.
func (s *Store) SetBalance(ctx context.Context, q Querier, amount float64) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO balance (id, amount) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET amount=excluded.amount",
		amount)
	return err
}

// ---- holdings ----

// GetHolding returns the holding for an instrument, or (nil, nil) when absent.
func (s *Store) GetHolding(ctx context.Context, q Querier, code string) (*domain.Holding, error) {
	var h domain.Holding
	err := q.QueryRowContext(ctx,
		"SELECT code, quantity, avg_price FROM holdings WHERE code = ?", code).
		Scan(&h.Code, &h.Quantity, &h.AvgPrice)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// UpsertHolding writes a holding row.
func (s *Store) UpsertHolding(ctx context.Context, q Querier, h *domain.Holding) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO holdings (code, quantity, avg_price) VALUES (?, ?, ?)
		 ON CONFLICT(code) DO UPDATE SET quantity=excluded.quantity, avg_price=excluded.avg_price`,
		h.Code, h.Quantity, h.AvgPrice)
	return err
}

// DeleteHolding removes a holding row.
func (s *Store) DeleteHolding(ctx context.Context, q Querier, code string) error {
	_, err := q.ExecContext(ctx, "DELETE FROM holdings WHERE code = ?", code)
	return err
}

// ListHoldings returns every holding, ordered by instrument code.
func (s *Store) ListHoldings(ctx context.Context, q Querier) ([]domain.Holding, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT code, quantity, avg_price FROM holdings ORDER BY code ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Holding
	for rows.Next() {
		var h domain.Holding
		if err := rows.Scan(&h.Code, &h.Quantity, &h.AvgPrice); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ---- trade history ----

// InsertTrade appends a history record and fills in its assigned ID.
func (s *Store) InsertTrade(ctx context.Context, q Querier, rec *domain.TradeRecord) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO trade_history (code, side, price, quantity, total, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Code, string(rec.Side), rec.Price, rec.Quantity, rec.Total, rec.CreatedAtUnixM)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

// HistoryByCode lists history for one instrument, newest first.
func (s *Store) HistoryByCode(ctx context.Context, q Querier, code string) ([]domain.TradeRecord, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, code, side, price, quantity, total, created_at
		 FROM trade_history WHERE code = ? ORDER BY created_at DESC, id DESC`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// AllHistory lists every history record, newest first.
func (s *Store) AllHistory(ctx context.Context, q Querier) ([]domain.TradeRecord, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, code, side, price, quantity, total, created_at
		 FROM trade_history ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// DeleteHistory removes all records for one instrument.
func (s *Store) DeleteHistory(ctx context.Context, q Querier, code string) error {
	_, err := q.ExecContext(ctx, "DELETE FROM trade_history WHERE code = ?", code)
	return err
}

func scanTrades(rows *sql.Rows) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		var side string
		if err := rows.Scan(&r.ID, &r.Code, &side, &r.Price, &r.Quantity, &r.Total, &r.CreatedAtUnixM); err != nil {
			return nil, err
		}
		r.Side = domain.Side(side)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- favorites ----

// UpsertFavorite stars an instrument, refreshing its recency.
func (s *Store) UpsertFavorite(ctx context.Context, fav *domain.FavoriteEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO favorites (code, korean_name, english_name, added_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(code) DO UPDATE SET korean_name=excluded.korean_name,
		 english_name=excluded.english_name, added_at=excluded.added_at`,
		fav.Code, fav.KoreanName, fav.EnglishName, fav.AddedAtUnixM)
	return err
}

// DeleteFavorite unstars an instrument.
func (s *Store) DeleteFavorite(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM favorites WHERE code = ?", code)
	return err
}

// ListFavorites returns starred instruments, most recently added first.
func (s *Store) ListFavorites(ctx context.Context) ([]domain.FavoriteEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, korean_name, english_name, added_at
		 FROM favorites ORDER BY added_at DESC, code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FavoriteEntry
	for rows.Next() {
		var f domain.FavoriteEntry
		if err := rows.Scan(&f.Code, &f.KoreanName, &f.EnglishName, &f.AddedAtUnixM); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
