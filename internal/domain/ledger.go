package domain

// Side marks a ledger trade direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Holding is a per-instrument position: quantity held and its weighted-average
// acquisition price. A holding with zero quantity is deleted, never stored.
type Holding struct {
	Code     string  `json:"code"`
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
}

// ApplyBuy folds a new purchase into the position, recomputing the
// size-weighted average cost. Sells never touch AvgPrice.
func (h *Holding) ApplyBuy(qty, price float64) {
	total := h.Quantity*h.AvgPrice + qty*price
	h.Quantity += qty
	h.AvgPrice = total / h.Quantity
}

// TradeRecord is one append-only ledger history row. Never mutated after
// insert; deletable only in bulk per instrument.
type TradeRecord struct {
	ID             int64   `json:"id"`
	Code           string  `json:"code"`
	Side           Side    `json:"side"`
	Price          float64 `json:"price"`
	Quantity       float64 `json:"quantity"`
	Total          float64 `json:"total"` // Price * Quantity at insert time
	CreatedAtUnixM int64   `json:"created_at_unix"`
}

// FavoriteEntry is a starred instrument with its display names.
type FavoriteEntry struct {
	Code         string `json:"code"`
	KoreanName   string `json:"korean_name"`
	EnglishName  string `json:"english_name"`
	AddedAtUnixM int64  `json:"added_at_unix"`
}
