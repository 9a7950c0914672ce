package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"coinpaper/internal/domain"
	"coinpaper/internal/ledger"

	"github.com/gin-gonic/gin"
)

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	state := "ok"
	if !s.facade.Healthy() {
		// Feed degraded: data may be stale but the service is up.
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state})
}

// ---- market data ----

func (s *Server) listMarkets(c *gin.Context) {
	markets, err := s.facade.ListMarkets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, markets)
}

func (s *Server) tickers(c *gin.Context) {
	raw := c.Query("codes")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "codes query parameter is required"})
		return
	}
	tickers, err := s.facade.Tickers(c.Request.Context(), strings.Split(raw, ","))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tickers)
}

type watchReq struct {
	Codes []string `json:"codes"`
}

func (s *Server) watch(c *gin.Context) {
	var req watchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.facade.Watch(req.Codes)
	c.JSON(http.StatusOK, gin.H{"watching": s.facade.Watched()})
}

func (s *Server) watched(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"watching": s.facade.Watched()})
}

func (s *Server) snapshot(c *gin.Context) {
	code := c.Param("code")
	view, ok := s.facade.Snapshot(code)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no data received for " + code})
		return
	}
	c.JSON(http.StatusOK, view)
}

// ---- ledger ----

type amountReq struct {
	Amount float64 `json:"amount"`
}

func (s *Server) balance(c *gin.Context) {
	balance, err := s.ledger.Balance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (s *Server) charge(c *gin.Context) {
	var req amountReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	balance, err := s.ledger.Charge(c.Request.Context(), req.Amount)
	if err != nil {
		s.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (s *Server) spend(c *gin.Context) {
	var req amountReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	balance, err := s.ledger.Spend(c.Request.Context(), req.Amount)
	if err != nil {
		s.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

type orderReq struct {
	Code     string  `json:"code"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

func (s *Server) buy(c *gin.Context) {
	var req orderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.ledger.Buy(c.Request.Context(), req.Code, req.Quantity, req.Price)
	if err != nil {
		s.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) sell(c *gin.Context) {
	var req orderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.ledger.Sell(c.Request.Context(), req.Code, req.Quantity, req.Price)
	if err != nil {
		s.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) holdings(c *gin.Context) {
	holdings, err := s.ledger.Holdings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if holdings == nil {
		holdings = []domain.Holding{}
	}
	c.JSON(http.StatusOK, holdings)
}

func (s *Server) holding(c *gin.Context) {
	h, err := s.ledger.Holding(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if h == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no holding for " + c.Param("code")})
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) history(c *gin.Context) {
	records, err := s.ledger.History(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []domain.TradeRecord{}
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) allHistory(c *gin.Context) {
	records, err := s.ledger.AllHistory(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []domain.TradeRecord{}
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) clearHistory(c *gin.Context) {
	if err := s.ledger.ClearHistory(c.Request.Context(), c.Param("code")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ledgerError maps validation sentinels to 422, everything else to 500.
func (s *Server) ledgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidPrice),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientHoldings):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// ---- favorites ----

type favoriteReq struct {
	Code        string `json:"code"`
	KoreanName  string `json:"korean_name"`
	EnglishName string `json:"english_name"`
}

func (s *Server) listFavorites(c *gin.Context) {
	favorites, err := s.store.ListFavorites(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if favorites == nil {
		favorites = []domain.FavoriteEntry{}
	}
	c.JSON(http.StatusOK, favorites)
}

func (s *Server) addFavorite(c *gin.Context) {
	var req favoriteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	fav := &domain.FavoriteEntry{
		Code:         req.Code,
		KoreanName:   req.KoreanName,
		EnglishName:  req.EnglishName,
		AddedAtUnixM: time.Now().UnixMicro(),
	}
	if err := s.store.UpsertFavorite(c.Request.Context(), fav); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, fav)
}

func (s *Server) removeFavorite(c *gin.Context) {
	if err := s.store.DeleteFavorite(c.Request.Context(), c.Param("code")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
