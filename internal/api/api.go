package api

import (
	"coinpaper/internal/ledger"
	"coinpaper/internal/market"
	"coinpaper/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server bundles the handlers' collaborators.
type Server struct {
	facade *market.Facade
	ledger *ledger.Engine
	store  *storage.Store
}

// NewServer creates the API server over the facade, ledger and store.
func NewServer(facade *market.Facade, engine *ledger.Engine, store *storage.Store) *Server {
	return &Server{facade: facade, ledger: engine, store: store}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/markets", s.listMarkets)
		apiGroup.GET("/ticker", s.tickers)
		apiGroup.POST("/watch", s.watch)
		apiGroup.GET("/watch", s.watched)
		apiGroup.GET("/snapshot/:code", s.snapshot)

		apiGroup.GET("/balance", s.balance)
		apiGroup.POST("/balance/charge", s.charge)
		apiGroup.POST("/balance/spend", s.spend)

		apiGroup.POST("/orders/buy", s.buy)
		apiGroup.POST("/orders/sell", s.sell)
		apiGroup.GET("/holdings", s.holdings)
		apiGroup.GET("/holdings/:code", s.holding)
		apiGroup.GET("/history", s.allHistory)
		apiGroup.GET("/history/:code", s.history)
		apiGroup.DELETE("/history/:code", s.clearHistory)

		apiGroup.GET("/favorites", s.listFavorites)
		apiGroup.POST("/favorites", s.addFavorite)
		apiGroup.DELETE("/favorites/:code", s.removeFavorite)
	}

	return r
}
