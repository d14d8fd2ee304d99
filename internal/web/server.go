package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vitos/spot_trend_bot/internal/domain"
	"github.com/vitos/spot_trend_bot/internal/usecase"
	"go.uber.org/zap"
)

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	tradeRepo domain.TradeRepository
	alertRepo domain.AlertRepository
	service   *usecase.TradingService
	logger    *zap.Logger
}

func NewServer(
	port int,
	tradeRepo domain.TradeRepository,
	alertRepo domain.AlertRepository,
	service *usecase.TradingService,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		tradeRepo: tradeRepo,
		alertRepo: alertRepo,
		service:   service,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Commands
	s.router.HandleFunc("POST /pause", s.handlePause)
	s.router.HandleFunc("POST /resume", s.handleResume)
	s.router.HandleFunc("POST /close", s.handleManualClose)

	// Market view
	s.router.HandleFunc("GET /api/indicators", s.handleIndicators)

	// History
	s.router.HandleFunc("GET /api/trades", s.handleTrades)
	s.router.HandleFunc("GET /api/equity", s.handleEquity)
	s.router.HandleFunc("GET /api/alerts", s.handleAlerts)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
