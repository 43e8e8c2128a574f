// Package api exposes a read-only status surface over HTTP. It never
// mutates trading state; everything it serves comes from the supervisor,
// the ledgers and the journal.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gridbot/logger"
	"gridbot/manager"
	"gridbot/store"
)

// Server HTTP API server.
type Server struct {
	router     *gin.Engine
	manager    *manager.Manager
	store      *store.Store
	httpServer *http.Server
	port       int
}

// NewServer creates the API server. st may be nil when journaling is off.
func NewServer(mgr *manager.Manager, st *store.Store, port int) *Server {
	// Release mode keeps gin's request logging out of the bot logs.
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	s := &Server{
		router:  router,
		manager: mgr,
		store:   st,
		port:    port,
	}
	s.setupRoutes()
	return s
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.Any("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)
		api.GET("/ledger", s.handleLedger)
		api.GET("/orders", s.handleOrders)
		api.GET("/events", s.handleEvents)
		api.GET("/equity", s.handleEquity)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus lists every supervised bot.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bots": s.manager.Status()})
}

// handleLedger returns the durable ledger record of one bot.
func (s *Server) handleLedger(c *gin.Context) {
	account, bot, ok := s.botParams(c)
	if !ok {
		return
	}

	led := s.manager.Ledger(account, bot)
	if led == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown bot %s/%s", account, bot)})
		return
	}
	snap, err := led.Read()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleOrders returns the newest journaled orders of one bot.
func (s *Server) handleOrders(c *gin.Context) {
	account, bot, ok := s.botParams(c)
	if !ok {
		return
	}
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"orders": []store.OrderRecord{}})
		return
	}
	records, err := s.store.Orders().Recent(account, bot, s.limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": records})
}

// handleEvents returns the newest journaled cycle decisions of one bot.
func (s *Server) handleEvents(c *gin.Context) {
	account, bot, ok := s.botParams(c)
	if !ok {
		return
	}
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"events": []store.CycleEvent{}})
		return
	}
	events, err := s.store.Cycles().Recent(account, bot, s.limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// handleEquity returns the realized equity curve of one bot.
func (s *Server) handleEquity(c *gin.Context) {
	account, bot, ok := s.botParams(c)
	if !ok {
		return
	}
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"equity": []store.EquityPoint{}})
		return
	}
	points, err := s.store.Equity().Recent(account, bot, s.limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": points})
}

func (s *Server) botParams(c *gin.Context) (string, string, bool) {
	account := c.Query("account")
	bot := c.Query("bot")
	if account == "" || bot == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account and bot query params are required"})
		return "", "", false
	}
	return account, bot, true
}

func (s *Server) limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 1000 {
		return 50
	}
	return limit
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	logger.Infof("🌐 [API] status server at http://localhost%s", addr)
	logger.Infof("  • GET /api/health  - health check")
	logger.Infof("  • GET /api/status  - supervised bots")
	logger.Infof("  • GET /api/ledger?account=x&bot=y  - virtual ledger record")
	logger.Infof("  • GET /api/orders?account=x&bot=y  - recent orders")
	logger.Infof("  • GET /api/events?account=x&bot=y  - recent cycle decisions")
	logger.Infof("  • GET /api/equity?account=x&bot=y  - realized equity curve")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
