// Package api is the operator control surface: bot lifecycle, strategy toggles, ledger
// queries and a live event stream.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"trading-loop/internal/engine"
	"trading-loop/internal/events"
)

// Options configures the server.
type Options struct {
	JWTSecret      string
	OperatorSecret string
	TokenTTL       time.Duration
	RateLimit      float64 // requests per second per client IP
	RateBurst      int
	RequestTimeout time.Duration
}

// Server wires HTTP endpoints around the engine service and the event bus.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Engine    engine.Service
	JWTSecret string
	TokenTTL  time.Duration

	operatorHash []byte
	limiters     *ipLimiters
}

// NewServer builds the router. The operator secret is kept only as a bcrypt hash.
func NewServer(svc engine.Service, bus *events.Bus, opts Options) (*Server, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.OperatorSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 50
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	r := gin.New()
	s := &Server{
		Router:       r,
		Bus:          bus,
		Engine:       svc,
		JWTSecret:    opts.JWTSecret,
		TokenTTL:     opts.TokenTTL,
		operatorHash: hash,
		limiters:     newIPLimiters(opts.RateLimit, opts.RateBurst),
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())          // Panic recovery (first)
	r.Use(RequestIDMiddleware())   // Request ID tracking
	r.Use(RequestLogger())         // Request logging (after ID is set)
	r.Use(s.limiters.Middleware()) // Rate limiting
	r.Use(CORSMiddleware())        // CORS (last before routes)
	s.routes(opts.RequestTimeout)
	return s, nil
}

func (s *Server) routes(timeout time.Duration) {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", AuthMiddleware(s.JWTSecret), s.websocket)

	api := s.Router.Group("/api")
	api.Use(TimeoutMiddleware(timeout))
	{
		api.POST("/auth/token", s.issueToken)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/status", s.getStatus)
			protected.GET("/system/status", s.getSystemStatus)
			protected.GET("/metrics", s.getMetrics)
			protected.GET("/balance", s.getBalance)

			// Bot lifecycle
			protected.POST("/bot/start", s.startBot)
			protected.POST("/bot/stop", s.stopBot)
			protected.POST("/bot/emergency-stop", s.emergencyStop)

			// Strategies
			protected.GET("/strategies", s.getStrategies)
			protected.PUT("/strategies/:id/active", s.setStrategyActive)
			protected.GET("/strategies/confidence-log", s.getConfidenceLog)

			// Positions and ledger
			protected.GET("/positions", s.getPositions)
			protected.GET("/trades", s.getTrades)
			protected.GET("/events", s.getEvents)
			protected.GET("/report", s.getReport)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Handler exposes the router for an http.Server.
func (s *Server) Handler() http.Handler { return s.Router }
