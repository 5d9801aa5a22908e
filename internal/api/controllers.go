package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"trading-loop/internal/engine"
	"trading-loop/internal/strategy"
)

func respondError(c *gin.Context, status int, code string, err error) {
	c.JSON(status, gin.H{"code": code, "error": err.Error()})
}

func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || n <= 0 || n > 1000 {
		return def
	}
	return n
}

// --- Status ---

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Status())
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Metrics())
}

func (s *Server) getBalance(c *gin.Context) {
	bal, err := s.Engine.GetBalance(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "BALANCE_UNAVAILABLE", err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

// --- Bot lifecycle ---

func (s *Server) startBot(c *gin.Context) {
	if err := s.Engine.Start(c.Request.Context()); err != nil {
		if errors.Is(err, engine.ErrAlreadyRunning) {
			respondError(c, http.StatusConflict, "ALREADY_RUNNING", err)
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
		return
	}
	log.WithField("operator", CurrentOperator(c)).Info("✅ Bot started by operator")
	c.JSON(http.StatusOK, s.Engine.Status())
}

func (s *Server) stopBot(c *gin.Context) {
	if err := s.Engine.Stop(); err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			respondError(c, http.StatusConflict, "NOT_RUNNING", err)
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
		return
	}
	log.WithField("operator", CurrentOperator(c)).Info("✅ Bot stopped by operator")
	c.JSON(http.StatusOK, s.Engine.Status())
}

func (s *Server) emergencyStop(c *gin.Context) {
	log.WithField("operator", CurrentOperator(c)).Warn("⚠️ Emergency stop requested")
	rep, err := s.Engine.EmergencyStop(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.Engine.Status(), "result": rep})
}

// --- Strategies ---

func (s *Server) getStrategies(c *gin.Context) {
	list, err := s.Engine.ListStrategies(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) setStrategyActive(c *gin.Context) {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "body must be {\"active\": bool}"})
		return
	}
	id := c.Param("id")
	info, err := s.Engine.SetStrategyActive(c.Request.Context(), id, *req.Active)
	if err != nil {
		if errors.Is(err, strategy.ErrUnknownStrategy) {
			respondError(c, http.StatusNotFound, "STRATEGY_NOT_FOUND", err)
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
		return
	}
	log.WithFields(log.Fields{"operator": CurrentOperator(c), "strategy_id": id, "active": *req.Active}).
		Info("🔄 Strategy toggled by operator")
	c.JSON(http.StatusOK, info)
}

func (s *Server) getConfidenceLog(c *gin.Context) {
	rows, err := s.Engine.ConfidenceLog(c.Request.Context(), queryLimit(c, 100))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// --- Positions and ledger ---

func (s *Server) getPositions(c *gin.Context) {
	positions, err := s.Engine.GetPositions(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) getTrades(c *gin.Context) {
	trades, err := s.Engine.ListTrades(c.Request.Context(), queryLimit(c, 100))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) getEvents(c *gin.Context) {
	rows, err := s.Engine.ListEvents(c.Request.Context(), c.Query("topic"), queryLimit(c, 100))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// getReport accepts ?since=RFC3339 or ?window=Go duration; the default window is 24h.
func (s *Server) getReport(c *gin.Context) {
	since := time.Now().Add(-24 * time.Hour)
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_SINCE", err)
			return
		}
		since = t
	} else if v := c.Query("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_WINDOW", "error": "window must be a positive duration"})
			return
		}
		since = time.Now().Add(-d)
	}
	rep, err := s.Engine.Report(c.Request.Context(), since)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
