package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nehcuh/cherryquant/internal/config"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	riskStatus, err := s.deps.Risk.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agents": s.deps.Manager.Statuses(),
		"risk":   riskStatus,
	})
}

func (s *Server) handleRiskStatus(c *gin.Context) {
	status, err := s.deps.Risk.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleGetRiskLimits(c *gin.Context) {
	limits, err := s.deps.Risk.Limits(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, limits)
}

func (s *Server) handleUpdateRiskLimits(c *gin.Context) {
	var limits config.RiskConfig
	if err := c.ShouldBindJSON(&limits); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateLimits(limits); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Risk.UpdateLimits(c.Request.Context(), limits); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, limits)
}

// handlePortfolioResume clears the kill switch and returns halted
// agents to trading.
func (s *Server) handlePortfolioResume(c *gin.Context) {
	if err := s.deps.Risk.Resume(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	s.deps.Manager.ResumeAll()
	c.JSON(http.StatusOK, gin.H{"resumed": true})
}

func validateLimits(cfg config.RiskConfig) error {
	probe := config.Config{
		Trading: config.TradingConfig{MaxAgents: 1, StaleFactor: 1},
		LLM:     config.LLMConfig{BudgetPerMinute: 1, TimeoutMS: 1},
		Risk:    cfg,
	}
	return probe.Validate()
}
