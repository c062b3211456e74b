package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nehcuh/cherryquant/internal/agent"
	"github.com/nehcuh/cherryquant/internal/db"
	"github.com/nehcuh/cherryquant/internal/manager"
	"github.com/nehcuh/cherryquant/internal/strategy"
)

// strategyView is the API shape for one strategy agent
type strategyView struct {
	Config *strategy.Config `json:"config"`
	Status agent.Status     `json:"status"`
}

func (s *Server) handleCreateStrategy(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	format := strategy.FormatJSON
	if strings.Contains(c.ContentType(), "yaml") {
		format = strategy.FormatYAML
	}

	cfg, err := strategy.Import(body, format, s.deps.Pools)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := s.deps.Manager.CreateAgent(c.Request.Context(), cfg)
	switch {
	case errors.Is(err, manager.ErrDuplicateID):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, manager.ErrCapacityExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.deps.Store != nil {
		if err := s.deps.Store.Save(c.Request.Context(), cfg); err != nil {
			s.log.Error().Err(err).Str("strategy_id", cfg.StrategyID).Msg("Strategy persistence failed")
		}
	}

	c.JSON(http.StatusCreated, strategyView{Config: a.Config(), Status: a.GetStatus()})
}

func (s *Server) handleListStrategies(c *gin.Context) {
	agents := s.deps.Manager.Agents()
	views := make([]strategyView, 0, len(agents))
	for _, a := range agents {
		views = append(views, strategyView{Config: a.Config(), Status: a.GetStatus()})
	}
	c.JSON(http.StatusOK, gin.H{"strategies": views, "count": len(views)})
}

func (s *Server) handleGetStrategy(c *gin.Context) {
	a, ok := s.agentOr404(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, strategyView{Config: a.Config(), Status: a.GetStatus()})
}

func (s *Server) handleExportStrategy(c *gin.Context) {
	a, ok := s.agentOr404(c)
	if !ok {
		return
	}

	format := strategy.FormatYAML
	contentType := "application/yaml"
	if c.Query("format") == "json" {
		format = strategy.FormatJSON
		contentType = "application/json"
	}

	data, err := strategy.Export(a.Config(), format)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

func (s *Server) handleRemoveStrategy(c *gin.Context) {
	if err := s.deps.Manager.RemoveAgent(c.Request.Context(), c.Param("id")); err != nil {
		s.lifecycleError(c, err)
		return
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.Delete(c.Request.Context(), c.Param("id")); err != nil && !errors.Is(err, db.ErrStrategyNotFound) {
			s.log.Error().Err(err).Str("strategy_id", c.Param("id")).Msg("Strategy row delete failed")
		}
	}
	c.JSON(http.StatusOK, gin.H{"removed": c.Param("id")})
}

func (s *Server) handlePauseStrategy(c *gin.Context) {
	if err := s.deps.Manager.PauseAgent(c.Param("id")); err != nil {
		s.lifecycleError(c, err)
		return
	}
	s.persistActivation(c, c.Param("id"), false)
	c.JSON(http.StatusOK, gin.H{"strategy_id": c.Param("id"), "state": string(agent.StatePaused)})
}

func (s *Server) handleResumeStrategy(c *gin.Context) {
	if err := s.deps.Manager.ResumeAgent(c.Param("id")); err != nil {
		s.lifecycleError(c, err)
		return
	}
	s.persistActivation(c, c.Param("id"), true)
	c.JSON(http.StatusOK, gin.H{"strategy_id": c.Param("id"), "state": string(agent.StateIdle)})
}

func (s *Server) handleHaltStrategy(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = "halted by operator"
	}

	if err := s.deps.Manager.HaltAgent(c.Request.Context(), c.Param("id"), body.Reason); err != nil {
		s.lifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy_id": c.Param("id"), "state": string(agent.StateHalted)})
}

// persistActivation mirrors pause/resume into the strategy store so a
// restart replays only strategies the operator left running.
func (s *Server) persistActivation(c *gin.Context, id string, active bool) {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.SetActive(c.Request.Context(), id, active); err != nil && !errors.Is(err, db.ErrStrategyNotFound) {
		s.log.Error().Err(err).Str("strategy_id", id).Msg("Strategy activation persistence failed")
	}
}

func (s *Server) agentOr404(c *gin.Context) (*agent.Agent, bool) {
	a, err := s.deps.Manager.Agent(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return a, true
}

// lifecycleError maps fleet errors to status codes
func (s *Server) lifecycleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, manager.ErrUnknownAgent):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	}
}
