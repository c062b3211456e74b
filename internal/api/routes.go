package api

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/status", s.handleStatus)

		strategies := v1.Group("/strategies")
		{
			strategies.POST("", s.handleCreateStrategy)
			strategies.GET("", s.handleListStrategies)
			strategies.GET("/:id", s.handleGetStrategy)
			strategies.GET("/:id/export", s.handleExportStrategy)
			strategies.DELETE("/:id", s.handleRemoveStrategy)
			strategies.POST("/:id/pause", s.handlePauseStrategy)
			strategies.POST("/:id/resume", s.handleResumeStrategy)
			strategies.POST("/:id/halt", s.handleHaltStrategy)
		}

		portfolio := v1.Group("/portfolio")
		{
			portfolio.GET("/risk", s.handleRiskStatus)
			portfolio.GET("/risk/limits", s.handleGetRiskLimits)
			portfolio.PUT("/risk/limits", s.handleUpdateRiskLimits)
			portfolio.POST("/resume", s.handlePortfolioResume)
		}

		decisions := v1.Group("/decisions")
		{
			decisions.GET("", s.handleListDecisions)
			decisions.GET("/:id", s.handleGetDecision)
		}
	}

	s.router.GET("/ws/decisions", s.handleDecisionStream)
}
