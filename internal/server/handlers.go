package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrelsec/kestrel/internal/aggregator"
	"github.com/kestrelsec/kestrel/internal/assessment"
	"github.com/kestrelsec/kestrel/internal/health"
	"github.com/kestrelsec/kestrel/internal/idgen"
	"github.com/kestrelsec/kestrel/internal/investigation"
	"github.com/kestrelsec/kestrel/internal/logging"
	"github.com/kestrelsec/kestrel/internal/metrics"
	"github.com/kestrelsec/kestrel/internal/validation"
)

func (s *Server) setupRoutes() {
	// Operational endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/", s.infoHandler)

	v1 := s.router.Group("/v1")
	{
		v1.POST("/investigations", s.openInvestigation)

		withID := v1.Group("/investigations/:id", validation.InvestigationParamMiddleware())
		{
			withID.GET("", s.getInvestigation)
			withID.POST("/assess", s.assessDomains)
			withID.POST("/aggregate", s.aggregateRisk)
			withID.GET("/assessments", s.listAssessments)
		}
	}
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "kestrel",
		"version": "0.1.0",
		"domains": assessment.AllDomains,
	})
}

type openInvestigationRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) openInvestigation(c *gin.Context) {
	var req openInvestigationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "user_id is required",
		})
		return
	}

	if errs := validation.Validate(validation.ValidID("user_id", req.UserID)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	now := time.Now().UTC()
	inv := &investigation.Investigation{
		ID:        idgen.WithPrefix("inv_"),
		UserID:    req.UserID,
		Status:    investigation.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(c.Request.Context(), inv); err != nil {
		logging.L(c.Request.Context()).Error("failed to create investigation", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_error"})
		return
	}

	s.realtimeHub.InvestigationOpened(inv.ID, inv.UserID)
	c.JSON(http.StatusCreated, inv)
}

func (s *Server) getInvestigation(c *gin.Context) {
	ctx := c.Request.Context()
	inv, err := s.store.Get(ctx, c.Param("id"))
	if errors.Is(err, investigation.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_error"})
		return
	}

	resp := gin.H{"investigation": inv}
	if oa, err := s.store.GetOverallAssessment(ctx, inv.ID); err == nil {
		resp["overall_assessment"] = oa
	}
	c.JSON(http.StatusOK, resp)
}

type assessRequest struct {
	// Domains to assess; empty means all four.
	Domains []assessment.Domain `json:"domains"`
	// Context carries optional per-domain comparison values, e.g.
	// {"location": {"registered_country": "DE"}}.
	Context map[assessment.Domain]map[string]any `json:"context"`
}

func (s *Server) assessDomains(c *gin.Context) {
	ctx := c.Request.Context()

	inv, err := s.store.Get(ctx, c.Param("id"))
	if errors.Is(err, investigation.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_error"})
		return
	}

	var req assessRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
	}
	// ?domain=device shortcut for single-domain runs
	if q := c.Query("domain"); q != "" {
		req.Domains = []assessment.Domain{assessment.Domain(q)}
	}
	if len(req.Domains) == 0 {
		req.Domains = assessment.AllDomains
	}
	for _, d := range req.Domains {
		if !d.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_domain",
				"message": "domain must be one of device, location, network, logs",
			})
			return
		}
	}

	// Serialize concurrent runs on the same investigation so overlapping
	// requests cannot interleave writes.
	unlock, err := s.invLocks.LockContext(ctx, inv.ID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request_cancelled"})
		return
	}
	defer unlock()

	results, err := s.runner.RunDomains(ctx, inv, req.Domains, req.Context)
	if err != nil {
		logging.L(ctx).Error("domain run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "assessment_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"investigation_id": inv.ID,
		"assessments":      results,
	})
}

func (s *Server) aggregateRisk(c *gin.Context) {
	ctx := c.Request.Context()

	inv, err := s.store.Get(ctx, c.Param("id"))
	if errors.Is(err, investigation.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_error"})
		return
	}

	unlock, err := s.invLocks.LockContext(ctx, inv.ID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request_cancelled"})
		return
	}
	defer unlock()

	available, err := s.store.GetDomainAssessments(ctx, inv.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_error"})
		return
	}

	oa, err := s.aggregator.Aggregate(ctx, inv.ID, inv.UserID, available)
	if errors.Is(err, aggregator.ErrNoDomains) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_domain_assessments",
			"message": "run at least one domain assessment before aggregating",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregation_error"})
		return
	}

	if err := s.store.PutOverallAssessment(ctx, inv.ID, oa); err != nil {
		logging.L(ctx).Error("failed to persist overall assessment", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_error"})
		return
	}
	if err := s.store.UpdateStatus(ctx, inv.ID, investigation.StatusAssessed); err != nil {
		logging.L(ctx).Warn("failed to update investigation status", "error", err)
	}

	s.realtimeHub.VerdictReady(inv.ID, oa)
	c.JSON(http.StatusOK, oa)
}

func (s *Server) listAssessments(c *gin.Context) {
	ctx := c.Request.Context()

	available, err := s.store.GetDomainAssessments(ctx, c.Param("id"))
	if errors.Is(err, investigation.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"assessments": available})
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statusMap(statuses),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func statusMap(statuses []health.Status) map[string]string {
	out := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			out[st.Name] = "healthy"
		} else {
			out[st.Name] = "unhealthy"
		}
	}
	return out
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
