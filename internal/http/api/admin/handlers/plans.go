package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/supporthours/internal/http/api/apierror"
	"github.com/router-for-me/supporthours/internal/ledger"
	"github.com/router-for-me/supporthours/internal/models"
	"github.com/router-for-me/supporthours/internal/provisioning"
)

// PlanHandler serves plan read models and lifecycle endpoints.
type PlanHandler struct {
	engine  *ledger.Engine        // Ledger engine for read models.
	service *provisioning.Service // Lifecycle transitions.
}

// NewPlanHandler constructs a plan handler.
func NewPlanHandler(engine *ledger.Engine, service *provisioning.Service) *PlanHandler {
	return &PlanHandler{engine: engine, service: service}
}

// Get returns the support view of a plan.
func (h *PlanHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	view, errView := h.engine.PlanView(c.Request.Context(), id, time.Time{})
	if errView != nil {
		apierror.Write(c, errView)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ProjectSupport resolves the support view of a project, falling back to its legacy
// subscription.
func (h *PlanHandler) ProjectSupport(c *gin.Context) {
	projectID, ok := parseID(c, "projectID")
	if !ok {
		return
	}
	view, errView := h.engine.ResolveProject(c.Request.Context(), projectID, time.Time{})
	if errView != nil {
		apierror.Write(c, errView)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Ledger lists the most recent hour movements of a plan.
func (h *PlanHandler) Ledger(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	balance, errBalance := h.engine.GetBalance(ctx, id, time.Time{})
	if errBalance != nil {
		apierror.Write(c, errBalance)
		return
	}
	entries, errEntries := h.engine.Usage(ctx, id, parseLimit(c))
	if errEntries != nil {
		apierror.Write(c, errEntries)
		return
	}
	out := make([]gin.H, 0, len(entries))
	for i := range entries {
		out = append(out, formatEntry(&entries[i]))
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance, "entries": out})
}

// Pause puts an active plan on hold.
func (h *PlanHandler) Pause(c *gin.Context) {
	h.transition(c, h.service.Pause)
}

// Resume reactivates a paused plan.
func (h *PlanHandler) Resume(c *gin.Context) {
	h.transition(c, h.service.Resume)
}

// Cancel terminates a plan.
func (h *PlanHandler) Cancel(c *gin.Context) {
	h.transition(c, h.service.Cancel)
}

func (h *PlanHandler) transition(c *gin.Context, fn func(ctx context.Context, planID uint64) (models.MaintenancePlan, error)) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	plan, errTransition := fn(c.Request.Context(), id)
	if errTransition != nil {
		apierror.Write(c, errTransition)
		return
	}
	c.JSON(http.StatusOK, formatPlan(&plan))
}

// rolloverToggleRequest captures the rollover flag payload.
type rolloverToggleRequest struct {
	Enabled *bool `json:"enabled"` // Required new flag value.
}

// SetRolloverEnabled toggles rollover for future period boundaries.
func (h *PlanHandler) SetRolloverEnabled(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var body rolloverToggleRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}
	plan, errSet := h.service.SetRolloverEnabled(c.Request.Context(), id, *body.Enabled)
	if errSet != nil {
		apierror.Write(c, errSet)
		return
	}
	c.JSON(http.StatusOK, formatPlan(&plan))
}
