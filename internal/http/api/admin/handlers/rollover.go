package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/supporthours/internal/http/api/apierror"
	"github.com/router-for-me/supporthours/internal/rollover"
)

// RolloverHandler triggers period rollovers on demand.
type RolloverHandler struct {
	job *rollover.Job // Rollover job shared with the scheduler.
}

// NewRolloverHandler constructs a rollover handler.
func NewRolloverHandler(job *rollover.Job) *RolloverHandler {
	return &RolloverHandler{job: job}
}

// RunPlan rolls one plan over every period that has ended.
func (h *RolloverHandler) RunPlan(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	outcome, errRun := h.job.RunRolloverForPlan(c.Request.Context(), id, time.Time{})
	if errRun != nil {
		apierror.Write(c, errRun)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// RunSweep rolls every due plan and sends expiring-soon notices.
func (h *RolloverHandler) RunSweep(c *gin.Context) {
	ctx := c.Request.Context()
	report, errRun := h.job.RunDue(ctx, time.Time{})
	if errRun != nil {
		apierror.Write(c, errRun)
		return
	}
	notified, errNotify := h.job.NotifyExpiring(ctx, time.Time{})
	if errNotify != nil {
		apierror.Write(c, errNotify)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report, "expiring_notified": notified})
}
