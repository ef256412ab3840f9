package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/supporthours/internal/changerequest"
	"github.com/router-for-me/supporthours/internal/http/api/apierror"
	"github.com/router-for-me/supporthours/internal/models"
)

// ChangeRequestHandler reviews client change requests.
type ChangeRequestHandler struct {
	tracker *changerequest.Tracker // Change request tracker.
}

// NewChangeRequestHandler constructs a change request handler.
func NewChangeRequestHandler(tracker *changerequest.Tracker) *ChangeRequestHandler {
	return &ChangeRequestHandler{tracker: tracker}
}

// List returns the change requests of a plan, newest first.
func (h *ChangeRequestHandler) List(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	rows, errList := h.tracker.List(c.Request.Context(), id, parseLimit(c))
	if errList != nil {
		apierror.Write(c, errList)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatChangeRequest(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"change_requests": out})
}

// Approve accepts a pending change request.
func (h *ChangeRequestHandler) Approve(c *gin.Context) {
	h.transition(c, h.tracker.Approve)
}

// Reject declines a pending change request. The quota stays consumed.
func (h *ChangeRequestHandler) Reject(c *gin.Context) {
	h.transition(c, h.tracker.Reject)
}

// Complete marks an approved change request as delivered.
func (h *ChangeRequestHandler) Complete(c *gin.Context) {
	h.transition(c, h.tracker.Complete)
}

func (h *ChangeRequestHandler) transition(c *gin.Context, fn func(ctx context.Context, id uint64) (models.ChangeRequest, error)) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	cr, errTransition := fn(c.Request.Context(), id)
	if errTransition != nil {
		apierror.Write(c, errTransition)
		return
	}
	c.JSON(http.StatusOK, formatChangeRequest(&cr))
}
