package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/supporthours/internal/changerequest"
	"github.com/router-for-me/supporthours/internal/http/api/apierror"
	"github.com/router-for-me/supporthours/internal/ledger"
	"github.com/router-for-me/supporthours/internal/models"
)

// SupportFrontHandler serves the client-facing balance and change request endpoints.
type SupportFrontHandler struct {
	engine  *ledger.Engine
	tracker *changerequest.Tracker
}

// NewSupportFrontHandler constructs a SupportFrontHandler.
func NewSupportFrontHandler(engine *ledger.Engine, tracker *changerequest.Tracker) *SupportFrontHandler {
	return &SupportFrontHandler{engine: engine, tracker: tracker}
}

func parseID(c *gin.Context, name string) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// Project returns the support summary of a project.
func (h *SupportFrontHandler) Project(c *gin.Context) {
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

// Balance returns the current hour balance of a plan.
func (h *SupportFrontHandler) Balance(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	balance, errBalance := h.engine.GetBalance(c.Request.Context(), id, time.Time{})
	if errBalance != nil {
		apierror.Write(c, errBalance)
		return
	}
	c.JSON(http.StatusOK, balance)
}

// createChangeRequest captures a client change request.
type createChangeRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CreateChangeRequest files a change request against the plan quota.
func (h *SupportFrontHandler) CreateChangeRequest(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var body createChangeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	cr, errCreate := h.tracker.Create(c.Request.Context(), changerequest.CreateRequest{
		PlanID:      id,
		Title:       body.Title,
		Description: body.Description,
	})
	if errCreate != nil {
		apierror.Write(c, errCreate)
		return
	}
	c.JSON(http.StatusCreated, formatChangeRequest(&cr))
}

// ListChangeRequests returns the plan's change requests, newest first.
func (h *SupportFrontHandler) ListChangeRequests(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	rows, errList := h.tracker.List(c.Request.Context(), id, 0)
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

func formatChangeRequest(cr *models.ChangeRequest) gin.H {
	return gin.H{
		"id":           cr.PublicID,
		"title":        cr.Title,
		"description":  cr.Description,
		"status":       cr.Status,
		"decided_at":   cr.DecidedAt,
		"completed_at": cr.CompletedAt,
		"created_at":   cr.CreatedAt,
	}
}
