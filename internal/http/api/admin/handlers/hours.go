package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/supporthours/internal/http/api/apierror"
	"github.com/router-for-me/supporthours/internal/ledger"
	"github.com/router-for-me/supporthours/internal/models"
	"github.com/shopspring/decimal"
)

// HoursHandler logs consumption and grants hours.
type HoursHandler struct {
	engine *ledger.Engine // Ledger engine for pool mutations.
}

// NewHoursHandler constructs an hours handler.
func NewHoursHandler(engine *ledger.Engine) *HoursHandler {
	return &HoursHandler{engine: engine}
}

// consumeRequest captures the payload for logging support work.
type consumeRequest struct {
	Hours decimal.Decimal `json:"hours"` // Hours worked.
	At    *time.Time      `json:"at"`    // Optional effective time.
}

// Consume draws hours from the plan's pools in priority order.
func (h *HoursHandler) Consume(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var body consumeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	result, errConsume := h.engine.Consume(c.Request.Context(), id, body.Hours, effectiveAt(body.At))
	if errConsume != nil {
		apierror.Write(c, errConsume)
		return
	}
	c.JSON(http.StatusOK, result)
}

// creditRequest captures the payload for an admin hour grant.
type creditRequest struct {
	Hours     decimal.Decimal `json:"hours"`      // Hours to add.
	Pool      string          `json:"pool"`       // monthly, rollover or pack.
	Note      string          `json:"note"`       // Reason for the grant.
	ExpiresAt *time.Time      `json:"expires_at"` // Pack grants only.
}

// Credit adds hours to one pool.
func (h *HoursHandler) Credit(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var body creditRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	result, errCredit := h.engine.Credit(c.Request.Context(), ledger.CreditRequest{
		PlanID:    id,
		Hours:     body.Hours,
		Pool:      models.PoolKind(strings.ToLower(strings.TrimSpace(body.Pool))),
		Note:      strings.TrimSpace(body.Note),
		ExpiresAt: body.ExpiresAt,
	})
	if errCredit != nil {
		apierror.Write(c, errCredit)
		return
	}
	c.JSON(http.StatusOK, result)
}

// packRequest captures the payload for an hour pack purchase.
type packRequest struct {
	PackType     string           `json:"pack_type"`     // Catalog pack type.
	Hours        *decimal.Decimal `json:"hours"`         // Optional override of catalog hours.
	Cost         *decimal.Decimal `json:"cost"`          // Optional override of catalog cost.
	ExpiresAt    *time.Time       `json:"expires_at"`    // Optional explicit expiry.
	NeverExpires bool             `json:"never_expires"` // Pack never expires.
	PurchasedAt  *time.Time       `json:"purchased_at"`  // Optional purchase time.
}

// AddPack records a purchased hour pack.
func (h *HoursHandler) AddPack(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var body packRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req := ledger.PackRequest{
		PlanID:       id,
		PackType:     body.PackType,
		ExpiresAt:    body.ExpiresAt,
		NeverExpires: body.NeverExpires,
		Cost:         body.Cost,
		PurchasedAt:  effectiveAt(body.PurchasedAt),
	}
	if body.Hours != nil {
		req.Hours = *body.Hours
	}
	pack, errPack := h.engine.CreditPack(c.Request.Context(), req)
	if errPack != nil {
		apierror.Write(c, errPack)
		return
	}
	c.JSON(http.StatusCreated, formatPack(&pack))
}
