package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/supporthours/internal/models"
)

// parseID reads a positive uint64 path parameter, writing a 400 when it is malformed.
func parseID(c *gin.Context, name string) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// parseLimit reads the optional limit query parameter.
func parseLimit(c *gin.Context) int {
	limit, errParse := strconv.Atoi(strings.TrimSpace(c.Query("limit")))
	if errParse != nil || limit <= 0 {
		return 0
	}
	return limit
}

// effectiveAt returns the optional request time in UTC, or the zero time.
func effectiveAt(at *time.Time) time.Time {
	if at == nil {
		return time.Time{}
	}
	return at.UTC()
}

// formatPlan converts a plan row into a response payload.
func formatPlan(plan *models.MaintenancePlan) gin.H {
	if plan == nil {
		return gin.H{}
	}
	return gin.H{
		"id":                       plan.ID,
		"project_id":               plan.ProjectID,
		"tier":                     plan.Tier,
		"next_tier":                plan.NextTier,
		"status":                   plan.Status,
		"support_hours_included":   plan.SupportHoursIncluded,
		"support_hours_used":       plan.SupportHoursUsed,
		"change_requests_included": plan.ChangeRequestsIncluded,
		"change_requests_used":     plan.ChangeRequestsUsed,
		"billing_day":              plan.BillingDay,
		"current_period_start":     plan.CurrentPeriodStart,
		"current_period_end":       plan.CurrentPeriodEnd,
		"rollover_enabled":         plan.RolloverEnabled,
		"version":                  plan.Version,
		"activated_at":             plan.ActivatedAt,
		"cancelled_at":             plan.CancelledAt,
		"created_at":               plan.CreatedAt,
		"updated_at":               plan.UpdatedAt,
	}
}

// formatPack converts an hour pack into a response payload.
func formatPack(pack *models.HourPack) gin.H {
	if pack == nil {
		return gin.H{}
	}
	return gin.H{
		"id":              pack.ID,
		"plan_id":         pack.PlanID,
		"pack_type":       pack.PackType,
		"hours":           pack.Hours,
		"hours_remaining": pack.HoursRemaining,
		"cost":            pack.Cost,
		"purchased_at":    pack.PurchasedAt,
		"expires_at":      pack.ExpiresAt,
		"never_expires":   pack.NeverExpires,
		"is_active":       pack.IsActive,
	}
}

// formatEntry converts a ledger entry into a response payload.
func formatEntry(entry *models.LedgerEntry) gin.H {
	if entry == nil {
		return gin.H{}
	}
	return gin.H{
		"id":           entry.ID,
		"operation_id": entry.OperationID,
		"kind":         entry.Kind,
		"pool_kind":    entry.PoolKind,
		"pool_id":      entry.PoolID,
		"hours":        entry.Hours,
		"note":         entry.Note,
		"metadata":     entry.Metadata,
		"occurred_at":  entry.OccurredAt,
	}
}

// formatChangeRequest converts a change request into a response payload.
func formatChangeRequest(cr *models.ChangeRequest) gin.H {
	if cr == nil {
		return gin.H{}
	}
	return gin.H{
		"id":           cr.ID,
		"public_id":    cr.PublicID,
		"plan_id":      cr.PlanID,
		"project_id":   cr.ProjectID,
		"title":        cr.Title,
		"description":  cr.Description,
		"status":       cr.Status,
		"decided_at":   cr.DecidedAt,
		"completed_at": cr.CompletedAt,
		"created_at":   cr.CreatedAt,
	}
}
