package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/supporthours/internal/http/api/apierror"
	"github.com/router-for-me/supporthours/internal/provisioning"
)

// ProvisioningHandler receives checkout and payment events.
type ProvisioningHandler struct {
	service *provisioning.Service // Plan provisioning service.
}

// NewProvisioningHandler constructs a provisioning handler.
func NewProvisioningHandler(service *provisioning.Service) *ProvisioningHandler {
	return &ProvisioningHandler{service: service}
}

// checkoutRequest captures the payload for reserving a plan.
type checkoutRequest struct {
	ProjectID  uint64 `json:"project_id"`  // Project buying maintenance.
	Tier       string `json:"tier"`        // Selected tier.
	BillingDay int    `json:"billing_day"` // Optional day-of-month anchor.
}

// Checkout creates a PENDING plan ahead of payment.
func (h *ProvisioningHandler) Checkout(c *gin.Context) {
	var body checkoutRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.ProjectID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project_id is required"})
		return
	}
	plan, errCheckout := h.service.StartCheckout(c.Request.Context(), provisioning.CheckoutRequest{
		ProjectID:  body.ProjectID,
		Tier:       body.Tier,
		BillingDay: body.BillingDay,
	})
	if errCheckout != nil {
		apierror.Write(c, errCheckout)
		return
	}
	c.JSON(http.StatusCreated, formatPlan(&plan))
}

// activationRequest captures a payment-confirmed event.
type activationRequest struct {
	EventID    string     `json:"event_id"`    // Idempotency key from the payment provider.
	ProjectID  uint64     `json:"project_id"`  // Paying project.
	Tier       string     `json:"tier"`        // Purchased tier.
	OccurredAt *time.Time `json:"occurred_at"` // Optional event time.
}

// Activate applies a payment-confirmed event. Replays return 200 with duplicate set.
func (h *ProvisioningHandler) Activate(c *gin.Context) {
	var body activationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.ProjectID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project_id is required"})
		return
	}
	activation, errActivate := h.service.HandlePaymentConfirmed(c.Request.Context(), provisioning.PaymentConfirmed{
		EventID:    body.EventID,
		ProjectID:  body.ProjectID,
		Tier:       body.Tier,
		OccurredAt: effectiveAt(body.OccurredAt),
	})
	if errActivate != nil {
		apierror.Write(c, errActivate)
		return
	}
	status := http.StatusOK
	if activation.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"plan":          formatPlan(&activation.Plan),
		"created":       activation.Created,
		"duplicate":     activation.Duplicate,
		"tier_deferred": activation.TierDeferred,
	})
}
