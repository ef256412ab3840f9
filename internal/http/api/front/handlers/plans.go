package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/supporthours/internal/tiers"
)

// PlanFrontHandler serves the purchasable tier and pack catalogue.
type PlanFrontHandler struct {
	tiers *tiers.Catalog
	packs *tiers.PackCatalog
}

// NewPlanFrontHandler constructs a PlanFrontHandler.
func NewPlanFrontHandler(tierCatalog *tiers.Catalog, packCatalog *tiers.PackCatalog) *PlanFrontHandler {
	return &PlanFrontHandler{tiers: tierCatalog, packs: packCatalog}
}

// List returns the tiers and hour packs on offer.
func (h *PlanFrontHandler) List(c *gin.Context) {
	tierOut := make([]gin.H, 0)
	for _, name := range h.tiers.Names() {
		def, _ := h.tiers.Lookup(name)
		tierOut = append(tierOut, gin.H{
			"name":             def.Name,
			"support_hours":    def.SupportHours,
			"change_requests":  def.ChangeRequests,
			"unlimited":        def.Unlimited,
			"rollover_enabled": def.RolloverEnabled,
		})
	}

	packOut := make([]gin.H, 0)
	for _, typ := range h.packs.Types() {
		def, _ := h.packs.Lookup(typ)
		packOut = append(packOut, gin.H{
			"type":       def.Type,
			"hours":      def.Hours,
			"cost":       def.Cost,
			"valid_days": def.ValidDays,
		})
	}

	c.JSON(http.StatusOK, gin.H{"tiers": tierOut, "packs": packOut})
}
