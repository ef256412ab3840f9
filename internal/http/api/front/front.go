package front

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/supporthours/internal/changerequest"
	"github.com/router-for-me/supporthours/internal/http/api/front/handlers"
	"github.com/router-for-me/supporthours/internal/ledger"
	"github.com/router-for-me/supporthours/internal/ratelimit"
	"github.com/router-for-me/supporthours/internal/tiers"
)

// RegisterFrontRoutes registers the client-facing routes. Project authentication is
// enforced upstream of this service. A nil limiter disables throttling.
func RegisterFrontRoutes(r *gin.Engine, engine *ledger.Engine, tracker *changerequest.Tracker, packs *tiers.PackCatalog, limiter *ratelimit.Manager) {
	if r == nil || engine == nil {
		return
	}
	group := r.Group("/v0/front")
	if limiter.Enabled() {
		group.Use(ratelimit.Middleware(limiter))
	}

	planHandler := handlers.NewPlanFrontHandler(engine.Tiers(), packs)
	group.GET("/plans", planHandler.List)

	supportHandler := handlers.NewSupportFrontHandler(engine, tracker)
	group.GET("/projects/:projectID/support", supportHandler.Project)
	group.GET("/plans/:id/balance", supportHandler.Balance)
	group.GET("/plans/:id/change-requests", supportHandler.ListChangeRequests)
	group.POST("/plans/:id/change-requests", supportHandler.CreateChangeRequest)
}
