package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/supporthours/internal/changerequest"
	"github.com/router-for-me/supporthours/internal/config"
	handlers "github.com/router-for-me/supporthours/internal/http/api/admin/handlers"
	"github.com/router-for-me/supporthours/internal/http/api/admin/permissions"
	"github.com/router-for-me/supporthours/internal/ledger"
	"github.com/router-for-me/supporthours/internal/provisioning"
	"github.com/router-for-me/supporthours/internal/rollover"
	"github.com/router-for-me/supporthours/internal/security"
	log "github.com/sirupsen/logrus"
)

// Services bundles the ledger components exposed over the admin API.
type Services struct {
	Engine        *ledger.Engine
	Provisioning  *provisioning.Service
	ChangeRequest *changerequest.Tracker
	Rollover      *rollover.Job
}

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, jwtCfg config.JWTConfig, svc Services) {
	if r == nil || svc.Engine == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(svc.Engine.DB())
	r.GET("/healthz", healthHandler.Healthz)

	if strings.TrimSpace(jwtCfg.Secret) == "" {
		log.Warn("admin api: jwt secret not configured, every admin request will be rejected")
	}

	authed := r.Group("/v0/admin")
	authed.Use(adminAuthMiddleware(jwtCfg))
	authed.Use(adminPermissionMiddleware())

	permissionHandler := handlers.NewPermissionHandler()
	authed.GET("/permissions", permissionHandler.List)

	planHandler := handlers.NewPlanHandler(svc.Engine, svc.Provisioning)
	authed.GET("/projects/:projectID/support", planHandler.ProjectSupport)
	authed.GET("/plans/:id", planHandler.Get)
	authed.GET("/plans/:id/ledger", planHandler.Ledger)
	authed.POST("/plans/:id/pause", planHandler.Pause)
	authed.POST("/plans/:id/resume", planHandler.Resume)
	authed.POST("/plans/:id/cancel", planHandler.Cancel)
	authed.PUT("/plans/:id/rollover-enabled", planHandler.SetRolloverEnabled)

	hoursHandler := handlers.NewHoursHandler(svc.Engine)
	authed.POST("/plans/:id/consume", hoursHandler.Consume)
	authed.POST("/plans/:id/credits", hoursHandler.Credit)
	authed.POST("/plans/:id/packs", hoursHandler.AddPack)

	if svc.Rollover != nil {
		rolloverHandler := handlers.NewRolloverHandler(svc.Rollover)
		authed.POST("/plans/:id/rollover", rolloverHandler.RunPlan)
		authed.POST("/rollover/run", rolloverHandler.RunSweep)
	}

	provisioningHandler := handlers.NewProvisioningHandler(svc.Provisioning)
	authed.POST("/checkouts", provisioningHandler.Checkout)
	authed.POST("/activations", provisioningHandler.Activate)

	changeRequestHandler := handlers.NewChangeRequestHandler(svc.ChangeRequest)
	authed.GET("/plans/:id/change-requests", changeRequestHandler.List)
	authed.POST("/change-requests/:id/approve", changeRequestHandler.Approve)
	authed.POST("/change-requests/:id/reject", changeRequestHandler.Reject)
	authed.POST("/change-requests/:id/complete", changeRequestHandler.Complete)
}

// adminAuthMiddleware validates admin JWTs and loads admin context.
func adminAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("adminSubject", claims.Subject)
		c.Set("adminPermissions", claims.Permissions)
		c.Set("adminIsSuperAdmin", claims.SuperAdmin)
		c.Next()
	}
}

// adminPermissionMiddleware enforces the route permission unless the admin is a super admin.
func adminPermissionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool("adminIsSuperAdmin") {
			c.Next()
			return
		}
		fullPath := c.FullPath()
		if fullPath == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		perms, _ := c.Get("adminPermissions")
		granted, _ := perms.([]string)
		if !permissions.HasPermission(granted, permissions.Key(c.Request.Method, fullPath)) {
			log.WithFields(log.Fields{
				"admin":  c.GetString("adminSubject"),
				"method": c.Request.Method,
				"path":   fullPath,
			}).Info("admin api: permission denied")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		c.Next()
	}
}
