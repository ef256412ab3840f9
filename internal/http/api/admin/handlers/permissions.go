package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/supporthours/internal/http/api/admin/permissions"
)

// PermissionHandler lists the admin permission catalogue.
type PermissionHandler struct{}

// NewPermissionHandler constructs a permission handler.
func NewPermissionHandler() *PermissionHandler {
	return &PermissionHandler{}
}

// List returns every permission definition.
func (h *PermissionHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"permissions": permissions.Definitions()})
}
