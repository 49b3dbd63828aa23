// README: Tenant scoping middleware; every /api request names its tenant.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rebeca/internal/types"
)

const (
	TenantHeader = "X-Tenant-ID"
	tenantKey    = "tenant_id"
)

// Tenant rejects requests without an X-Tenant-ID header. Token verification
// happens upstream; this layer only scopes the request.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(TenantHeader))
		if id == "" || len(id) > 64 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing or invalid " + TenantHeader})
			return
		}
		c.Set(tenantKey, types.ID(id))
		c.Next()
	}
}

// TenantID returns the tenant set by Tenant, or "" outside of it.
func TenantID(c *gin.Context) types.ID {
	v, _ := c.Get(tenantKey)
	id, _ := v.(types.ID)
	return id
}
