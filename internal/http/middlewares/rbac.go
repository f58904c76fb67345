package middlewares

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireRole admits callers holding any of roles. It must run after
// RequireAuth.
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	need := strings.Join(roles, " or ")
	return func(c *gin.Context) {
		role, ok := RoleFromContext(c)
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "unauthenticated", "Missing identity context")
			return
		}
		if !slices.Contains(roles, role) {
			abortJSON(c, http.StatusForbidden, "unauthorized", need+" role required")
			return
		}
		c.Next()
	}
}
