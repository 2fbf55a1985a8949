package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Agent roles match the agent_role column. Operator and admin are human
// roles; admin passes every role check.
const (
	RoleMaster   = "MASTER"
	RoleBed      = "BED"
	RoleCleaner  = "CLEANER"
	RoleNurse    = "NURSE"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether granted contains any of wanted, or admin.
func HasRole(granted []string, wanted ...string) bool {
	for _, has := range granted {
		if has == RoleAdmin {
			return true
		}
		for _, w := range wanted {
			if has == w {
				return true
			}
		}
	}
	return false
}
