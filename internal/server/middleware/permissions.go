package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/skillgraph/backend/pkg/store"
)

func HasPermission(user *AppUser, permission string) bool {
	if user == nil {
		return false
	}
	return slices.Contains(user.Permissions, permission)
}

func HasAnyPermission(user *AppUser, permissions ...string) bool {
	return slices.ContainsFunc(permissions, func(p string) bool {
		return HasPermission(user, p)
	})
}

func IsAdmin(user *AppUser) bool {
	return user != nil && user.Role == "admin"
}

// IsSelfOrAdmin reports whether user may act on behalf of personID.
func IsSelfOrAdmin(user *AppUser, personID string) bool {
	if user == nil {
		return false
	}
	return IsAdmin(user) || user.UserID == personID
}

// CanManageTeam reports whether user is an admin or an owner/admin of the team.
func CanManageTeam(ctx context.Context, teams TeamRoles, user *AppUser, teamID string) (bool, error) {
	if user == nil {
		return false, nil
	}
	if IsAdmin(user) {
		return true, nil
	}
	if teams == nil {
		return false, nil
	}
	role, err := teams.TeamMemberRole(ctx, teamID, user.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return role == "owner" || role == "admin", nil
}

func RequirePermission(permission string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := c.(*AppContext).User
			if user == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			if !HasPermission(user, permission) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden: missing permission " + permission})
			}

			return next(c)
		}
	}
}
