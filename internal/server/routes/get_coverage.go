package routes

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/skillgraph/backend/internal/metrics"
	"github.com/skillgraph/backend/internal/server/middleware"
	"github.com/skillgraph/backend/pkg/logger"
)

// GetCoverageHandler reports which skills a team holds. Only admins and the
// team's owners or admins may see it.
func GetCoverageHandler(c echo.Context) error {
	app, user := appContext(c)
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	teamID := c.Param("id")
	if teamID == "" {
		return badRequest(c, "Invalid request params")
	}

	ctx := c.Request().Context()
	allowed, err := middleware.CanManageTeam(ctx, app.Teams, user, teamID)
	if err != nil {
		logger.Error("[Server] Team role lookup failed", "team_id", teamID, "user_id", user.UserID, "err", err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "Storage temporarily unavailable"})
	}
	if !allowed {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "You are not an owner or admin of this team"})
	}

	start := time.Now()
	rows, err := app.Engine.TeamSkillCoverage(ctx, teamID)
	metrics.Observe("team_skill_coverage", start, err)
	if err != nil {
		return engineError(c, "team_skill_coverage", err)
	}

	return c.JSON(http.StatusOK, rows)
}
