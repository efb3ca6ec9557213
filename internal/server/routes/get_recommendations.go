package routes

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/skillgraph/backend/internal/metrics"
	"github.com/skillgraph/backend/internal/server/middleware"
)

// GetRecommendationsHandler suggests skills to a person. People may only ask
// for their own recommendations unless they are admins.
func GetRecommendationsHandler(c echo.Context) error {
	type recommendationParams struct {
		PersonID string `param:"id" validate:"required"`
		MaxDepth int    `query:"max_depth"`
		Limit    int    `query:"limit"`
	}

	app, user := appContext(c)
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	params := new(recommendationParams)
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid request params")
	}
	if err := c.Validate(params); err != nil {
		return badRequest(c, "Invalid request params")
	}

	if !middleware.IsSelfOrAdmin(user, params.PersonID) {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "You can only view your own recommendations"})
	}
	if app.MaxDepth > 0 && params.MaxDepth > app.MaxDepth {
		params.MaxDepth = app.MaxDepth
	}

	start := time.Now()
	rows, err := app.Engine.RecommendSkills(c.Request().Context(), params.PersonID, params.MaxDepth, params.Limit)
	metrics.Observe("recommend_skills", start, err)
	if err != nil {
		return engineError(c, "recommend_skills", err)
	}

	return c.JSON(http.StatusOK, rows)
}
