package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/skillgraph/backend/internal/queue"
	"github.com/skillgraph/backend/pkg/common"
	"github.com/skillgraph/backend/pkg/logger"
)

// DetachEntityHandler queues the removal of every edge that references a
// deleted entity. The entity itself is never touched.
func DetachEntityHandler(c echo.Context) error {
	type detachParams struct {
		Kind string `param:"kind" validate:"required,oneof=person skill project"`
		ID   string `param:"id" validate:"required"`
	}

	app, user := appContext(c)

	params := new(detachParams)
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid request params")
	}
	if err := c.Validate(params); err != nil {
		return badRequest(c, "Invalid request params")
	}

	if app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "Queue not configured"})
	}

	ref := common.EntityRef{ID: params.ID, Kind: common.EntityKind(params.Kind)}
	if err := queue.PublishDetach(c.Request().Context(), app.Queue, ref); err != nil {
		if errors.Is(err, queue.ErrMalformed) {
			return badRequest(c, "Invalid request params")
		}
		logger.Error("[Server] Failed to enqueue detach", "entity", ref.String(), "err", err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "Queue temporarily unavailable"})
	}

	userID := ""
	if user != nil {
		userID = user.UserID
	}
	logger.Info("[Server] Detach queued", "entity", ref.String(), "user_id", userID)

	return c.JSON(http.StatusAccepted, map[string]string{"message": "Detach queued"})
}
