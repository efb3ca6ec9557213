package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/skillgraph/backend/pkg/graph"
	"github.com/skillgraph/backend/pkg/logger"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

// engineError writes the HTTP response for an error returned by the engine.
func engineError(c echo.Context, op string, err error) error {
	reason := graph.Reason(err)
	switch {
	case errors.Is(err, graph.ErrUnknownEntity), errors.Is(err, graph.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error(), Reason: reason})
	case errors.Is(err, graph.ErrInvalidRelationship):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Reason: reason})
	default:
		logger.Error("[Server] Engine call failed", "op", op, "err", err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "Storage temporarily unavailable", Reason: reason})
	}
}
