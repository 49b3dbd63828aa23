// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rebeca/internal/modules/driver"
	"rebeca/internal/modules/pricing"
	"rebeca/internal/modules/ride"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts the UUIDs we generate as well as short external ids.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError maps module sentinels to status codes. Anything unknown
// is logged by the request middleware and hidden from the caller.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ride.ErrRideNoLongerAvailable):
		writeError(c, http.StatusConflict, "ride taken")
	case errors.Is(err, ride.ErrValidation),
		errors.Is(err, pricing.ErrValidation),
		errors.Is(err, driver.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ride.ErrRideNotFound),
		errors.Is(err, ride.ErrDriverNotFound),
		errors.Is(err, driver.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ride.ErrNotAssignedDriver),
		errors.Is(err, ride.ErrNotRideClient):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ride.ErrInvalidTransition),
		errors.Is(err, ride.ErrDriverUnavailable),
		errors.Is(err, ride.ErrConflict),
		errors.Is(err, driver.ErrBusy),
		errors.Is(err, driver.ErrInactive):
		writeError(c, http.StatusConflict, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func pathID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return id, true
}
