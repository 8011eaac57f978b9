package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bunker-admin/internal/admin"
)

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	switch admin.ErrorKind(err) {
	case admin.KindInvalidParams:
		return http.StatusBadRequest
	case admin.KindNotFound:
		return http.StatusNotFound
	case admin.KindDeleted:
		return http.StatusGone
	case admin.KindAlreadyDeleted, admin.KindAlreadyRevoked, admin.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(c echo.Context, err error) error {
	return c.JSON(StatusFor(err), errorBody{Error: admin.PublicMessage(err), Kind: admin.ErrorKind(err)})
}
