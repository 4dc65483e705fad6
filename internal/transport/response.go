// ABOUTME: JSON envelope and fault-to-HTTP mapping shared by REST handlers
// ABOUTME: Success responses wrap data; failures carry a message and a status code

package transport

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/deskline/livechat/internal/fault"
)

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func respond(c echo.Context, status int, data any) error {
	return c.JSON(status, successEnvelope{Success: true, Data: data})
}

// respondErr maps the fault kind onto an HTTP status. Internal faults hide
// their cause from the client.
func respondErr(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch fault.KindOf(err) {
	case fault.KindNotFound:
		status = http.StatusNotFound
		msg = fault.Message(err)
	case fault.KindInvalidArgument:
		status = http.StatusBadRequest
		msg = fault.Message(err)
	case fault.KindConflict:
		status = http.StatusConflict
		msg = fault.Message(err)
	case fault.KindPermissionDenied:
		status = http.StatusForbidden
		msg = fault.Message(err)
	}
	return c.JSON(status, errorEnvelope{Success: false, Message: msg})
}
