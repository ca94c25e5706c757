// Package handler holds HTTP boundary helpers shared by the webhook and API
// handlers.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/marbeck/plansync/internal/domain"
)

// ErrorCodeToHTTPStatus maps a domain error code to an HTTP status code.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EPAYMENT:
		return http.StatusPaymentRequired
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// ErrorResponse writes a JSON error envelope for err. Internal errors are
// logged with their full chain and reported to the client as a generic
// message; client-caused errors pass their message through.
func ErrorResponse(c echo.Context, err error) error {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)

	message := domain.ErrorMessage(err)
	if code == domain.EINTERNAL {
		logger := zerolog.Ctx(c.Request().Context())
		logger.Error().Err(err).
			Str("path", c.Request().URL.Path).
			Msg("internal error")
		message = "An internal error has occurred."
	}

	return c.JSON(status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}
