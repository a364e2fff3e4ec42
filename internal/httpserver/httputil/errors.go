// Package httputil holds the response helpers shared by HTTP handlers.
package httputil

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Problem is the JSON body of every error response.
type Problem struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteError sends a Problem with the given status. An empty msg falls back
// to the status text.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	text := http.StatusText(status)
	if msg == "" {
		msg = text
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(Problem{
		Error:     msg,
		Code:      statusCode(text),
		RequestID: c.GetRespHeader(fiber.HeaderXRequestID),
	})
}

// ErrorHandler renders errors that escape handlers as Problems. Internal
// details of non-fiber errors are logged, not returned.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *fiber.Ctx, err error) error {
		var ferr *fiber.Error
		if errors.As(err, &ferr) {
			return WriteError(c, ferr.Code, ferr.Message)
		}
		logger.Error("request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Any("error", err))
		return WriteError(c, fiber.StatusInternalServerError, "")
	}
}

func statusCode(text string) string {
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}
