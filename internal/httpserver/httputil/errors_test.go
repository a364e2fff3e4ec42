package httputil

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func decodeProblem(t *testing.T, app *fiber.App, path string) (int, Problem) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	var p Problem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	return resp.StatusCode, p
}

func TestWriteErrorDefaultsToStatusText(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return WriteError(c, fiber.StatusBadRequest, "")
	})

	status, p := decodeProblem(t, app, "/")
	require.Equal(t, 400, status)
	require.Equal(t, "Bad Request", p.Error)
	require.Equal(t, "bad_request", p.Code)
}

func TestErrorHandlerHidesInternalErrors(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(nil)})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("db password is hunter2")
	})
	app.Get("/gone", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "no such batch")
	})

	status, p := decodeProblem(t, app, "/boom")
	require.Equal(t, 500, status)
	require.Equal(t, "Internal Server Error", p.Error)
	require.Equal(t, "internal_server_error", p.Code)

	status, p = decodeProblem(t, app, "/gone")
	require.Equal(t, 404, status)
	require.Equal(t, "no such batch", p.Error)
	require.Equal(t, "not_found", p.Code)
}
