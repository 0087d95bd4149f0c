package api

import (
	"time"

	echo "github.com/labstack/echo/v5"
)

// envelope is the uniform response body of the monitor API.
type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

func respond(c *echo.Context, status int, data any) error {
	return c.JSON(status, envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func respondMessage(c *echo.Context, status int, message string) error {
	return c.JSON(status, envelope{
		Success:   true,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
