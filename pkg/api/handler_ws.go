package api

import (
	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// websocketHandler upgrades HTTP connections to WebSocket and delegates to
// the ConnectionManager.
func (s *Server) websocketHandler(c *echo.Context) error {
	if s.connMgr == nil {
		return echo.NewHTTPError(503, "WebSocket not available")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// TODO: replace with an OriginPatterns allowlist once the dashboard
		// origin is configurable.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	// HandleConnection blocks until the WebSocket closes.
	s.connMgr.HandleConnection(c.Request().Context(), conn)
	return nil
}
