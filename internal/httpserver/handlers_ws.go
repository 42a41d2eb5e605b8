package httpserver

import (
	"fmt"
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	ws "github.com/stagepulse/stagepulse/internal/websocket"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
)

// handleViewerSocket upgrades a viewer connection and parks it in the hub.
// The read pump exists only to detect disconnects; viewers never send
// engine commands over the socket.
func (s *Server) handleViewerSocket(c echo.Context) error {
	sessionID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	if _, err := s.app.GetSession(c.Request().Context(), sessionID); err != nil {
		return err
	}

	upgrader := s.newUpgrader()
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade WebSocket: %w", err)
	}

	if err := s.hub.Register(sessionID, conn); err != nil {
		slog.Warn("Failed to register viewer", "session_id", sessionID.String(), "error", err)
		return nil
	}

	// Read pump blocks until the connection closes
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.hub.Unregister(sessionID, conn)
	return nil
}

func (s *Server) newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin:     ws.NewCheckOrigin(s.config.AppURL, s.config.AppEnv != "production"),
	}
}
