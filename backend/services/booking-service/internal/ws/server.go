// Package ws pushes login status updates to browsers over WebSockets.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server upgrades HTTP connections to WebSockets.
type Server struct {
	manager      *Manager
	logger       *zap.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewServer builds ws server. An empty allowedOrigins accepts any origin.
func NewServer(manager *Manager, writeTimeout time.Duration, allowedOrigins []string, logger *zap.Logger) *Server {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Server{
		manager:      manager,
		logger:       logger,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
	}
}

// Upgrade switches the request to a WebSocket and starts its pumps. The connection lives until the
// client leaves, Finish is called or ctx ends.
func (s *Server) Upgrade(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil, err
	}

	connection := NewConnection(uuid.NewString(), conn, s.writeTimeout, s.logger, s.manager.Remove)
	s.manager.Add(connection)

	go connection.Start(ctx)
	return connection, nil
}

// Open returns the number of connected watchers.
func (s *Server) Open() int {
	return s.manager.Count()
}
