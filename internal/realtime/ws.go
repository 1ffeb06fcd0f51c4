package realtime

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"example.com/competition/internal/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn wraps a websocket connection with a write mutex and deadline so
// concurrent fan-out sends never interleave frames.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Send writes the message as JSON guarded by the write mutex.
func (c *wsConn) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

// Close closes the underlying websocket.
func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Handler upgrades authenticated requests to websocket connections and keeps
// the registry entry alive for the duration of the connection.
func Handler(registry *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.FromContext(r.Context())
		if !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade failed for user %s: %v", claims.Subject, err)
			return
		}

		conn := &wsConn{conn: raw}
		registry.Register(claims.Subject, conn)
		defer func() {
			registry.Unregister(claims.Subject, conn)
			_ = conn.Close()
		}()

		raw.SetReadLimit(4096)
		_ = raw.SetReadDeadline(time.Now().Add(pongWait))
		raw.SetPongHandler(func(string) error {
			return raw.SetReadDeadline(time.Now().Add(pongWait))
		})

		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := conn.ping(); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		// Clients only receive; drain incoming frames until the peer goes away.
		for {
			if _, _, err := raw.ReadMessage(); err != nil {
				break
			}
		}
		close(done)
	})
}
