package stream

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS runs one WebSocket connection for a job, speaking the same JSON
// messages as the SSE transport. Authorization errors are returned before
// the upgrade so the caller can answer with a plain HTTP status.
func (s *Server) ServeWS(c *gin.Context, jobID uuid.UUID, userID string) error {
	job, err := s.authorize(c.Request.Context(), jobID, userID)
	if err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote its own response.
		return nil
	}
	defer conn.Close()

	sub := s.notifier.Subscribe(jobID)
	defer sub.Close()

	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()

	// Reader goroutine exists only to observe the client closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeWS(conn, job.Progress()); err != nil {
		return nil
	}

	for {
		select {
		case <-done:
			return nil
		case <-c.Request.Context().Done():
			return nil
		case ev := <-sub.C:
			if err := writeWS(conn, ev); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := writeWS(conn, pingMessage()); err != nil {
				return nil
			}
		}
	}
}

func writeWS(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
