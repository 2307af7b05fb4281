package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ServeSSE runs one Server-Sent-Events connection for a job. It blocks until
// the client disconnects; authorization errors are returned before any
// stream bytes are written so the caller can map them to a status code.
func (s *Server) ServeSSE(c *gin.Context, jobID uuid.UUID, userID string) error {
	ctx := c.Request.Context()

	job, err := s.authorize(ctx, jobID, userID)
	if err != nil {
		return err
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeaderNow()

	sub := s.notifier.Subscribe(jobID)
	defer sub.Close()

	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()

	// Current state first; late subscribers never see replayed events.
	if err := writeSSE(c.Writer, job.Progress()); err != nil {
		return nil
	}
	c.Writer.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sub.C:
			if err := writeSSE(c.Writer, ev); err != nil {
				return nil
			}
			c.Writer.Flush()
		case <-ticker.C:
			if err := writeSSE(c.Writer, pingMessage()); err != nil {
				return nil
			}
			c.Writer.Flush()
		}
	}
}

func writeSSE(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
