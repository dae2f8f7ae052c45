package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/reader/internal/logger"
)

// SetHeaders prepares w for an event stream.
func SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteEvent encodes ev in the text/event-stream format and flushes.
func WriteEvent(w io.Writer, ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if ev.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
			return fmt.Errorf("write event type: %w", err)
		}
	}
	if ev.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", ev.ID); err != nil {
			return fmt.Errorf("write event id: %w", err)
		}
	}
	if ev.Retry > 0 {
		if _, err := fmt.Fprintf(w, "retry: %d\n", ev.Retry); err != nil {
			return fmt.Errorf("write retry: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}
	flush(w)
	return nil
}

// WriteHeartbeat writes a keep-alive comment.
func WriteHeartbeat(w io.Writer) error {
	if _, err := fmt.Fprintf(w, ": heartbeat %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	flush(w)
	return nil
}

func flush(w io.Writer) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// Handler streams broker events to one client until it disconnects.
func Handler(b *Broker, log logger.Logger, filter Filter) gin.HandlerFunc {
	log = logger.OrNop(log)
	return func(c *gin.Context) {
		events, unsubscribe, ok := b.Subscribe(c.Request.Context(), filter)
		defer unsubscribe()
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many connections"})
			return
		}

		SetHeaders(c.Writer)
		c.Status(http.StatusOK)
		if err := WriteEvent(c.Writer, Event{
			Type: eventConnected,
			Data: gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339)},
		}); err != nil {
			return
		}

		ticker := time.NewTicker(b.Heartbeat())
		defer ticker.Stop()
		for {
			select {
			case ev, open := <-events:
				if !open {
					return
				}
				if err := WriteEvent(c.Writer, ev); err != nil {
					log.Debug("SSE write failed", logger.Error(err))
					return
				}
			case <-ticker.C:
				if err := WriteHeartbeat(c.Writer); err != nil {
					return
				}
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}
