package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/metrics"
)

// writeTimeout is the deadline extension granted to each SSE write.
const writeTimeout = 30 * time.Second

// client manages a single SSE connection's write operations.
type client struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	ip      string
	logger  *slog.Logger

	messagesSent int64
	bytesSent    int64
}

// sendJSON marshals v as JSON and sends it as an SSE message, preceded by
// an "id:" line when id is non-empty.
func (c *client) sendJSON(id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		metrics.IncStreamErrors("marshal_error")
		return fmt.Errorf("json marshal: %w", err)
	}

	var b strings.Builder
	if id != "" {
		fmt.Fprintf(&b, "id: %s\n", id)
	}
	fmt.Fprintf(&b, "data: %s\n\n", data)

	n, err := c.write(b.String())
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.messagesSent++
	metrics.IncStreamMessages()
	metrics.AddStreamBytes(int64(n))
	return nil
}

// sendRetry tells the browser how long to wait before reconnecting.
func (c *client) sendRetry(ms int) error {
	n, err := c.write(fmt.Sprintf("retry: %d\n\n", ms))
	if err != nil {
		return fmt.Errorf("retry write: %w", err)
	}
	metrics.AddStreamBytes(int64(n))
	return nil
}

// sendKeepalive sends an SSE comment line to keep the connection alive.
func (c *client) sendKeepalive() error {
	n, err := c.write(":\n\n")
	if err != nil {
		return fmt.Errorf("keepalive write: %w", err)
	}
	metrics.AddStreamBytes(int64(n))
	return nil
}

// write extends the write deadline, writes msg and flushes.
func (c *client) write(msg string) (int, error) {
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}
	n, err := fmt.Fprint(c.w, msg)
	if err != nil {
		return n, err
	}
	c.flusher.Flush()
	c.bytesSent += int64(n)
	return n, nil
}
