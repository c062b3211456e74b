package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
)

const defaultDecisionLimit = 50

// handleListDecisions queries the in-memory journal. A from/to range
// switches to time-window mode; otherwise it returns the most recent
// records, optionally filtered by strategy.
func (s *Server) handleListDecisions(c *gin.Context) {
	strategyID := c.Query("strategy_id")

	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr != "" || toStr != "" {
		from, to, err := parseRange(fromStr, toStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		records := s.deps.Journal.InRange(strategyID, from, to)
		c.JSON(http.StatusOK, gin.H{"decisions": records, "count": len(records)})
		return
	}

	limit := defaultDecisionLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	records := s.deps.Journal.Recent(strategyID, limit)
	c.JSON(http.StatusOK, gin.H{"decisions": records, "count": len(records)})
}

func (s *Server) handleGetDecision(c *gin.Context) {
	rec, ok := s.deps.Journal.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func parseRange(fromStr, toStr string) (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Now().Add(time.Hour)

	var err error
	if fromStr != "" {
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return from, to, nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The REST layer already applies CORS policy; the stream carries no
	// credentials.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleDecisionStream upgrades to a websocket and forwards the NATS
// decision stream. An optional strategy_id narrows the subscription to
// one agent's subject.
func (s *Server) handleDecisionStream(c *gin.Context) {
	if s.deps.NATS == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision stream disabled"})
		return
	}

	subject := s.deps.Subject + ".>"
	if strategyID := c.Query("strategy_id"); strategyID != "" {
		subject = s.deps.Subject + "." + strategyID
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return // Upgrade already wrote the error response
	}
	defer conn.Close()

	msgs := make(chan []byte, 64)
	sub, err := s.deps.NATS.Subscribe(subject, func(m *nats.Msg) {
		select {
		case msgs <- m.Data:
		default:
			// A stalled websocket client loses messages rather than
			// backing up the NATS callback.
		}
	})
	if err != nil {
		s.log.Error().Err(err).Str("subject", subject).Msg("Decision stream subscribe failed")
		return
	}
	defer sub.Unsubscribe()

	// Reader goroutine notices the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case data := <-msgs:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
