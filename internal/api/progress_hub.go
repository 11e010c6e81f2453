package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/mining"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	hubWriteTimeout = 10 * time.Second
	hubPongWait     = 60 * time.Second
	hubPingPeriod   = (hubPongWait * 9) / 10
	hubSendBuffer   = 32
)

// Event is a message pushed to websocket subscribers.
type Event struct {
	Type  string    `json:"type"`
	JobID string    `json:"job_id"`
	Data  any       `json:"data,omitempty"`
	Time  time.Time `json:"time"`
}

// JobStartedData describes an admitted job.
type JobStartedData struct {
	Threads       uint64 `json:"threads"`
	CutoffSeconds uint64 `json:"cutoff_time"`
	MinDifficulty uint32 `json:"min_difficulty"`
	StartNonce    uint64 `json:"start_nonce"`
	EndNonce      uint64 `json:"end_nonce"`
}

// JobFinishedData describes a finished job.
type JobFinishedData struct {
	BestNonce      uint64 `json:"best_nonce"`
	BestDifficulty uint32 `json:"best_difficulty"`
	BestHash       string `json:"best_hash"`
	TotalHashes    uint64 `json:"total_hashes"`
	ElapsedMS      int64  `json:"elapsed_ms"`
	Preempted      bool   `json:"preempted"`
	Outcome        string `json:"outcome"`
}

// ProgressHub fans job events out to websocket clients. It implements
// mining.ProgressReporter and mining.JobObserver. Slow clients drop events
// rather than stall workers.
type ProgressHub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	interval time.Duration

	mu      sync.RWMutex
	clients map[*hubClient]struct{}

	lastProgress atomic.Int64
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

// NewProgressHub creates a hub. Progress events are forwarded at most once
// per interval. An empty allowOrigins list accepts same-host and non-browser
// clients only.
func NewProgressHub(logger *zap.Logger, interval time.Duration, allowOrigins []string) *ProgressHub {
	return &ProgressHub{
		logger:   logger,
		interval: interval,
		clients:  make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return len(allowed) == 0 && origin == "http://"+r.Host
	}
}

// ServeHTTP upgrades the connection and registers the client.
func (h *ProgressHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, hubSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("WebSocket client connected", zap.String("remote", r.RemoteAddr))

	go h.writePump(c)
	go h.readPump(c)
}

// Clients returns the number of connected clients.
func (h *ProgressHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Report implements mining.ProgressReporter.
func (h *ProgressHub) Report(p mining.Progress) {
	now := time.Now().UnixNano()
	last := h.lastProgress.Load()
	if now-last < int64(h.interval) || !h.lastProgress.CompareAndSwap(last, now) {
		return
	}
	h.broadcast(Event{Type: "progress", JobID: p.JobID, Data: p, Time: time.Now()})
}

// JobStarted implements mining.JobObserver.
func (h *ProgressHub) JobStarted(jobID string, req mining.JobRequest) {
	h.broadcast(Event{
		Type:  "job_started",
		JobID: jobID,
		Data: JobStartedData{
			Threads:       req.Threads,
			CutoffSeconds: uint64(req.Cutoff / time.Second),
			MinDifficulty: req.MinDifficulty,
			StartNonce:    req.StartNonce,
			EndNonce:      req.EndNonce,
		},
		Time: time.Now(),
	})
}

// JobFinished implements mining.JobObserver.
func (h *ProgressHub) JobFinished(result mining.JobResult) {
	h.broadcast(Event{
		Type:  "job_finished",
		JobID: result.JobID,
		Data: JobFinishedData{
			BestNonce:      result.Nonce,
			BestDifficulty: result.Difficulty,
			BestHash:       result.Solution.HashString(),
			TotalHashes:    result.TotalHashes,
			ElapsedMS:      result.Elapsed.Milliseconds(),
			Preempted:      result.Preempted,
			Outcome:        result.JobOutcome(),
		},
		Time: time.Now(),
	})
}

// Close disconnects every client.
func (h *ProgressHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

func (h *ProgressHub) broadcast(e Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("Dropping event for slow client", zap.String("type", e.Type))
		}
	}
}

func (h *ProgressHub) remove(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// readPump discards client messages and detects disconnects.
func (h *ProgressHub) readPump(c *hubClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *ProgressHub) writePump(c *hubClient) {
	ticker := time.NewTicker(hubPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
