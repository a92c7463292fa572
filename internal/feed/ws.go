package feed

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsPingInterval is how often ping frames are sent to subscribers.
	wsPingInterval = 30 * time.Second
	// wsPongWait is the maximum time to wait for a pong from the peer.
	wsPongWait = 60 * time.Second
	// wsWriteWait bounds a single event write.
	wsWriteWait = 10 * time.Second
)

// Streamer upgrades HTTP requests to WebSocket connections that receive a
// group's events as JSON text frames.
type Streamer struct {
	broker   *Broker
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamer creates a streamer that accepts the given browser origins.
func NewStreamer(b *Broker, allowedOrigins []string, logger *slog.Logger) *Streamer {
	return &Streamer{
		broker:   b,
		upgrader: makeUpgrader(allowedOrigins),
		logger:   logger.With("component", "feed"),
	}
}

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// Stream upgrades the request and blocks, forwarding groupID's events until
// the peer disconnects. Callers authenticate and authorize beforehand.
func (s *Streamer) Stream(w http.ResponseWriter, r *http.Request, groupID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("feed websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sub := s.broker.Subscribe(groupID)
	defer sub.Close()

	var mu sync.Mutex
	stopPing := startWSKeepalive(conn, &mu)
	defer stopPing()

	// Subscribers only listen. Reading drives pong handling and notices close.
	conn.SetReadLimit(512)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("feed subscriber connected", "group_id", groupID)
	for {
		select {
		case <-closed:
			s.logger.Debug("feed subscriber disconnected", "group_id", groupID)
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := conn.WriteJSON(e)
			mu.Unlock()
			if err != nil {
				s.logger.Debug("feed write failed", "group_id", groupID, "error", err)
				return
			}
		}
	}
}

// startWSKeepalive sets a read deadline, installs a pong handler and starts a
// goroutine that sends periodic pings. The mutex must guard every write to
// conn. The returned function stops the pings.
func startWSKeepalive(conn *websocket.Conn, mu *sync.Mutex) (cancel func()) {
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
				mu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }
}
