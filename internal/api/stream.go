package api

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"swapfeed/internal/feed"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	// streamBuffer is how many published states may queue for one client before it is dropped.
	streamBuffer = 32
)

// streamFeed pushes the current feed state and then every published state to a websocket
// client. Clients that fall behind are disconnected rather than skipped.
func (s *Server) streamFeed(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(s.base)
	defer cancel()

	send := make(chan feed.State, streamBuffer)
	var overflow atomic.Bool
	unsubscribe := s.feed.Subscribe(func(st feed.State) {
		select {
		case send <- st:
		default:
			overflow.Store(true)
			cancel()
		}
	})
	defer unsubscribe()

	go readPump(conn, cancel)

	var last uint64
	write := func(st feed.State) error {
		if st.Version != 0 && st.Version <= last {
			return nil
		}
		last = st.Version
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(s.feedResponse(st))
	}

	if err := write(s.feed.State()); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			code, reason := websocket.CloseNormalClosure, ""
			if overflow.Load() {
				code, reason = websocket.CloseTryAgainLater, "client too slow"
				s.log.Warn("dropping slow feed stream client")
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
			return
		case st := <-send:
			if err := write(st); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and cancels once the connection is gone.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
