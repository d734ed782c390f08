package monitoring

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	subscriberBufferSize = 64
	writeWait            = 5 * time.Second
)

// subscriber is one websocket connection listening for updates.
type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// hub fans update messages out to every subscriber. A subscriber that cannot
// keep up is dropped.
type hub struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	logger      *zap.Logger
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		subscribers: make(map[string]*subscriber),
		logger:      logger,
	}
}

func (h *hub) add(conn *websocket.Conn) *subscriber {
	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, subscriberBufferSize),
	}

	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()

	h.logger.Debug("update subscriber connected", zap.String("subscriber", sub.id))

	return sub
}

// remove drops sub. Removing a subscriber twice does nothing.
func (h *hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub.id]; !ok {
		return
	}

	delete(h.subscribers, sub.id)
	close(sub.send)

	h.logger.Debug("update subscriber disconnected", zap.String("subscriber", sub.id))
}

func (h *hub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subscribers)
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	var slow []*subscriber
	for _, sub := range h.subscribers {
		select {
		case sub.send <- msg:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.logger.Warn("update subscriber too slow, dropping",
			zap.String("subscriber", sub.id))
		h.remove(sub)
	}
}

func (h *hub) closeAll() {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		h.remove(sub)
	}
}

// writePump sends queued messages until the subscriber is removed, then
// closes the connection.
func (h *hub) writePump(sub *subscriber) {
	defer sub.conn.Close()

	for msg := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))

		err := sub.conn.WriteMessage(websocket.TextMessage, msg)
		if err != nil {
			h.remove(sub)
			return
		}
	}

	_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = sub.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump discards incoming messages and removes the subscriber once the
// peer goes away.
func (h *hub) readPump(sub *subscriber) {
	defer h.remove(sub)

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}
