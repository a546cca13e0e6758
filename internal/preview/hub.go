package preview

import (
	"sync"

	"github.com/gorilla/websocket"

	"inspection/internal/camera"
	"inspection/internal/logger"
)

// Hub fans live preview frames out to websocket viewers. Frames arrive as
// encoded JPEG and are sent as binary messages; a slow or dead viewer is
// dropped instead of stalling the preview loop.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func NewHub(logger *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 8),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer disconnected. Total: %d", total)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.BinaryMessage, message); err != nil {
					h.logger.Error("Error sending frame: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *Hub) Register(client *websocket.Conn) {
	h.register <- client
}

func (h *Hub) Unregister(client *websocket.Conn) {
	h.unregister <- client
}

// Publish implements camera.FrameSink. When the broadcast queue is full the
// frame is dropped; the preview loop never blocks on viewers.
func (h *Hub) Publish(frame camera.Frame) {
	select {
	case h.broadcast <- frame.JPEG:
	default:
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Stop closes every viewer connection and ends Run.
func (h *Hub) Stop() {
	close(h.done)
}
