package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// GameEvent is pushed to every websocket client watching a game.
type GameEvent struct {
	Type   string  `json:"type"`
	GameID string  `json:"game_id"`
	Round  int     `json:"round"`
	Phase  Phase   `json:"phase"`
	Turn   string  `json:"turn,omitempty"`
	Winner Faction `json:"winner,omitempty"`
	Data   any     `json:"data,omitempty"`
}

// Event types
const (
	EventGameUpdate = "game_update"
	EventStory      = "story"
	EventStoryChunk = "story_chunk"
	EventGameClosed = "game_closed"
)

// Client represents a websocket connection watching one game
type Client struct {
	conn    *websocket.Conn
	gameID  string
	player  string     // empty for spectators
	writeMu sync.Mutex // Serialize writes to WebSocket (required by gorilla/websocket)
}

type hubMessage struct {
	gameID string
	data   []byte
}

// Hub fans game events out to the websocket clients of each game
type Hub struct {
	clients    map[*websocket.Conn]*Client
	broadcast  chan hubMessage
	register   chan *Client
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan hubMessage, 64),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn, 64),
		done:       make(chan struct{}),
	}
}

// stop signals the hub goroutine to exit and waits for it to finish
func (h *Hub) stop() {
	close(h.done)
	h.wg.Wait()
}

// publish queues ev for the clients of its game. Events are dropped when the
// queue is full rather than blocking the engine.
func (h *Hub) publish(ev GameEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		logError("hub.publish: marshal", err)
		return
	}
	select {
	case h.broadcast <- hubMessage{gameID: ev.GameID, data: data}:
	default:
		log.Printf("WebSocket broadcast queue full, dropping %s for game %s", ev.Type, ev.GameID)
	}
}

// watchers returns how many clients follow gameID.
func (h *Hub) watchers(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.gameID == gameID {
			n++
		}
	}
	return n
}

func (h *Hub) run() {
	h.wg.Add(1)
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected (game %s, player %q). Total: %d", client.gameID, client.player, total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if client, ok := h.clients[conn]; ok {
				DebugLog(client.gameID, "Player %q left", client.player)
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected. Total: %d", total)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn, client := range h.clients {
				if client.gameID != msg.gameID {
					continue
				}
				LogWSMessage("OUT", client.gameID, client.player, string(msg.data))

				// Serialize writes to each connection
				client.writeMu.Lock()
				err := conn.WriteMessage(websocket.TextMessage, msg.data)
				client.writeMu.Unlock()

				if err != nil {
					log.Printf("WebSocket write error: %v", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// handleWebSocket subscribes the connection to /ws?game=<id>&player=<name>.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("game")
	player := r.URL.Query().Get("player")
	if _, err := s.manager.Game(r.Context(), gameID); err != nil {
		writeError(w, err)
		return
	}

	upgrader := websocket.Upgrader{}
	if s.config.Dev {
		upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error for game %s: %v", gameID, err)
		return
	}

	client := &Client{conn: conn, gameID: gameID, player: player}
	s.hub.register <- client

	// Clients only listen; incoming frames are logged and dropped.
	go func() {
		defer func() {
			s.hub.unregister <- conn
		}()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				break
			}
			LogWSMessage("IN", gameID, player, string(message))
		}
	}()
}
