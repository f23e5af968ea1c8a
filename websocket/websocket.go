package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cameroncuttingedge/battleship/events"
	"github.com/cameroncuttingedge/battleship/session"
	"github.com/cameroncuttingedge/battleship/utils"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	sendBuffer = 32
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Allow connections from any origin
}

// Client is one player's socket. Writes go through a buffered channel so the
// session actor never blocks on a slow peer.
type Client struct {
	id       string
	matchID  string
	playerID string
	conn     *websocket.Conn
	send     chan events.Message
	done     chan struct{}
	once     sync.Once
}

func newClient(matchID, playerID string, conn *websocket.Conn) *Client {
	return &Client{
		id:       utils.ShortID(),
		matchID:  matchID,
		playerID: playerID,
		conn:     conn,
		send:     make(chan events.Message, sendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues msg and reports false if the buffer is full or the client is closed.
func (c *Client) Send(msg events.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) writePump() {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Error().Err(err).Str("matchID", c.matchID).Str("playerID", c.playerID).Msg("Error writing to websocket")
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// GameWebSocketHandler upgrades a participant's request and attaches the
// socket to the match session.
func GameWebSocketHandler(manager *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID, ok := mux.Vars(r)["matchID"]
		if !ok {
			http.Error(w, "Match ID is required", http.StatusBadRequest)
			return
		}
		playerID := r.URL.Query().Get("playerId")
		if playerID == "" {
			http.Error(w, "Player ID is required", http.StatusBadRequest)
			return
		}

		s, err := manager.Get(r.Context(), matchID)
		if err != nil {
			http.Error(w, "Match not found", http.StatusNotFound)
			return
		}
		snap, err := s.Status(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !isParticipant(snap.Players, playerID) {
			log.Warn().Str("matchID", matchID).Str("playerID", playerID).Msg("Refusing websocket for non-participant")
			http.Error(w, "Not a participant", http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Str("matchID", matchID).Msg("WebSocket upgrade error")
			return
		}

		client := newClient(matchID, playerID, conn)
		defer client.Close()
		go client.writePump()

		if err := s.Connect(context.Background(), playerID, client); err != nil {
			log.Error().Err(err).Str("matchID", matchID).Str("playerID", playerID).Msg("Failed to register websocket")
			return
		}
		defer s.Disconnect(playerID, client)
		log.Info().Str("matchID", matchID).Str("playerID", playerID).Str("connID", client.ID()).Msg("WebSocket connection established and registered")

		for {
			var in events.Inbound
			if err := conn.ReadJSON(&in); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("matchID", matchID).Str("playerID", playerID).Msg("WebSocket closed unexpectedly")
				}
				return
			}
			if err := s.HandleMessage(context.Background(), playerID, in); err != nil {
				log.Warn().Err(err).Str("matchID", matchID).Str("playerID", playerID).Msg("Session rejected websocket message")
				return
			}
		}
	}
}

func isParticipant(players []string, playerID string) bool {
	for _, p := range players {
		if p == playerID {
			return true
		}
	}
	return false
}
