package events

import (
	"time"

	"github.com/cameroncuttingedge/battleship/game"
)

type Type string

// Server to player.
const (
	SessionState   Type = "session_state"
	GameHistory    Type = "game_history"
	PlayerJoined   Type = "player_joined"
	BoardSubmitted Type = "board_submitted"
	GameStarted    Type = "game_started"
	ShotFired      Type = "shot_fired"
	ShipSunk       Type = "ship_sunk"
	TurnTimeout    Type = "turn_timeout"
	GameOver       Type = "game_over"
	ContractError  Type = "contract_error"
	Pong           Type = "pong"
	Error          Type = "error"
)

// Both directions.
const (
	Chat             Type = "chat"
	Ping             Type = "ping"
	RequestGameState Type = "request_game_state"
)

// Message is the envelope written to every live connection.
type Message struct {
	Type      Type        `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func New(t Type, data interface{}, now time.Time) Message {
	return Message{Type: t, Data: data, Timestamp: now}
}

// Inbound is a message read from a player's connection.
type Inbound struct {
	Type Type   `json:"type"`
	Text string `json:"text,omitempty"`
}

type PlayerJoinedData struct {
	PlayerID string   `json:"playerId"`
	Players  []string `json:"players"`
	Status   string   `json:"status"`
}

type BoardSubmittedData struct {
	PlayerID    string `json:"playerId"`
	BoardsReady int    `json:"boardsReady"`
	Status      string `json:"status"`
}

type GameStartedData struct {
	Players        []string  `json:"players"`
	CurrentTurn    string    `json:"currentTurn"`
	MatchStartedAt time.Time `json:"matchStartedAt"`
	TurnTimeoutMs  int64     `json:"turnTimeoutMs"`
	MatchTimeoutMs int64     `json:"matchTimeoutMs"`
}

type ShotFiredData struct {
	PlayerID    string    `json:"playerId"`
	X           int       `json:"x"`
	Y           int       `json:"y"`
	Hit         bool      `json:"hit"`
	CurrentTurn string    `json:"currentTurn"`
	Timestamp   time.Time `json:"timestamp"`
}

type ShipSunkData struct {
	PlayerID string        `json:"playerId"`
	Owner    string        `json:"owner"`
	Ship     game.SunkShip `json:"ship"`
	Sunk     int           `json:"sunk"`
}

type TurnTimeoutData struct {
	TimedOut    string `json:"timedOut"`
	CurrentTurn string `json:"currentTurn"`
}

type ChatData struct {
	From string `json:"from"`
	Text string `json:"text"`
}

type ContractErrorData struct {
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
