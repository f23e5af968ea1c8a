package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cameroncuttingedge/battleship/events"
	"github.com/cameroncuttingedge/battleship/session"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	Type events.Type     `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	manager := session.NewManager(session.DefaultConfig, session.Deps{})
	t.Cleanup(manager.Shutdown)

	ctx := context.Background()
	s, _, err := manager.Initialize(ctx, "m1", "alice")
	require.NoError(t, err)
	_, err = s.Join(ctx, "bob")
	require.NoError(t, err)

	r := mux.NewRouter()
	r.HandleFunc("/ws/match/{matchID}", GameWebSocketHandler(manager))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, manager
}

func dial(t *testing.T, srv *httptest.Server, matchID, playerID string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/match/" + matchID + "?playerId=" + playerID
	return websocket.DefaultDialer.Dial(url, nil)
}

func readUntil(t *testing.T, conn *websocket.Conn, want events.Type) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg received
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == want {
			return msg
		}
	}
}

func TestConnectReceivesSessionState(t *testing.T) {
	srv, _ := newServer(t)

	conn, _, err := dial(t, srv, "m1", "alice")
	require.NoError(t, err)
	defer conn.Close()

	msg := readUntil(t, conn, events.SessionState)
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(msg.Data, &snap))
	assert.Equal(t, "m1", snap.MatchID)
	assert.Equal(t, []string{"alice", "bob"}, snap.Players)
	assert.Equal(t, []string{"alice"}, snap.ConnectedPlayers)
}

func TestPingPongAndChat(t *testing.T) {
	srv, _ := newServer(t)

	alice, _, err := dial(t, srv, "m1", "alice")
	require.NoError(t, err)
	defer alice.Close()
	readUntil(t, alice, events.SessionState)

	bob, _, err := dial(t, srv, "m1", "bob")
	require.NoError(t, err)
	defer bob.Close()
	readUntil(t, bob, events.SessionState)

	require.NoError(t, alice.WriteJSON(events.Inbound{Type: events.Ping}))
	readUntil(t, alice, events.Pong)

	require.NoError(t, alice.WriteJSON(events.Inbound{Type: events.Chat, Text: "hello"}))
	msg := readUntil(t, bob, events.Chat)
	var chat events.ChatData
	require.NoError(t, json.Unmarshal(msg.Data, &chat))
	assert.Equal(t, events.ChatData{From: "alice", Text: "hello"}, chat)
}

func TestRefusesNonParticipant(t *testing.T) {
	srv, _ := newServer(t)

	_, resp, err := dial(t, srv, "m1", "mallory")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dial(t, srv, "missing", "alice")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = dial(t, srv, "m1", "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClientSendDropsWhenFull(t *testing.T) {
	c := &Client{id: "c1", send: make(chan events.Message, 1), done: make(chan struct{})}

	assert.True(t, c.Send(events.Message{Type: events.Pong}))
	assert.False(t, c.Send(events.Message{Type: events.Pong}))

	close(c.done)
	<-c.send
	assert.False(t, c.Send(events.Message{Type: events.Pong}))
}
