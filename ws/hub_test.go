package ws

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/casedesk/models"
)

type fakeValidator map[string]string // token -> user id

func (f fakeValidator) ValidateAccessToken(token string) (*models.TokenClaims, error) {
	id, ok := f[token]
	if !ok {
		return nil, errors.New("bad token")
	}
	return &models.TokenClaims{UserID: id, Username: id}, nil
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	h := NewHandler(hub, fakeValidator{"ta": "alice", "tb": "bob"}, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleConnection))
	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) InboundEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev InboundEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHubRejectsBadToken(t *testing.T) {
	_, srv := startHub(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestHubBroadcastToUsers(t *testing.T) {
	hub, srv := startHub(t)
	a := dial(t, srv, "ta")
	b := dial(t, srv, "tb")

	require.Eventually(t, func() bool { return hub.IsOnline("alice") && hub.IsOnline("bob") }, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastToUsers([]string{"alice", "bob", "carol"}, Event{Op: OpMessageCreate, Data: map[string]string{"id": "m1"}})

	evA := readEvent(t, a)
	evB := readEvent(t, b)
	assert.Equal(t, OpMessageCreate, evA.Op)
	assert.Equal(t, evA.Seq, evB.Seq, "one broadcast, one seq")

	hub.BroadcastToUser("bob", Event{Op: OpReadStateUpdate})
	evB = readEvent(t, b)
	assert.Equal(t, OpReadStateUpdate, evB.Op)
	assert.Greater(t, evB.Seq, evA.Seq)
}

func TestHubHeartbeatAndTyping(t *testing.T) {
	hub, srv := startHub(t)
	typed := make(chan string, 1)
	hub.OnTyping(func(userID, username, chatID string) { typed <- userID + ":" + chatID })

	a := dial(t, srv, "ta")
	require.NoError(t, a.WriteJSON(Event{Op: OpHeartbeat}))
	assert.Equal(t, OpHeartbeatAck, readEvent(t, a).Op)

	require.NoError(t, a.WriteJSON(Event{Op: OpTyping, Data: TypingData{ChatID: "c1"}}))
	select {
	case got := <-typed:
		assert.Equal(t, "alice:c1", got)
	case <-time.After(2 * time.Second):
		t.Fatal("typing callback not called")
	}
}

func TestHubConnectCallbacks(t *testing.T) {
	hub, srv := startHub(t)
	connected := make(chan string, 1)
	gone := make(chan string, 1)
	hub.OnUserFirstConnect(func(id string) { connected <- id })
	hub.OnUserFullyDisconnected(func(id string) { gone <- id })

	a := dial(t, srv, "ta")
	assert.Equal(t, "alice", <-connected)

	a.Close()
	select {
	case id := <-gone:
		assert.Equal(t, "alice", id)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback not called")
	}
	assert.False(t, hub.IsOnline("alice"))
}
