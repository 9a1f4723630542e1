package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnus-inc/audioplayers/internal/player"
)

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) player.Event {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := ws.ReadMessage()
	require.NoError(t, err)
	var ev player.Event
	require.NoError(t, json.Unmarshal(payload, &ev))
	return ev
}

func TestEventHubDeliversToSubscriber(t *testing.T) {
	hub := NewEventHub(4, nil)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ws := dialHub(t, srv, "")
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 },
		time.Second, 5*time.Millisecond)

	ms := int64(1500)
	hub.Publish(player.Event{PlayerID: "p1", Type: player.EventPosition, PositionMs: &ms})

	ev := readEvent(t, ws)
	assert.Equal(t, "p1", ev.PlayerID)
	assert.Equal(t, player.EventPosition, ev.Type)
	require.NotNil(t, ev.PositionMs)
	assert.Equal(t, int64(1500), *ev.PositionMs)
}

func TestEventHubFiltersByPlayerID(t *testing.T) {
	hub := NewEventHub(4, nil)
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ws := dialHub(t, srv, "?player_id=wanted")
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 },
		time.Second, 5*time.Millisecond)

	hub.Publish(player.Event{PlayerID: "other", Type: player.EventComplete})
	hub.Publish(player.Event{PlayerID: "wanted", Type: player.EventComplete})

	ev := readEvent(t, ws)
	assert.Equal(t, "wanted", ev.PlayerID)
}

func TestEventHubDropsWhenSubscriberSlow(t *testing.T) {
	hub := NewEventHub(1, nil)

	// A connection whose queue is never drained.
	c := &eventConn{send: make(chan []byte, 1)}
	hub.conns[c] = struct{}{}

	hub.Publish(player.Event{PlayerID: "p1", Type: player.EventComplete})
	hub.Publish(player.Event{PlayerID: "p1", Type: player.EventComplete})
	hub.Publish(player.Event{PlayerID: "p1", Type: player.EventComplete})

	assert.Equal(t, uint64(2), hub.Dropped())
	assert.Len(t, c.send, 1)
}

func TestEventHubCloseRejectsNewConnections(t *testing.T) {
	hub := NewEventHub(4, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)
}
