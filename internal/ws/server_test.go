package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabrelay/internal/protocol"
)

func newTestServer(t *testing.T) (*httptest.Server, *RoomManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := NewRoomManager(nil)
	wsSrv := NewWsServer(context.Background(), registry, 1<<20, 1000)

	engine := gin.New()
	engine.GET("/ws", wsSrv.Handle)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv, registry
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readFramed reads the next binary frame and decodes it with the relay
// codec.
func readFramed(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestHandshake_MissingParamsRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, query := range []string{"", "room=r1", "user=u1"} {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err, "query=%q", query)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}

func TestEndToEnd_CollaborationScenario(t *testing.T) {
	srv, registry := newTestServer(t)

	// A joins: empty snapshot, empty roster.
	connA := dial(t, srv, "room=r1&user=A&name=Alice")
	step2 := readFramed(t, connA)
	require.Equal(t, protocol.TypeSyncStep2, step2.Type)
	assert.Empty(t, step2.Payload)

	info := readFramed(t, connA)
	require.Equal(t, protocol.TypeRoomInfo, info.Type)
	var infoA RoomInfoBody
	require.NoError(t, json.Unmarshal(info.Payload, &infoA))
	assert.Empty(t, infoA.Users)
	assert.NotEmpty(t, infoA.AssignedColor)

	// B joins: roster lists A; A hears room-joined.
	connB := dial(t, srv, "room=r1&user=B&name=Bob")
	readFramed(t, connB) // B's snapshot
	var infoB RoomInfoBody
	require.NoError(t, json.Unmarshal(readFramed(t, connB).Payload, &infoB))
	require.Len(t, infoB.Users, 1)
	assert.Equal(t, "A", infoB.Users[0].ID)

	joined := readFramed(t, connA)
	require.Equal(t, protocol.TypeRoomJoined, joined.Type)
	var joinedBody RoomJoinedBody
	require.NoError(t, json.Unmarshal(joined.Payload, &joinedBody))
	assert.Equal(t, "B", joinedBody.User.ID)
	assert.Equal(t, "Bob", joinedBody.User.DisplayName)

	// A sends an update; B receives it, the document holds it.
	sendEnvelope(t, connA, Envelope{
		Type:    protocol.TypeSyncUpdate,
		RoomID:  "r1",
		Payload: json.RawMessage(`"` + base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) + `"`),
	})

	update := readFramed(t, connB)
	require.Equal(t, protocol.TypeSyncUpdate, update.Type)
	assert.Equal(t, "A", update.SenderID)
	assert.Equal(t, []byte{1, 2, 3}, update.Payload)

	room, ok := registry.Get("r1")
	require.True(t, ok)
	require.Eventually(t, func() bool { return room.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	// B disconnects: A hears room-left, the room survives with one member.
	require.NoError(t, connB.Close())
	left := readFramed(t, connA)
	require.Equal(t, protocol.TypeRoomLeft, left.Type)
	var leftBody RoomLeftBody
	require.NoError(t, json.Unmarshal(left.Payload, &leftBody))
	assert.Equal(t, "B", leftBody.UserID)
	require.Eventually(t, func() bool { return room.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	// A disconnects: the empty room is destroyed immediately.
	require.NoError(t, connA.Close())
	require.Eventually(t, func() bool { return registry.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestEndToEnd_ReconnectSameUserKeepsRoomAlive(t *testing.T) {
	srv, registry := newTestServer(t)

	connOld := dial(t, srv, "room=r1&user=A")
	readFramed(t, connOld)
	readFramed(t, connOld)

	// Reconnect with the same id: the old connection gets closed and its
	// reader unwinds while the new session is live.
	connNew := dial(t, srv, "room=r1&user=A")
	readFramed(t, connNew)
	readFramed(t, connNew)

	// Give the replaced reader time to run its cleanup path.
	time.Sleep(300 * time.Millisecond)

	room, ok := registry.Get("r1")
	require.True(t, ok, "room must survive the stale reader's cleanup")
	assert.Equal(t, 1, room.ClientCount())

	// The reconnected session still works end to end.
	connB := dial(t, srv, "room=r1&user=B")
	readFramed(t, connB)
	readFramed(t, connB)

	joined := readFramed(t, connNew)
	require.Equal(t, protocol.TypeRoomJoined, joined.Type)
	var joinedBody RoomJoinedBody
	require.NoError(t, json.Unmarshal(joined.Payload, &joinedBody))
	assert.Equal(t, "B", joinedBody.User.ID)
}

func TestEndToEnd_LateJoinerGetsSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)

	connA := dial(t, srv, "room=doc&user=A")
	readFramed(t, connA)
	readFramed(t, connA)

	sendEnvelope(t, connA, Envelope{
		Type:    protocol.TypeSyncUpdate,
		Payload: json.RawMessage(`"` + base64.StdEncoding.EncodeToString([]byte{9}) + `"`),
	})

	// Give the update time to land before the second join.
	time.Sleep(50 * time.Millisecond)

	connB := dial(t, srv, "room=doc&user=B")
	step2 := readFramed(t, connB)
	require.Equal(t, protocol.TypeSyncStep2, step2.Type)
	assert.NotEmpty(t, step2.Payload, "snapshot already contains A's update")
}

func TestEndToEnd_SignalingRelay(t *testing.T) {
	srv, _ := newTestServer(t)

	connA := dial(t, srv, "room=rtc&user=A&mode=rtc")
	readFramed(t, connA)
	readFramed(t, connA)

	connB := dial(t, srv, "room=rtc&user=B&mode=rtc")
	readFramed(t, connB) // snapshot
	readFramed(t, connB) // room-info
	peer := readFramed(t, connB)
	require.Equal(t, protocol.TypePeerJoined, peer.Type)
	var peerBody PeerJoinedBody
	require.NoError(t, json.Unmarshal(peer.Payload, &peerBody))
	assert.Equal(t, "A", peerBody.UserID)

	readFramed(t, connA) // A's room-joined for B

	// B sends an offer addressed to A; A receives the exact frame.
	raw := []byte(`{"type":"rtc-offer","roomId":"rtc","targetId":"A","payload":{"sdp":"v=0..."}}`)
	require.NoError(t, connB.WriteMessage(websocket.TextMessage, raw))

	require.NoError(t, connA.SetReadDeadline(time.Now().Add(2*time.Second)))
	messageType, data, err := connA.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	assert.Equal(t, raw, data)
}

func TestEndToEnd_AwarenessFanout(t *testing.T) {
	srv, _ := newTestServer(t)

	connA := dial(t, srv, "room=aw&user=A")
	readFramed(t, connA)
	readFramed(t, connA)
	connB := dial(t, srv, "room=aw&user=B")
	readFramed(t, connB)
	readFramed(t, connB)
	readFramed(t, connA) // room-joined for B

	raw := []byte(`{"type":"awareness-update","payload":"` + base64.StdEncoding.EncodeToString([]byte{5, 5}) + `"}`)
	require.NoError(t, connA.WriteMessage(websocket.TextMessage, raw))

	require.NoError(t, connB.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := connB.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, raw, data, "awareness frames are relayed verbatim")
}

func TestEndToEnd_MalformedFramesDontKillConnection(t *testing.T) {
	srv, _ := newTestServer(t)

	connA := dial(t, srv, "room=m&user=A")
	readFramed(t, connA)
	readFramed(t, connA)

	// Garbage, a typeless frame, an unknown type, and a server-emitted
	// type arriving inbound: all dropped.
	require.NoError(t, connA.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, connA.WriteMessage(websocket.TextMessage, []byte(`{"payload":"x"}`)))
	require.NoError(t, connA.WriteMessage(websocket.TextMessage, []byte(`{"type":"shiny-new-thing"}`)))
	require.NoError(t, connA.WriteMessage(websocket.TextMessage, []byte(`{"type":"room-joined","payload":{}}`)))

	// The connection still works: a second client's join reaches A.
	connB := dial(t, srv, "room=m&user=B")
	readFramed(t, connB)
	readFramed(t, connB)

	joined := readFramed(t, connA)
	assert.Equal(t, protocol.TypeRoomJoined, joined.Type)
}

func TestDecodeBinaryPayload(t *testing.T) {
	got, ok := decodeBinaryPayload(json.RawMessage(`"AQID"`))
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, got)

	got, ok = decodeBinaryPayload(nil)
	require.True(t, ok)
	assert.Empty(t, got)

	_, ok = decodeBinaryPayload(json.RawMessage(`{"not":"a string"}`))
	assert.False(t, ok)

	_, ok = decodeBinaryPayload(json.RawMessage(`"%%%not-base64%%%"`))
	assert.False(t, ok)
}
