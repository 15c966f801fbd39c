package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Yuzoo0703/Trae-chat-room/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readFrame blocks for the next frame of wantType, failing on anything else.
func readFrame(t *testing.T, ws *websocket.Conn, wantType string) protocol.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame protocol.Frame
	require.NoError(t, ws.ReadJSON(&frame))
	require.Equal(t, wantType, frame.Type)
	return frame
}

func writeFrame(t *testing.T, ws *websocket.Conn, frameType string, payload any) {
	t.Helper()
	frame, err := protocol.NewFrame(frameType, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(frame))
}

func unmarshalPayload[T any](t *testing.T, frame protocol.Frame) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(frame.Payload, &out))
	return out
}

func TestWebSocketRejectsUnknownIdentity(t *testing.T) {
	s, _ := newTestServer(t, "")
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	ws := dialWS(t, ts, "userId=ghost")
	frame := readFrame(t, ws, protocol.TypeError)
	errPayload := unmarshalPayload[protocol.Error](t, frame)
	assert.NotEmpty(t, errPayload.Message)

	// the server closes after the error frame
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var next protocol.Frame
	assert.Error(t, ws.ReadJSON(&next))
}

func TestWebSocketChat(t *testing.T) {
	s, store := newTestServer(t, "")
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	_, err := store.CreateUser("u1", "alice", "h")
	require.NoError(t, err)
	_, err = store.CreateUser("u2", "bob", "h")
	require.NoError(t, err)

	alice := dialWS(t, ts, "userId=u1")
	info := unmarshalPayload[protocol.UserInfo](t, readFrame(t, alice, protocol.TypeUserInfo))
	assert.Equal(t, "u1", info.UserID)
	assert.Equal(t, "alice", info.Username)

	// identity also resolves by username
	bob := dialWS(t, ts, "username=bob")
	info = unmarshalPayload[protocol.UserInfo](t, readFrame(t, bob, protocol.TypeUserInfo))
	assert.Equal(t, "u2", info.UserID)

	writeFrame(t, alice, protocol.TypeAddFriend, protocol.AddFriend{FriendName: "bob"})
	update := unmarshalPayload[protocol.FriendsUpdate](t, readFrame(t, alice, protocol.TypeFriendsUpdate))
	require.Len(t, update.Friends, 1)
	assert.Equal(t, "bob", update.Friends[0].Username)
	readFrame(t, bob, protocol.TypeFriendsUpdate)

	writeFrame(t, alice, protocol.TypeSendMessage, protocol.SendMessage{To: "u2", Content: "hello bob"})
	msg := unmarshalPayload[protocol.Message](t, readFrame(t, bob, protocol.TypeMessage))
	assert.Equal(t, "u1", msg.From)
	assert.Equal(t, "hello bob", msg.Content)
	ack := unmarshalPayload[protocol.MessageSent](t, readFrame(t, alice, protocol.TypeMessageSent))
	assert.Equal(t, msg.Timestamp, ack.Timestamp)

	writeFrame(t, alice, protocol.TypePing, nil)
	readFrame(t, alice, protocol.TypePong)
}

func TestWebSocketOfflineDelivery(t *testing.T) {
	s, store := newTestServer(t, "")
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	_, err := store.CreateUser("u1", "alice", "h")
	require.NoError(t, err)
	_, err = store.CreateUser("u2", "bob", "h")
	require.NoError(t, err)

	alice := dialWS(t, ts, "userId=u1")
	readFrame(t, alice, protocol.TypeUserInfo)

	writeFrame(t, alice, protocol.TypeSendMessage, protocol.SendMessage{To: "u2", Content: "while you were out"})
	readFrame(t, alice, protocol.TypeMessageSent)

	bob := dialWS(t, ts, "userId=u2")
	readFrame(t, bob, protocol.TypeUserInfo)
	msg := unmarshalPayload[protocol.Message](t, readFrame(t, bob, protocol.TypeMessage))
	assert.Equal(t, "while you were out", msg.Content)
}

func TestWebSocketOneTimeLifecycle(t *testing.T) {
	s, store := newTestServer(t, "")
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	_, err := store.CreateUser("u1", "alice", "h")
	require.NoError(t, err)
	_, err = store.CreateUser("u2", "bob", "h")
	require.NoError(t, err)

	alice := dialWS(t, ts, "userId=u1")
	readFrame(t, alice, protocol.TypeUserInfo)
	bob := dialWS(t, ts, "userId=u2")
	readFrame(t, bob, protocol.TypeUserInfo)

	writeFrame(t, alice, protocol.TypeSendMessage, protocol.SendMessage{
		To: "u2", Content: "this message will self-destruct", OneTime: true, TTLSec: 1,
	})

	stub := unmarshalPayload[protocol.OneTimeStub](t, readFrame(t, bob, protocol.TypeOneTimeStub))
	assert.Equal(t, "u1", stub.From)
	sent := unmarshalPayload[protocol.OneTimeSent](t, readFrame(t, alice, protocol.TypeOneTimeSent))
	assert.Equal(t, stub.MessageID, sent.MessageID)

	writeFrame(t, bob, protocol.TypeRequestReveal, protocol.RequestReveal{MessageID: stub.MessageID})
	reveal := unmarshalPayload[protocol.OneTimeReveal](t, readFrame(t, bob, protocol.TypeOneTimeReveal))
	assert.Equal(t, "this message will self-destruct", reveal.Content)
	assert.Equal(t, 1, reveal.TTLSec)

	destroyed := unmarshalPayload[protocol.OneTimeDestroyed](t, readFrame(t, bob, protocol.TypeOneTimeDestroyed))
	assert.Equal(t, stub.MessageID, destroyed.MessageID)
	assert.Equal(t, protocol.DestroyReasonTimeout, destroyed.Reason)
	destroyed = unmarshalPayload[protocol.OneTimeDestroyed](t, readFrame(t, alice, protocol.TypeOneTimeDestroyed))
	assert.Equal(t, stub.MessageID, destroyed.MessageID)
}

func TestWebSocketInvalidFrameGetsErrorFrame(t *testing.T) {
	s, store := newTestServer(t, "")
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	_, err := store.CreateUser("u1", "alice", "h")
	require.NoError(t, err)

	alice := dialWS(t, ts, "userId=u1")
	readFrame(t, alice, protocol.TypeUserInfo)

	writeFrame(t, alice, "bogus", nil)
	frame := readFrame(t, alice, protocol.TypeError)
	errPayload := unmarshalPayload[protocol.Error](t, frame)
	assert.NotEmpty(t, errPayload.Message)

	// non-fatal: the connection still works
	writeFrame(t, alice, protocol.TypePing, nil)
	readFrame(t, alice, protocol.TypePong)
}
