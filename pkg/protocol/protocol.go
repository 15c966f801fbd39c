// Package protocol defines the JSON frame contract spoken over client
// connections. Every frame is {"type": "...", "payload": {...}}.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound frame types consumed by the relay.
const (
	TypeGetFriends    = "get_friends"
	TypeAddFriend     = "add_friend"
	TypeSendMessage   = "send_message"
	TypeRequestReveal = "request_reveal"
	TypePing          = "ping"
)

// Outbound frame types produced by the relay.
const (
	TypeUserInfo         = "user_info"
	TypeFriendsUpdate    = "friends_update"
	TypeMessage          = "message"
	TypeMessageSent      = "message_sent"
	TypeOneTimeStub      = "one_time_stub"
	TypeOneTimeReveal    = "one_time_reveal"
	TypeOneTimeSent      = "one_time_sent"
	TypeOneTimeDestroyed = "one_time_destroyed"
	TypePong             = "pong"
	TypeError            = "error"
)

// Frame is the wire envelope for both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame marshals payload into a frame envelope.
func NewFrame(frameType string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Type: frameType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", frameType, err)
	}
	return Frame{Type: frameType, Payload: raw}, nil
}

// MustFrame is NewFrame for payload types that cannot fail to marshal.
func MustFrame(frameType string, payload any) Frame {
	f, err := NewFrame(frameType, payload)
	if err != nil {
		panic(err)
	}
	return f
}

// AddFriend asks to link the caller with another user, addressed by id or name.
type AddFriend struct {
	FriendID   string `json:"friendId,omitempty"`
	FriendName string `json:"friendName,omitempty"`
}

// SendMessage carries an outgoing chat message.
type SendMessage struct {
	To      string `json:"to"`
	Content string `json:"content"`
	OneTime bool   `json:"oneTime,omitempty"`
	TTLSec  int    `json:"ttlSec,omitempty"`
}

// RequestReveal asks for a one-time message's content.
type RequestReveal struct {
	MessageID string `json:"messageId"`
}

// UserInfo confirms the identity bound to a connection.
type UserInfo struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// FriendEntry is one row of a friends_update.
type FriendEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// FriendsUpdate carries the caller's current friend list.
type FriendsUpdate struct {
	Friends []FriendEntry `json:"friends"`
}

// Message is a delivered chat message. Timestamp is Unix milliseconds.
type Message struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// MessageSent acknowledges a routed message to its sender.
type MessageSent struct {
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// OneTimeStub announces that a one-time message exists, without its content.
type OneTimeStub struct {
	MessageID string `json:"messageId"`
	From      string `json:"from"`
}

// OneTimeReveal discloses a one-time message and starts its countdown.
type OneTimeReveal struct {
	MessageID string `json:"messageId"`
	From      string `json:"from"`
	Content   string `json:"content"`
	TTLSec    int    `json:"ttlSec"`
}

// OneTimeSent acknowledges a one-time send to its sender.
type OneTimeSent struct {
	MessageID string `json:"messageId"`
	To        string `json:"to"`
}

// OneTimeDestroyed notifies both parties that a one-time message is gone.
type OneTimeDestroyed struct {
	MessageID string `json:"messageId"`
	Reason    string `json:"reason"`
}

// DestroyReasonTimeout is the only destruction reason currently produced.
// The field exists so future causes do not need a protocol change.
const DestroyReasonTimeout = "timeout"

// Error reports a non-fatal (or, before closing, fatal) problem to a client.
type Error struct {
	Message string `json:"message"`
}
