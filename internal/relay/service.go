// Package relay implements the message delivery engine: live-vs-durable
// routing, presence-driven fan-out and the one-time message lifecycle.
package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Yuzoo0703/Trae-chat-room/internal/directory"
	"github.com/Yuzoo0703/Trae-chat-room/internal/presence"
	"github.com/Yuzoo0703/Trae-chat-room/pkg/protocol"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type presenceConn = presence.Conn

// Delivery path labels for metrics.
const (
	pathLive   = "live"
	pathStored = "stored"
)

// Options configures observability and engine defaults.
type Options struct {
	Metrics           *Metrics
	DefaultTTLSeconds int
	Now               func() time.Time
}

// Service routes messages between connected and offline users and owns the
// one-time message lifecycle. All state mutation is serialized through one
// mutex; timer firings and connection events re-enter through it, so the
// in-memory maps never see concurrent writers.
type Service struct {
	log      *zap.Logger
	store    directory.Store
	presence *presence.Registry
	friends  *FriendGraph
	metrics  *Metrics

	mu   sync.Mutex
	live map[string]*oneTimeRecord

	defaultTTL int
	nowFn      func() time.Time
}

// NewService wires the delivery engine's dependencies.
func NewService(log *zap.Logger, store directory.Store, opts Options) *Service {
	s := &Service{
		log:        log,
		store:      store,
		presence:   presence.NewRegistry(),
		friends:    NewFriendGraph(store),
		metrics:    opts.Metrics,
		live:       make(map[string]*oneTimeRecord),
		defaultTTL: opts.DefaultTTLSeconds,
		nowFn:      opts.Now,
	}
	if s.defaultTTL <= 0 {
		s.defaultTTL = 30
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	return s
}

// RegisterMetrics attaches a collector set registered on reg. Called once at
// server start, before any traffic.
func (s *Service) RegisterMetrics(reg prometheus.Registerer) {
	if s.metrics != nil {
		return
	}
	s.metrics = NewMetrics(reg)
}

// Presence exposes the registry for transports and tests.
func (s *Service) Presence() *presence.Registry {
	return s.presence
}

// Friends exposes the friend graph for discovery endpoints.
func (s *Service) Friends() *FriendGraph {
	return s.friends
}

// ResolveIdentity maps connection credentials (user id, or username as a
// fallback) to a directory record. Connections that cannot be resolved must be
// rejected with one error frame before closing.
func (s *Service) ResolveIdentity(userID, username string) (directory.User, *Error) {
	if userID != "" {
		if user, err := s.store.GetUser(userID); err == nil {
			return user, nil
		}
	}
	if username != "" {
		if user, err := s.store.FindByUsername(username); err == nil {
			return user, nil
		}
	}
	return directory.User{}, errNotConnected("not logged in or user unknown")
}

// Connect binds conn to user, confirms the identity, then drains the durable
// inbox in original order and delivers any owed one-time stubs. Returns the
// displaced connection when the user was already connected; closing it is the
// caller's job.
func (s *Service) Connect(user directory.User, conn presenceConn) (presenceConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	displaced, had := s.presence.Register(user.ID, conn)
	if had {
		// Register already unbound the old connection, so its Disconnect will
		// be a no-op; release its gauge slot here.
		s.metrics.decConnection()
	}
	s.metrics.incConnection()

	s.push(conn, protocol.MustFrame(protocol.TypeUserInfo, protocol.UserInfo{
		UserID:   user.ID,
		Username: user.Username,
	}))

	queued, err := s.store.DrainInbox(user.ID)
	if err != nil {
		s.log.Error("drain inbox", zap.Error(err), zap.String("user_id", user.ID))
	}
	for _, m := range queued {
		s.push(conn, protocol.MustFrame(protocol.TypeMessage, protocol.Message{
			From:      m.From,
			To:        user.ID,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		}))
	}

	s.deliverPendingStubs(user.ID, conn)

	s.log.Info("user connected", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return displaced, had
}

// Disconnect drops the presence entry for conn. Idempotent; a connection
// displaced by a newer one unbinds nothing.
func (s *Service) Disconnect(conn presenceConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.presence.Unregister(conn)
	if !ok {
		return
	}
	s.metrics.decConnection()
	s.log.Info("user disconnected", zap.String("user_id", userID))
}

// HandleFrame routes one inbound frame for the connection bound to userID.
// A returned *Error should be sent to the client as an error frame; Fatal
// errors additionally close the connection.
func (s *Service) HandleFrame(userID string, conn presenceConn, frame protocol.Frame) *Error {
	start := s.nowFn()
	rerr := s.routeFrame(userID, conn, frame)
	s.metrics.observeLatency(frame.Type, time.Since(start))
	if rerr != nil {
		s.metrics.recordError(rerr.Code)
	}
	return rerr
}

func (s *Service) routeFrame(userID string, conn presenceConn, frame protocol.Frame) *Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch frame.Type {
	case protocol.TypeGetFriends:
		return s.handleGetFriends(userID, conn)
	case protocol.TypeAddFriend:
		var p protocol.AddFriend
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return errInvalidMessage("malformed add_friend payload")
		}
		return s.handleAddFriend(userID, conn, p)
	case protocol.TypeSendMessage:
		var p protocol.SendMessage
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return errInvalidMessage("malformed send_message payload")
		}
		return s.handleSendMessage(userID, conn, p)
	case protocol.TypeRequestReveal:
		var p protocol.RequestReveal
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return errInvalidMessage("malformed request_reveal payload")
		}
		return s.revealOneTime(userID, conn, p.MessageID)
	case protocol.TypePing:
		s.push(conn, protocol.MustFrame(protocol.TypePong, struct{}{}))
		return nil
	default:
		return errInvalidMessage("unsupported frame type")
	}
}

func (s *Service) handleGetFriends(userID string, conn presenceConn) *Error {
	update, rerr := s.friendsUpdate(userID)
	if rerr != nil {
		return rerr
	}
	s.push(conn, update)
	return nil
}

func (s *Service) handleAddFriend(userID string, conn presenceConn, p protocol.AddFriend) *Error {
	targetID := ""
	if p.FriendID != "" {
		if _, err := s.store.GetUser(p.FriendID); err == nil {
			targetID = p.FriendID
		}
	}
	if targetID == "" && p.FriendName != "" {
		if user, err := s.store.FindByUsername(p.FriendName); err == nil {
			targetID = user.ID
		}
	}
	if targetID == "" {
		return errUnknownRecipient("friend not found")
	}

	if err := s.friends.AddLink(userID, targetID); err != nil {
		if IsUnknownUser(err) {
			return errUnknownRecipient("friend not found")
		}
		s.log.Error("persist friend link", zap.Error(err),
			zap.String("user_id", userID), zap.String("friend_id", targetID))
		return errInvalidMessage("friend link could not be saved")
	}

	if update, rerr := s.friendsUpdate(userID); rerr == nil {
		s.push(conn, update)
	}
	if targetConn, online := s.presence.Lookup(targetID); online {
		if update, rerr := s.friendsUpdate(targetID); rerr == nil {
			s.push(targetConn, update)
		}
	}
	return nil
}

func (s *Service) handleSendMessage(userID string, conn presenceConn, p protocol.SendMessage) *Error {
	if p.To == "" || p.Content == "" {
		return errInvalidMessage("message requires a recipient and content")
	}

	if !p.OneTime {
		// One timestamp, shared by the delivered copy and the inbox copy.
		timestamp := s.nowFn().UnixMilli()
		if target, online := s.presence.Lookup(p.To); online {
			s.push(target, protocol.MustFrame(protocol.TypeMessage, protocol.Message{
				From:      userID,
				To:        p.To,
				Content:   p.Content,
				Timestamp: timestamp,
			}))
			s.metrics.recordRouted(pathLive)
		} else {
			err := s.store.AppendInbox(p.To, directory.DurableMessage{
				From:      userID,
				Content:   p.Content,
				Timestamp: timestamp,
			})
			if err != nil {
				if IsUnknownUser(err) {
					return errUnknownRecipient("recipient not found")
				}
				s.log.Error("queue durable message", zap.Error(err), zap.String("to", p.To))
				return errInvalidMessage("message could not be stored")
			}
			s.metrics.recordRouted(pathStored)
		}
		s.push(conn, protocol.MustFrame(protocol.TypeMessageSent, protocol.MessageSent{
			To:        p.To,
			Content:   p.Content,
			Timestamp: timestamp,
		}))
		return nil
	}

	ttl := p.TTLSec
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl < 1 {
		ttl = 1
	}
	messageID, rerr := s.createOneTime(userID, p.To, p.Content, ttl)
	if rerr != nil {
		return rerr
	}
	s.push(conn, protocol.MustFrame(protocol.TypeOneTimeSent, protocol.OneTimeSent{
		MessageID: messageID,
		To:        p.To,
	}))
	return nil
}

// Wipe clears all presence, friend and one-time state and closes every live
// connection. No destruction timers run and no peers are notified.
func (s *Service) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Clear unbinds every connection before its read loop reaches Disconnect,
	// so the gauge must be settled here.
	for _, conn := range s.presence.Snapshot() {
		_ = conn.Close()
		s.metrics.decConnection()
	}
	s.presence.Clear()
	s.friends.Clear()
	s.wipeOneTime()
	s.log.Info("relay state wiped")
}

// DropUser tears down a deleted user's session state: closes their connection
// and removes them from the friend cache. Directory cleanup is the caller's
// concern.
func (s *Service) DropUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conn, online := s.presence.Lookup(userID); online {
		_ = conn.Close()
		s.presence.Unregister(conn)
		s.metrics.decConnection()
	}
	s.friends.Forget(userID)
}

func (s *Service) friendsUpdate(userID string) (protocol.Frame, *Error) {
	ids, err := s.friends.FriendsOf(userID)
	if err != nil {
		if IsUnknownUser(err) {
			return protocol.Frame{}, errUnknownRecipient("user not found")
		}
		s.log.Error("load friends", zap.Error(err), zap.String("user_id", userID))
		return protocol.Frame{}, errInvalidMessage("friend list unavailable")
	}

	entries := make([]protocol.FriendEntry, 0, len(ids))
	for _, id := range ids {
		user, err := s.store.GetUser(id)
		if err != nil {
			continue // deleted since the link was made
		}
		entries = append(entries, protocol.FriendEntry{UserID: id, Username: user.Username})
	}
	return protocol.MustFrame(protocol.TypeFriendsUpdate, protocol.FriendsUpdate{Friends: entries}), nil
}

// push hands a frame to a connection's send buffer. Pushes to a congested or
// dying connection fail; the frame is dropped and the connection torn down by
// its own transport.
func (s *Service) push(conn presenceConn, frame protocol.Frame) {
	if err := conn.Push(frame); err != nil {
		s.log.Warn("push frame failed", zap.String("type", frame.Type), zap.Error(err))
	}
}

func newMessageID() string {
	return uuid.NewString()
}
