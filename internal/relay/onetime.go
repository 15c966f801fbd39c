package relay

import (
	"errors"
	"time"

	"github.com/Yuzoo0703/Trae-chat-room/internal/directory"
	"github.com/Yuzoo0703/Trae-chat-room/pkg/protocol"
	"go.uber.org/zap"
)

// Lifecycle event labels for metrics.
const (
	eventCreated   = "created"
	eventStub      = "stub_delivered"
	eventRevealed  = "revealed"
	eventDestroyed = "destroyed"
	eventWiped     = "wiped"
)

// oneTimeRecord is a live one-time message tracked by the engine. The timer
// handle doubles as the cancellation point: removing the record from the live
// table and stopping its timer is the only teardown path.
type oneTimeRecord struct {
	id       string
	from     string
	to       string
	content  string
	ttlSec   int
	revealed bool
	revealAt time.Time
	timer    *time.Timer
}

// split out for testing.
var ttlDuration = func(ttlSec int) time.Duration {
	return time.Duration(ttlSec) * time.Second
}

// createOneTime allocates a one-time message and delivers its stub. With the
// recipient online the record goes straight to the live table and the stub is
// pushed immediately; otherwise it is parked in the recipient's durable list
// with the stub still owed.
//
// Callers hold s.mu.
func (s *Service) createOneTime(from, to, content string, ttlSec int) (string, *Error) {
	messageID := newMessageID()

	if conn, online := s.presence.Lookup(to); online {
		rec := &oneTimeRecord{
			id:      messageID,
			from:    from,
			to:      to,
			content: content,
			ttlSec:  ttlSec,
		}
		s.live[messageID] = rec
		s.metrics.recordOneTime(eventCreated)
		s.push(conn, protocol.MustFrame(protocol.TypeOneTimeStub, protocol.OneTimeStub{
			MessageID: messageID,
			From:      from,
		}))
		s.metrics.recordOneTime(eventStub)
		return messageID, nil
	}

	err := s.store.AppendOneTime(to, directory.OneTimeRecord{
		ID:      messageID,
		From:    from,
		To:      to,
		Content: content,
		TTLSec:  ttlSec,
	})
	if err != nil {
		if IsUnknownUser(err) {
			return "", errUnknownRecipient("recipient not found")
		}
		s.log.Error("park one-time message", zap.Error(err), zap.String("message_id", messageID))
		return "", errInvalidMessage("message could not be stored")
	}
	s.metrics.recordOneTime(eventCreated)
	return messageID, nil
}

// fetchForReveal locates a one-time message for requester, promoting it from
// the requester's durable list into the live table when needed. After a
// promotion the durable copy is gone, so destruction has exactly one target.
//
// Callers hold s.mu.
func (s *Service) fetchForReveal(requester, messageID string) (*oneTimeRecord, *Error) {
	if rec, ok := s.live[messageID]; ok {
		if rec.to != requester {
			return nil, errUnauthorized("not the recipient of this message")
		}
		return rec, nil
	}

	durable, err := s.store.TakeOneTime(requester, messageID)
	if err != nil {
		if errors.Is(err, directory.ErrRecordNotFound) || IsUnknownUser(err) {
			return nil, errUnknownRecipient("message not found")
		}
		s.log.Error("load durable one-time message", zap.Error(err), zap.String("message_id", messageID))
		return nil, errUnknownRecipient("message not found")
	}

	rec := &oneTimeRecord{
		id:      durable.ID,
		from:    durable.From,
		to:      durable.To,
		content: durable.Content,
		ttlSec:  durable.TTLSec,
	}
	s.live[messageID] = rec
	return rec, nil
}

// revealOneTime handles a reveal request from requester. Revealing is
// recipient-only and happens at most once; a second request is a no-op that
// neither resets the timer nor re-pushes the content.
//
// Callers hold s.mu.
func (s *Service) revealOneTime(requester string, conn presenceConn, messageID string) *Error {
	rec, rerr := s.fetchForReveal(requester, messageID)
	if rerr != nil {
		return rerr
	}
	if rec.revealed {
		return nil
	}

	rec.revealed = true
	rec.revealAt = s.nowFn()
	s.push(conn, protocol.MustFrame(protocol.TypeOneTimeReveal, protocol.OneTimeReveal{
		MessageID: rec.id,
		From:      rec.from,
		Content:   rec.content,
		TTLSec:    rec.ttlSec,
	}))
	s.metrics.recordOneTime(eventRevealed)

	rec.timer = time.AfterFunc(ttlDuration(rec.ttlSec), func() {
		s.destroyOneTime(messageID)
	})
	return nil
}

// destroyOneTime runs when a reveal countdown expires. Both parties are
// notified regardless of their connection state; undeliverable notices are
// dropped. A record that is already gone (wiped or double-fired timer) is a
// benign no-op, never an error.
func (s *Service) destroyOneTime(messageID string) {
	s.mu.Lock()
	rec, ok := s.live[messageID]
	if ok {
		delete(s.live, messageID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	s.metrics.recordOneTime(eventDestroyed)
	destroyed := protocol.MustFrame(protocol.TypeOneTimeDestroyed, protocol.OneTimeDestroyed{
		MessageID: messageID,
		Reason:    protocol.DestroyReasonTimeout,
	})
	for _, party := range []string{rec.to, rec.from} {
		if conn, online := s.presence.Lookup(party); online {
			s.push(conn, destroyed)
		}
	}
	s.log.Debug("one-time message destroyed",
		zap.String("message_id", messageID),
		zap.String("reason", protocol.DestroyReasonTimeout))
}

// deliverPendingStubs pushes the stub for every durable one-time record still
// owed to userID. Idempotent per record: already-delivered stubs are skipped.
//
// Callers hold s.mu.
func (s *Service) deliverPendingStubs(userID string, conn presenceConn) {
	pending, err := s.store.UndeliveredStubs(userID)
	if err != nil {
		s.log.Error("list pending stubs", zap.Error(err), zap.String("user_id", userID))
		return
	}
	for _, rec := range pending {
		s.push(conn, protocol.MustFrame(protocol.TypeOneTimeStub, protocol.OneTimeStub{
			MessageID: rec.ID,
			From:      rec.From,
		}))
		if err := s.store.MarkStubDelivered(userID, rec.ID); err != nil {
			s.log.Error("mark stub delivered", zap.Error(err), zap.String("message_id", rec.ID))
		}
		s.metrics.recordOneTime(eventStub)
	}
}

// wipeOneTime clears the live table and cancels every destruction timer
// without notifying peers. Fired timers that lost the race see an empty table
// and no-op.
//
// Callers hold s.mu.
func (s *Service) wipeOneTime() {
	for id, rec := range s.live {
		if rec.timer != nil {
			rec.timer.Stop()
		}
		delete(s.live, id)
		s.metrics.recordOneTime(eventWiped)
	}
}
