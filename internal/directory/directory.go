// Package directory owns the durable user records: identity, friend sets and
// the per-user offline queues drained on connect.
package directory

import "errors"

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUsernameTaken  = errors.New("username already taken")
	ErrInvalidUserID  = errors.New("user id is required")
	ErrRecordNotFound = errors.New("record not found")
)

// User is one durable directory record.
type User struct {
	ID           string           `json:"-"`
	Username     string           `json:"username"`
	PasswordHash string           `json:"passwordHash,omitempty"`
	Friends      []string         `json:"friends,omitempty"`
	Inbox        []DurableMessage `json:"inbox,omitempty"`
	OneTime      []OneTimeRecord  `json:"oneTime,omitempty"`
}

// DurableMessage is a plain message queued while its recipient was offline.
// Timestamp is Unix milliseconds, assigned once at routing time.
type DurableMessage struct {
	From      string `json:"from"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// OneTimeRecord is a one-time message parked in the recipient's durable list.
type OneTimeRecord struct {
	ID            string `json:"id"`
	From          string `json:"from"`
	To            string `json:"to"`
	Content       string `json:"content"`
	TTLSec        int    `json:"ttlSec"`
	DeliveredStub bool   `json:"deliveredStub"`
	Revealed      bool   `json:"revealed"`
}

// Summary is the id/username pair exposed by search and listings.
type Summary struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Store is the durable directory contract consumed by the relay. All calls are
// synchronous and best-effort crash consistent; there is no cross-user
// transactional guarantee.
type Store interface {
	CreateUser(id, username, passwordHash string) (User, error)
	GetUser(id string) (User, error)
	FindByUsername(name string) (User, error)
	Search(usernameSubstring string) ([]Summary, error)
	ListUsers() ([]Summary, error)
	DeleteUser(id string) error

	AddFriendLink(a, b string) error
	Friends(id string) ([]string, error)

	AppendInbox(id string, msg DurableMessage) error
	DrainInbox(id string) ([]DurableMessage, error)

	AppendOneTime(id string, rec OneTimeRecord) error
	UndeliveredStubs(id string) ([]OneTimeRecord, error)
	MarkStubDelivered(userID, messageID string) error
	TakeOneTime(userID, messageID string) (OneTimeRecord, error)
	RemoveOneTime(userID, messageID string) error

	Wipe() error
}
