package directory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const currentVersion = 1

// FileStore is a file-backed directory holding every user record in a single
// JSON document, persisted on each mutation. Reads and writes are fast enough
// for a single-node deployment; callers treat them as synchronous.
type FileStore struct {
	path  string
	users map[string]*User
	mu    sync.RWMutex
}

type directoryFile struct {
	Version int              `json:"version"`
	Users   map[string]*User `json:"users"`
}

// NewFileStore loads (or lazily creates) the directory file at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:  path,
		users: make(map[string]*User),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !os.IsExist(err) {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
			if err := s.persist(); err != nil {
				return nil, fmt.Errorf("initialize directory: %w", err)
			}
			return s, nil
		}
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var file directoryFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}
	if file.Version != 0 && file.Version != currentVersion {
		return nil, fmt.Errorf("unsupported directory version %d", file.Version)
	}
	if file.Users != nil {
		s.users = file.Users
	}
	return s, nil
}

// Path returns the backing file path (primarily for logging and tests).
func (s *FileStore) Path() string {
	return s.path
}

// CreateUser inserts a new record. The username must be unclaimed.
func (s *FileStore) CreateUser(id, username, passwordHash string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		return User{}, ErrInvalidUserID
	}
	if _, exists := s.users[id]; exists {
		return User{}, fmt.Errorf("user id %s already exists", id)
	}
	for _, u := range s.users {
		if u.Username == username {
			return User{}, ErrUsernameTaken
		}
	}

	u := &User{Username: username, PasswordHash: passwordHash}
	s.users[id] = u
	if err := s.persist(); err != nil {
		delete(s.users, id)
		return User{}, fmt.Errorf("persist new user: %w", err)
	}
	return cloneUser(id, u), nil
}

// GetUser fetches a record by id.
func (s *FileStore) GetUser(id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return cloneUser(id, u), nil
}

// FindByUsername fetches a record by exact username.
func (s *FileStore) FindByUsername(name string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, u := range s.users {
		if u.Username == name {
			return cloneUser(id, u), nil
		}
	}
	return User{}, ErrUserNotFound
}

// Search returns users whose name contains the query, case-insensitively.
func (s *FileStore) Search(usernameSubstring string) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(usernameSubstring))
	out := make([]Summary, 0)
	for id, u := range s.users {
		if u.Username == "" {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), q) {
			out = append(out, Summary{UserID: id, Username: u.Username})
		}
	}
	sortSummaries(out)
	return out, nil
}

// ListUsers enumerates every record.
func (s *FileStore) ListUsers() ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.users))
	for id, u := range s.users {
		out = append(out, Summary{UserID: id, Username: u.Username})
	}
	sortSummaries(out)
	return out, nil
}

// DeleteUser removes a record and scrubs it from every other user's friend set.
func (s *FileStore) DeleteUser(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(s.users, id)
	for _, u := range s.users {
		u.Friends = removeString(u.Friends, id)
	}
	return s.persist()
}

// AddFriendLink links a and b symmetrically. Repeating the call is a no-op.
// The two records are updated in one persist, but a crash between in-memory
// mutations of a multi-file port could still leave an asymmetric link; that
// matches the documented store contract.
func (s *FileStore) AddFriendLink(a, b string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ua, ok := s.users[a]
	if !ok {
		return ErrUserNotFound
	}
	ub, ok := s.users[b]
	if !ok {
		return ErrUserNotFound
	}

	changed := false
	if !containsString(ua.Friends, b) {
		ua.Friends = append(ua.Friends, b)
		changed = true
	}
	if !containsString(ub.Friends, a) {
		ub.Friends = append(ub.Friends, a)
		changed = true
	}
	if !changed {
		return nil
	}
	return s.persist()
}

// Friends returns the friend id set of a user.
func (s *FileStore) Friends(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return append([]string(nil), u.Friends...), nil
}

// AppendInbox queues a durable message for an offline recipient.
func (s *FileStore) AppendInbox(id string, msg DurableMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Inbox = append(u.Inbox, msg)
	return s.persist()
}

// DrainInbox returns the queued messages in original order and clears the
// queue. Each entry is handed out at most once.
func (s *FileStore) DrainInbox(id string) ([]DurableMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	if len(u.Inbox) == 0 {
		return nil, nil
	}
	drained := u.Inbox
	u.Inbox = nil
	if err := s.persist(); err != nil {
		u.Inbox = drained
		return nil, fmt.Errorf("persist drained inbox: %w", err)
	}
	return drained, nil
}

// AppendOneTime parks a one-time record in the recipient's durable list.
func (s *FileStore) AppendOneTime(id string, rec OneTimeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.OneTime = append(u.OneTime, rec)
	return s.persist()
}

// UndeliveredStubs lists durable one-time records whose stub has not been
// pushed yet, in arrival order.
func (s *FileStore) UndeliveredStubs(id string) ([]OneTimeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := make([]OneTimeRecord, 0)
	for _, rec := range u.OneTime {
		if !rec.DeliveredStub {
			out = append(out, rec)
		}
	}
	return out, nil
}

// MarkStubDelivered flags one durable record as stub-delivered so reconnects
// do not re-push it.
func (s *FileStore) MarkStubDelivered(userID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	for i := range u.OneTime {
		if u.OneTime[i].ID == messageID {
			if u.OneTime[i].DeliveredStub {
				return nil
			}
			u.OneTime[i].DeliveredStub = true
			return s.persist()
		}
	}
	return ErrRecordNotFound
}

// TakeOneTime removes and returns a durable one-time record, so the caller can
// promote it to the live table without leaving a double-destruction path.
func (s *FileStore) TakeOneTime(userID, messageID string) (OneTimeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return OneTimeRecord{}, ErrUserNotFound
	}
	for i, rec := range u.OneTime {
		if rec.ID == messageID {
			u.OneTime = append(u.OneTime[:i], u.OneTime[i+1:]...)
			if err := s.persist(); err != nil {
				return OneTimeRecord{}, fmt.Errorf("persist taken record: %w", err)
			}
			return rec, nil
		}
	}
	return OneTimeRecord{}, ErrRecordNotFound
}

// RemoveOneTime deletes a durable one-time record if present.
func (s *FileStore) RemoveOneTime(userID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	for i, rec := range u.OneTime {
		if rec.ID == messageID {
			u.OneTime = append(u.OneTime[:i], u.OneTime[i+1:]...)
			return s.persist()
		}
	}
	return nil
}

// Wipe clears every record. Out-of-band reset, not a lifecycle transition.
func (s *FileStore) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]*User)
	return s.persist()
}

func (s *FileStore) persist() error {
	serialized, err := json.MarshalIndent(directoryFile{
		Version: currentVersion,
		Users:   s.users,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode directory: %w", err)
	}

	// Write-then-rename keeps a torn write from corrupting the only copy.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, serialized, 0o600); err != nil {
		return fmt.Errorf("write directory: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace directory: %w", err)
	}
	return nil
}

func cloneUser(id string, u *User) User {
	out := *u
	out.ID = id
	out.Friends = append([]string(nil), u.Friends...)
	out.Inbox = append([]DurableMessage(nil), u.Inbox...)
	out.OneTime = append([]OneTimeRecord(nil), u.OneTime...)
	return out
}

func sortSummaries(list []Summary) {
	sort.Slice(list, func(i, j int) bool { return list[i].Username < list[j].Username })
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
