package relay

import (
	"errors"
	"sync"

	"github.com/Yuzoo0703/Trae-chat-room/internal/directory"
)

// FriendGraph caches the undirected friend relation for session-time lookups.
// The directory store stays authoritative: links persist through it before the
// in-memory mirror is touched. Live-connection status is deliberately not part
// of this view; callers merge with the presence registry when they need it.
type FriendGraph struct {
	store directory.Store
	mu    sync.RWMutex
	links map[string]map[string]struct{}
}

// NewFriendGraph builds an empty graph backed by store.
func NewFriendGraph(store directory.Store) *FriendGraph {
	return &FriendGraph{
		store: store,
		links: make(map[string]map[string]struct{}),
	}
}

// AddLink links a and b symmetrically. Idempotent. Persists through the
// directory store before acknowledging; the cache is only updated on success.
func (g *FriendGraph) AddLink(a, b string) error {
	if err := g.store.AddFriendLink(a, b); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.link(a, b)
	g.link(b, a)
	return nil
}

// FriendsOf returns the friend id set of userID, loading it from the directory
// store on first access.
func (g *FriendGraph) FriendsOf(userID string) ([]string, error) {
	g.mu.RLock()
	set, ok := g.links[userID]
	g.mu.RUnlock()

	if !ok {
		ids, err := g.store.Friends(userID)
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		// Merge rather than overwrite: an AddLink may have landed in between.
		for _, id := range ids {
			g.link(userID, id)
		}
		set = g.links[userID]
		out := keys(set)
		g.mu.Unlock()
		return out, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	return keys(set), nil
}

// Forget drops userID and every edge pointing at it, for user deletion.
func (g *FriendGraph) Forget(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.links, userID)
	for _, set := range g.links {
		delete(set, userID)
	}
}

// Clear empties the cache without touching the directory store.
func (g *FriendGraph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.links = make(map[string]map[string]struct{})
}

// Search finds users by case-insensitive username substring, for friend
// discovery. Delegates to the directory store.
func (g *FriendGraph) Search(usernameSubstring string) ([]directory.Summary, error) {
	return g.store.Search(usernameSubstring)
}

func (g *FriendGraph) link(from, to string) {
	set, ok := g.links[from]
	if !ok {
		set = make(map[string]struct{})
		g.links[from] = set
	}
	set[to] = struct{}{}
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// IsUnknownUser reports whether err is the store's user-not-found condition.
func IsUnknownUser(err error) bool {
	return errors.Is(err, directory.ErrUserNotFound)
}
