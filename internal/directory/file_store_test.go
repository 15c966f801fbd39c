package directory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "users.json"))
	require.NoError(t, err)
	return store
}

func TestCreateAndGetUser(t *testing.T) {
	store := newTestStore(t)

	created, err := store.CreateUser("u1", "alice", "hash")
	require.NoError(t, err)
	assert.Equal(t, "u1", created.ID)
	assert.Equal(t, "alice", created.Username)

	got, err := store.GetUser("u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "hash", got.PasswordHash)

	_, err = store.GetUser("missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreateUserRejectsTakenUsername(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateUser("u1", "alice", "hash")
	require.NoError(t, err)

	_, err = store.CreateUser("u2", "alice", "hash2")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = store.CreateUser("", "bob", "hash")
	assert.ErrorIs(t, err, ErrInvalidUserID)
}

func TestFindByUsernameAndSearch(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateUser("u1", "Alice", "h")
	require.NoError(t, err)
	_, err = store.CreateUser("u2", "alicia", "h")
	require.NoError(t, err)
	_, err = store.CreateUser("u3", "bob", "h")
	require.NoError(t, err)

	found, err := store.FindByUsername("Alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", found.ID)

	_, err = store.FindByUsername("ALICE")
	assert.ErrorIs(t, err, ErrUserNotFound, "find is exact-match")

	results, err := store.Search("ali")
	require.NoError(t, err)
	require.Len(t, results, 2, "search is case-insensitive substring")

	all, err := store.Search("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAddFriendLinkSymmetricIdempotent(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, "u1", "alice")
	mustCreate(t, store, "u2", "bob")

	require.NoError(t, store.AddFriendLink("u1", "u2"))
	require.NoError(t, store.AddFriendLink("u1", "u2"))
	require.NoError(t, store.AddFriendLink("u2", "u1"))

	f1, err := store.Friends("u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, f1)

	f2, err := store.Friends("u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, f2)

	assert.ErrorIs(t, store.AddFriendLink("u1", "ghost"), ErrUserNotFound)
}

func TestInboxDrainOrderAndAtMostOnce(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, "u1", "alice")

	for i, content := range []string{"first", "second", "third"} {
		require.NoError(t, store.AppendInbox("u1", DurableMessage{
			From: "u2", Content: content, Timestamp: int64(i),
		}))
	}

	drained, err := store.DrainInbox("u1")
	require.NoError(t, err)
	require.Len(t, drained, 3)
	assert.Equal(t, "first", drained[0].Content)
	assert.Equal(t, "second", drained[1].Content)
	assert.Equal(t, "third", drained[2].Content)

	again, err := store.DrainInbox("u1")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestOneTimeRecordLifecycle(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, "u1", "alice")

	rec := OneTimeRecord{ID: "m1", From: "u2", To: "u1", Content: "secret", TTLSec: 5}
	require.NoError(t, store.AppendOneTime("u1", rec))

	pending, err := store.UndeliveredStubs("u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.MarkStubDelivered("u1", "m1"))
	pending, err = store.UndeliveredStubs("u1")
	require.NoError(t, err)
	assert.Empty(t, pending, "delivered stubs are not re-listed")

	// mark twice is a no-op, not an error
	require.NoError(t, store.MarkStubDelivered("u1", "m1"))
	assert.ErrorIs(t, store.MarkStubDelivered("u1", "ghost"), ErrRecordNotFound)

	taken, err := store.TakeOneTime("u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "secret", taken.Content)
	assert.True(t, taken.DeliveredStub)

	_, err = store.TakeOneTime("u1", "m1")
	assert.ErrorIs(t, err, ErrRecordNotFound, "take removes the durable copy")

	require.NoError(t, store.RemoveOneTime("u1", "m1"), "removing an absent record is a no-op")
}

func TestDeleteUserScrubsFriendLinks(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, "u1", "alice")
	mustCreate(t, store, "u2", "bob")
	require.NoError(t, store.AddFriendLink("u1", "u2"))

	require.NoError(t, store.DeleteUser("u2"))

	f1, err := store.Friends("u1")
	require.NoError(t, err)
	assert.Empty(t, f1)

	assert.ErrorIs(t, store.DeleteUser("u2"), ErrUserNotFound)
}

func TestPersistenceAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	mustCreate(t, store, "u1", "alice")
	mustCreate(t, store, "u2", "bob")
	require.NoError(t, store.AddFriendLink("u1", "u2"))
	require.NoError(t, store.AppendInbox("u1", DurableMessage{From: "u2", Content: "hi", Timestamp: 42}))
	require.NoError(t, store.AppendOneTime("u1", OneTimeRecord{ID: "m1", From: "u2", To: "u1", Content: "s", TTLSec: 5}))

	reloaded, err := NewFileStore(path)
	require.NoError(t, err)

	user, err := reloaded.GetUser("u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, []string{"u2"}, user.Friends)
	require.Len(t, user.Inbox, 1)
	assert.Equal(t, "hi", user.Inbox[0].Content)
	require.Len(t, user.OneTime, 1)
	assert.Equal(t, "m1", user.OneTime[0].ID)
}

func TestWipe(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, "u1", "alice")

	require.NoError(t, store.Wipe())

	_, err := store.GetUser("u1")
	assert.ErrorIs(t, err, ErrUserNotFound)

	users, err := store.ListUsers()
	require.NoError(t, err)
	assert.Empty(t, users)
}

func mustCreate(t *testing.T, store *FileStore, id, username string) {
	t.Helper()
	_, err := store.CreateUser(id, username, "hash")
	require.NoError(t, err)
}
