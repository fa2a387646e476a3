package eventsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordStoreGetMiss(t *testing.T) {
	store := NewRecordStore()
	rec, ok := store.Get("nope")
	require.False(t, ok)
	require.Nil(t, rec)
}

func TestRecordStoreReturnsCopies(t *testing.T) {
	store := NewRecordStore()
	original := &EventRecord{
		ID:           "e1",
		Title:        "Picnic",
		Participants: []string{"u1"},
		Version:      1,
	}
	store.Put(original)

	// Mutating what Put received must not reach the cache.
	original.Title = "Hacked"
	original.Participants[0] = "intruder"

	got, ok := store.Get("e1")
	require.True(t, ok)
	require.Equal(t, "Picnic", got.Title)
	require.Equal(t, []string{"u1"}, got.Participants)

	// Mutating what Get returned must not reach the cache either.
	got.Participants = append(got.Participants, "u2")
	again, _ := store.Get("e1")
	require.Equal(t, []string{"u1"}, again.Participants)
}

func TestRecordStoreTombstoneRetained(t *testing.T) {
	store := NewRecordStore()
	store.Put(&EventRecord{ID: "e1", Version: 2})

	rec, ok := store.MarkDeleted("e1", 3, StatusPending, time.Now())
	require.True(t, ok)
	require.True(t, rec.IsDeleted)
	require.Equal(t, int64(3), rec.Version)
	require.Equal(t, StatusPending, rec.SyncStatus)

	// Deleted records stay in the store for version comparisons...
	require.Equal(t, 1, store.Len())
	got, ok := store.Get("e1")
	require.True(t, ok)
	require.True(t, got.IsDeleted)

	// ...but vanish from the active listing.
	require.Empty(t, store.ListActive())
}

func TestRecordStoreMarkDeletedMiss(t *testing.T) {
	store := NewRecordStore()
	_, ok := store.MarkDeleted("ghost", 1, StatusSynced, time.Now())
	require.False(t, ok)
}

func TestRecordStoreListActive(t *testing.T) {
	store := NewRecordStore()
	store.Put(&EventRecord{ID: "a", Version: 1})
	store.Put(&EventRecord{ID: "b", Version: 1})
	store.Put(&EventRecord{ID: "c", Version: 1, IsDeleted: true})

	active := store.ListActive()
	require.Len(t, active, 2)
	ids := map[string]bool{}
	for _, rec := range active {
		ids[rec.ID] = true
	}
	require.True(t, ids["a"])
	require.True(t, ids["b"])
}

func TestRecordStoreCommentsInsertionOrder(t *testing.T) {
	store := NewRecordStore()
	for _, id := range []string{"c1", "c2", "c3"} {
		require.True(t, store.AppendComment(&EventComment{ID: id, EventID: "e1", Message: id}))
	}

	thread := store.Comments("e1")
	require.Len(t, thread, 3)
	require.Equal(t, "c1", thread[0].ID)
	require.Equal(t, "c2", thread[1].ID)
	require.Equal(t, "c3", thread[2].ID)

	require.Empty(t, store.Comments("other-event"))
}

func TestRecordStoreCommentDedupeByID(t *testing.T) {
	store := NewRecordStore()
	require.True(t, store.AppendComment(&EventComment{ID: "c1", EventID: "e1"}))
	require.False(t, store.AppendComment(&EventComment{ID: "c1", EventID: "e1", Message: "echo"}))
	require.Len(t, store.Comments("e1"), 1)
}
