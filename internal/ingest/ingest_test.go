package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bryan-buckman/rssdeck/internal/database"
	"github.com/bryan-buckman/rssdeck/internal/model"
)

type statusKey struct {
	user string
	item int64
}

// memStore is an in-memory ItemStore.
type memStore struct {
	mu          sync.Mutex
	nextID      int64
	items       map[int64]map[string]*model.Item
	statuses    map[statusKey]bool
	subscribers map[int64][]string

	findErr   error
	statusErr error
	// raceOnInsert simulates another writer inserting the guid between find and insert.
	raceOnInsert bool
}

func newMemStore() *memStore {
	return &memStore{
		items:       make(map[int64]map[string]*model.Item),
		statuses:    make(map[statusKey]bool),
		subscribers: make(map[int64][]string),
	}
}

func (m *memStore) FindItemByFeedAndGUID(_ context.Context, feedID int64, guid string) (*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	if it, ok := m.items[feedID][guid]; ok {
		return it, nil
	}
	return nil, database.ErrNotFound
}

func (m *memStore) InsertItem(_ context.Context, item *model.Item) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.raceOnInsert {
		return 0, false, nil
	}
	if m.items[item.FeedID] == nil {
		m.items[item.FeedID] = make(map[string]*model.Item)
	}
	if _, ok := m.items[item.FeedID][item.GUID]; ok {
		return 0, false, nil
	}
	m.nextID++
	cp := *item
	cp.ID = m.nextID
	m.items[item.FeedID][item.GUID] = &cp
	return cp.ID, true, nil
}

func (m *memStore) ListSubscribers(_ context.Context, feedID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribers[feedID], nil
}

func (m *memStore) InsertStatusIfAbsent(_ context.Context, userID string, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return m.statusErr
	}
	k := statusKey{userID, itemID}
	if _, ok := m.statuses[k]; !ok {
		m.statuses[k] = false
	}
	return nil
}

func (m *memStore) itemCount() int {
	n := 0
	for _, byGUID := range m.items {
		n += len(byGUID)
	}
	return n
}

func TestUpsert_NewThenRepeat(t *testing.T) {
	store := newMemStore()
	store.subscribers[1] = []string{"alice", "bob"}
	in := New(store)
	ctx := context.Background()

	item := model.CanonicalItem{GUID: "g1", Title: "A", PublishedAt: "Mon, 02 Jan 2006 15:04:05 -0700"}
	isNew, err := in.Upsert(ctx, 1, item)
	if err != nil || !isNew {
		t.Fatalf("first upsert: new=%v err=%v", isNew, err)
	}
	if len(store.statuses) != 2 {
		t.Errorf("expected a status row per subscriber, got %d", len(store.statuses))
	}
	stored := store.items[1]["g1"]
	if stored.PublishedAt == nil || stored.PublishedAt.Year() != 2006 {
		t.Errorf("published at: %v", stored.PublishedAt)
	}

	item.Title = "changed"
	isNew, err = in.Upsert(ctx, 1, item)
	if err != nil || isNew {
		t.Fatalf("second upsert: new=%v err=%v", isNew, err)
	}
	if store.itemCount() != 1 {
		t.Errorf("expected exactly one item, got %d", store.itemCount())
	}
	if store.items[1]["g1"].Title != "A" {
		t.Error("existing item must not be updated")
	}
}

func TestUpsert_SameGUIDDifferentFeeds(t *testing.T) {
	store := newMemStore()
	in := New(store)
	ctx := context.Background()
	for _, feedID := range []int64{1, 2} {
		if isNew, err := in.Upsert(ctx, feedID, model.CanonicalItem{GUID: "shared"}); err != nil || !isNew {
			t.Fatalf("feed %d: new=%v err=%v", feedID, isNew, err)
		}
	}
}

func TestUpsert_LostRace(t *testing.T) {
	store := newMemStore()
	store.raceOnInsert = true
	store.subscribers[1] = []string{"alice"}
	isNew, err := New(store).Upsert(context.Background(), 1, model.CanonicalItem{GUID: "g"})
	if err != nil || isNew {
		t.Fatalf("lost race should report false without error: new=%v err=%v", isNew, err)
	}
	if len(store.statuses) != 0 {
		t.Error("lost race must not fan out")
	}
}

func TestUpsert_PersistenceErrors(t *testing.T) {
	boom := errors.New("disk full")

	store := newMemStore()
	store.findErr = boom
	_, err := New(store).Upsert(context.Background(), 1, model.CanonicalItem{GUID: "g"})
	var pe *PersistenceError
	if !errors.As(err, &pe) || pe.Op != "find item" || !errors.Is(err, boom) {
		t.Errorf("find failure: %v", err)
	}

	store = newMemStore()
	store.subscribers[1] = []string{"alice"}
	store.statusErr = boom
	isNew, err := New(store).Upsert(context.Background(), 1, model.CanonicalItem{GUID: "g"})
	if !errors.As(err, &pe) || pe.Op != "insert status" {
		t.Errorf("fan-out failure: %v", err)
	}
	if !isNew || store.itemCount() != 1 {
		t.Error("item stays inserted when fan-out fails")
	}
}

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"Mon, 02 Jan 2006 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"Mon, 2 Jan 2006 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"2024-03-01T10:00:00Z", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-03-01T10:00:00.5+01:00", time.Date(2024, 3, 1, 9, 0, 0, 500000000, time.UTC)},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		got := ParseDate(c.in)
		if got == nil || !got.Equal(c.want) {
			t.Errorf("ParseDate(%q) = %v, want %v", c.in, got, c.want)
		}
	}
	for _, bad := range []string{"", "   ", "yesterday", "32/13/2020"} {
		if got := ParseDate(bad); got != nil {
			t.Errorf("ParseDate(%q) = %v, want nil", bad, got)
		}
	}
}
