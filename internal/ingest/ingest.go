// Package ingest persists normalized feed items and fans out per-user status rows.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bryan-buckman/rssdeck/internal/database"
	"github.com/bryan-buckman/rssdeck/internal/model"
)

// ItemStore is the subset of database.Store the ingester needs.
type ItemStore interface {
	FindItemByFeedAndGUID(ctx context.Context, feedID int64, guid string) (*model.Item, error)
	InsertItem(ctx context.Context, item *model.Item) (int64, bool, error)
	ListSubscribers(ctx context.Context, feedID int64) ([]string, error)
	InsertStatusIfAbsent(ctx context.Context, userID string, itemID int64) error
}

// PersistenceError wraps a storage failure during ingestion.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Ingester deduplicates items by (feed, guid) and creates status rows for subscribers.
type Ingester struct {
	store ItemStore
	now   func() time.Time
}

// New creates an Ingester backed by store.
func New(store ItemStore) *Ingester {
	return &Ingester{store: store, now: time.Now}
}

// Upsert stores item under feedID. It reports true when the item was new.
// An item already stored under the same guid is left untouched.
//
// A failure during fan-out leaves the item stored with some status rows
// missing; readers treat a missing row as unread and unsaved.
func (in *Ingester) Upsert(ctx context.Context, feedID int64, item model.CanonicalItem) (bool, error) {
	_, err := in.store.FindItemByFeedAndGUID(ctx, feedID, item.GUID)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, database.ErrNotFound):
		return false, &PersistenceError{Op: "find item", Err: err}
	}

	itemID, isNew, err := in.store.InsertItem(ctx, &model.Item{
		FeedID:      feedID,
		GUID:        item.GUID,
		Title:       item.Title,
		Description: item.Description,
		Link:        item.Link,
		PublishedAt: ParseDate(item.PublishedAt),
		FetchedAt:   in.now(),
	})
	if err != nil {
		return false, &PersistenceError{Op: "insert item", Err: err}
	}
	if !isNew {
		// Another fetch inserted the same guid first.
		return false, nil
	}

	owners, err := in.store.ListSubscribers(ctx, feedID)
	if err != nil {
		return true, &PersistenceError{Op: "list subscribers", Err: err}
	}
	for _, owner := range owners {
		if err := in.store.InsertStatusIfAbsent(ctx, owner, itemID); err != nil {
			return true, &PersistenceError{Op: "insert status", Err: err}
		}
	}
	return true, nil
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC3339Nano,
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses a feed date string. It returns nil for empty or
// unrecognized input.
func ParseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
