// Package model defines shared data structures.
package model

import "time"

// Feed represents an RSS/Atom subscription owned by one user.
type Feed struct {
	ID          int64     `json:"id"`
	OwnerID     string    `json:"user_id"`
	URL         string    `json:"feed_url"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	LastFetched time.Time `json:"last_fetched,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Item represents a single article/entry from a feed.
// Read and Saved are the requesting user's status and default to false
// when no status row exists.
type Item struct {
	ID          int64      `json:"id"`
	FeedID      int64      `json:"feed_id"`
	GUID        string     `json:"guid"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Link        string     `json:"link"`
	PublishedAt *time.Time `json:"pub_date"`
	FetchedAt   time.Time  `json:"fetched_at"`
	Read        bool       `json:"is_read"`
	Saved       bool       `json:"is_saved"`
}

// ItemStatus is the per-user read/saved state of one item.
type ItemStatus struct {
	UserID    string    `json:"user_id"`
	ItemID    int64     `json:"item_id"`
	Read      bool      `json:"is_read"`
	Saved     bool      `json:"is_saved"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanonicalItem is a feed entry normalized from RSS or Atom, before persistence.
type CanonicalItem struct {
	GUID        string
	Title       string
	Description string
	Link        string
	PublishedAt string // raw date text, empty when the source has none
}

// ItemQuery filters the items listing of one user.
type ItemQuery struct {
	OwnerID    string
	FeedID     int64 // 0 means all of the owner's feeds
	OnlyUnread bool
	OnlySaved  bool
	Skip       int
	Limit      int
}

// Settings key constants.
const (
	SettingPollingInterval = "polling_interval_minutes"
)
