// Package database provides storage backends for the RSS reader.
package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bryan-buckman/rssdeck/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateFeed is returned when an owner subscribes to the same URL twice.
	ErrDuplicateFeed = errors.New("feed already added")
)

// MinPollingInterval is the smallest accepted polling interval in minutes.
const MinPollingInterval = 15

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// Feed registry
	CreateFeed(ctx context.Context, ownerID, url, title string) (*model.Feed, error)
	GetFeed(ctx context.Context, feedID int64) (*model.Feed, error)
	ListFeeds(ctx context.Context) ([]model.Feed, error)
	ListFeedsByOwner(ctx context.Context, ownerID string) ([]model.Feed, error)
	ListSubscribers(ctx context.Context, feedID int64) ([]string, error)
	DeleteFeed(ctx context.Context, feedID int64, ownerID string) error
	UpdateFeedTitle(ctx context.Context, feedID int64, title string) error
	UpdateFeedLastFetched(ctx context.Context, feedID int64, t time.Time) error
	UpdateFeedError(ctx context.Context, feedID int64, errMsg string) error

	// Item store
	FindItemByFeedAndGUID(ctx context.Context, feedID int64, guid string) (*model.Item, error)
	InsertItem(ctx context.Context, item *model.Item) (int64, bool, error)
	InsertStatusIfAbsent(ctx context.Context, userID string, itemID int64) error
	ListItems(ctx context.Context, q model.ItemQuery) ([]model.Item, error)
	MarkItemsRead(ctx context.Context, userID string, itemIDs []int64) error
	ToggleSaved(ctx context.Context, userID string, itemID int64) (*model.ItemStatus, error)
	GetItemStatus(ctx context.Context, userID string, itemID int64) (*model.ItemStatus, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	// GetPollingInterval returns the stored interval in minutes, or
	// ErrNotFound when none has been saved.
	GetPollingInterval(ctx context.Context) (int, error)
}

// Open selects a backend by driver name.
func Open(driver, path, url string) (Store, error) {
	if driver == "postgres" {
		return NewPostgres(url)
	}
	return New(path)
}

// parseInterval converts a stored polling interval, enforcing the minimum.
func parseInterval(val string, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	mins, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("polling interval %q: %w", val, err)
	}
	if mins < MinPollingInterval {
		mins = MinPollingInterval
	}
	return mins, nil
}
