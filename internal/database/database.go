// Package database provides SQLite storage for the RSS reader.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bryan-buckman/rssdeck/internal/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS feeds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id TEXT NOT NULL,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		last_fetched DATETIME,
		last_error TEXT NOT NULL DEFAULT '',
		UNIQUE(owner_id, url)
	);
	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		feed_id INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
		guid TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		link TEXT NOT NULL DEFAULT '',
		published_at DATETIME,
		fetched_at DATETIME NOT NULL,
		UNIQUE(feed_id, guid)
	);
	CREATE TABLE IF NOT EXISTS item_status (
		user_id TEXT NOT NULL,
		item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		is_read INTEGER NOT NULL DEFAULT 0,
		is_saved INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, item_id)
	);
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feeds_owner_id ON feeds(owner_id);
	CREATE INDEX IF NOT EXISTS idx_items_feed_id ON items(feed_id);
	CREATE INDEX IF NOT EXISTS idx_item_status_item ON item_status(item_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

func isUniqueViolationSQLite(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// --- Feed Methods ---

const feedColumns = "id, owner_id, url, title, created_at, last_fetched, last_error"

// CreateFeed subscribes ownerID to url.
func (db *DB) CreateFeed(ctx context.Context, ownerID, url, title string) (*model.Feed, error) {
	now := time.Now().UTC()
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO feeds (owner_id, url, title, created_at) VALUES (?, ?, ?, ?)",
		ownerID, url, title, now)
	if isUniqueViolationSQLite(err) {
		return nil, ErrDuplicateFeed
	}
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &model.Feed{ID: id, OwnerID: ownerID, URL: url, Title: title, CreatedAt: now}, nil
}

// GetFeed returns one feed by ID.
func (db *DB) GetFeed(ctx context.Context, feedID int64) (*model.Feed, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT "+feedColumns+" FROM feeds WHERE id = ?", feedID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	feeds, err := scanFeeds(rows)
	if err != nil {
		return nil, err
	}
	if len(feeds) == 0 {
		return nil, ErrNotFound
	}
	return &feeds[0], nil
}

// ListFeeds returns every feed of every owner, oldest first.
func (db *DB) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT "+feedColumns+" FROM feeds ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFeeds(rows)
}

// ListFeedsByOwner returns one owner's feeds, newest first.
func (db *DB) ListFeedsByOwner(ctx context.Context, ownerID string) ([]model.Feed, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+feedColumns+" FROM feeds WHERE owner_id = ? ORDER BY created_at DESC, id DESC", ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFeeds(rows)
}

// ListSubscribers returns the distinct owners subscribed to a feed.
func (db *DB) ListSubscribers(ctx context.Context, feedID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT DISTINCT owner_id FROM feeds WHERE id = ?", feedID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// DeleteFeed removes an owner's feed; items and statuses cascade.
func (db *DB) DeleteFeed(ctx context.Context, feedID int64, ownerID string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM feeds WHERE id = ? AND owner_id = ?", feedID, ownerID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// UpdateFeedTitle sets the display title.
func (db *DB) UpdateFeedTitle(ctx context.Context, feedID int64, title string) error {
	_, err := db.conn.ExecContext(ctx, "UPDATE feeds SET title = ? WHERE id = ?", title, feedID)
	return err
}

// UpdateFeedLastFetched records a successful fetch and clears the last error.
func (db *DB) UpdateFeedLastFetched(ctx context.Context, feedID int64, t time.Time) error {
	_, err := db.conn.ExecContext(ctx, "UPDATE feeds SET last_fetched = ?, last_error = '' WHERE id = ?", t.UTC(), feedID)
	return err
}

// UpdateFeedError records the message of a failed fetch.
func (db *DB) UpdateFeedError(ctx context.Context, feedID int64, errMsg string) error {
	_, err := db.conn.ExecContext(ctx, "UPDATE feeds SET last_error = ? WHERE id = ?", truncateError(errMsg), feedID)
	return err
}

// --- Item Methods ---

const itemColumns = "i.id, i.feed_id, i.guid, i.title, i.description, i.link, i.published_at, i.fetched_at"

// FindItemByFeedAndGUID returns the item with an exact (feed, guid) match.
func (db *DB) FindItemByFeedAndGUID(ctx context.Context, feedID int64, guid string) (*model.Item, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+itemColumns+", 0, 0 FROM items i WHERE i.feed_id = ? AND i.guid = ?", feedID, guid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return &items[0], nil
}

// InsertItem inserts a new item if GUID doesn't exist for that feed. Returns ID and whether it was new.
func (db *DB) InsertItem(ctx context.Context, item *model.Item) (int64, bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO items (feed_id, guid, title, description, link, published_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(feed_id, guid) DO NOTHING`,
		item.FeedID, item.GUID, item.Title, item.Description, item.Link, nullTime(item.PublishedAt), item.FetchedAt.UTC())
	if err != nil {
		return 0, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if affected == 0 {
		return 0, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// InsertStatusIfAbsent creates an unread, unsaved status row unless one exists.
func (db *DB) InsertStatusIfAbsent(ctx context.Context, userID string, itemID int64) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO item_status (user_id, item_id, is_read, is_saved, updated_at)
		VALUES (?, ?, 0, 0, ?)
		ON CONFLICT(user_id, item_id) DO NOTHING`,
		userID, itemID, time.Now().UTC())
	return err
}

// ListItems returns the owner's items with their status, newest first.
// A missing status row reads as unread and unsaved.
func (db *DB) ListItems(ctx context.Context, q model.ItemQuery) ([]model.Item, error) {
	query := "SELECT " + itemColumns + `, COALESCE(s.is_read, 0), COALESCE(s.is_saved, 0)
		FROM items i
		JOIN feeds f ON f.id = i.feed_id
		LEFT JOIN item_status s ON s.item_id = i.id AND s.user_id = ?
		WHERE f.owner_id = ?`
	args := []interface{}{q.OwnerID, q.OwnerID}
	if q.FeedID != 0 {
		query += " AND f.id = ?"
		args = append(args, q.FeedID)
	}
	if q.OnlyUnread {
		query += " AND COALESCE(s.is_read, 0) = 0"
	}
	if q.OnlySaved {
		query += " AND COALESCE(s.is_saved, 0) = 1"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " ORDER BY i.published_at DESC, i.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, q.Skip)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// MarkItemsRead marks the owner's items as read, creating status rows as needed.
// IDs of items outside the owner's feeds are ignored.
func (db *DB) MarkItemsRead(ctx context.Context, userID string, itemIDs []int64) error {
	if len(itemIDs) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO item_status (user_id, item_id, is_read, is_saved, updated_at)
		SELECT ?, i.id, 1, 0, ? FROM items i JOIN feeds f ON f.id = i.feed_id
		WHERE i.id = ? AND f.owner_id = ?
		ON CONFLICT(user_id, item_id) DO UPDATE SET is_read = 1, updated_at = excluded.updated_at`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	now := time.Now().UTC()
	for _, id := range itemIDs {
		if _, err := stmt.ExecContext(ctx, userID, now, id, userID); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ToggleSaved flips the saved flag, creating a saved status row when absent.
func (db *DB) ToggleSaved(ctx context.Context, userID string, itemID int64) (*model.ItemStatus, error) {
	var owned int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM items i JOIN feeds f ON f.id = i.feed_id WHERE i.id = ? AND f.owner_id = ?",
		itemID, userID).Scan(&owned)
	if err != nil {
		return nil, err
	}
	if owned == 0 {
		return nil, ErrNotFound
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO item_status (user_id, item_id, is_read, is_saved, updated_at)
		VALUES (?, ?, 0, 1, ?)
		ON CONFLICT(user_id, item_id) DO UPDATE SET is_saved = NOT item_status.is_saved, updated_at = excluded.updated_at`,
		userID, itemID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return db.GetItemStatus(ctx, userID, itemID)
}

// GetItemStatus returns the stored status row.
func (db *DB) GetItemStatus(ctx context.Context, userID string, itemID int64) (*model.ItemStatus, error) {
	var s model.ItemStatus
	err := db.conn.QueryRowContext(ctx,
		"SELECT user_id, item_id, is_read, is_saved, updated_at FROM item_status WHERE user_id = ? AND item_id = ?",
		userID, itemID).Scan(&s.UserID, &s.ItemID, &s.Read, &s.Saved, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// --- Settings Methods ---

// GetSetting retrieves a setting value.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var val string
	err := db.conn.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&val)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return val, err
}

// SetSetting saves a setting.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", key, value)
	return err
}

// GetPollingInterval returns the polling interval in minutes, with a minimum of 15.
func (db *DB) GetPollingInterval(ctx context.Context) (int, error) {
	return parseInterval(db.GetSetting(ctx, model.SettingPollingInterval))
}

// --- Helper functions ---

func scanFeeds(rows *sql.Rows) ([]model.Feed, error) {
	var feeds []model.Feed
	for rows.Next() {
		var f model.Feed
		var lastFetched sql.NullTime
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.URL, &f.Title, &f.CreatedAt, &lastFetched, &f.LastError); err != nil {
			return nil, err
		}
		if lastFetched.Valid {
			f.LastFetched = lastFetched.Time
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

func scanItems(rows *sql.Rows) ([]model.Item, error) {
	var items []model.Item
	for rows.Next() {
		var it model.Item
		var publishedAt sql.NullTime
		if err := rows.Scan(&it.ID, &it.FeedID, &it.GUID, &it.Title, &it.Description, &it.Link,
			&publishedAt, &it.FetchedAt, &it.Read, &it.Saved); err != nil {
			return nil, err
		}
		if publishedAt.Valid {
			t := publishedAt.Time
			it.PublishedAt = &t
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

const maxErrorLen = 200

// truncateError keeps stored error messages short. The cut lands on a rune
// boundary so PostgreSQL accepts the result as UTF-8.
func truncateError(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > maxErrorLen {
		cut := maxErrorLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg
}
