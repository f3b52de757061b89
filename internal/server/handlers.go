package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bryan-buckman/rssdeck/internal/database"
	"github.com/bryan-buckman/rssdeck/internal/model"
	"github.com/bryan-buckman/rssdeck/internal/opml"
	"github.com/go-chi/chi/v5"
)

const (
	defaultPageSize  = 10
	maxPageSize      = 200
	manualFetchLimit = 5 * time.Minute
	maxOPMLSize      = 5 << 20
)

// --- Feeds ---

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.db.ListFeedsByOwner(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.internalError(w, "list feeds", err)
		return
	}
	if feeds == nil {
		feeds = []model.Feed{}
	}
	writeJSON(w, http.StatusOK, feeds)
}

func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FeedURL string `json:"feed_url"`
		Title   string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	feedURL := strings.TrimSpace(req.FeedURL)
	if !validFeedURL(feedURL) {
		writeError(w, http.StatusBadRequest, "feed_url must be an http(s) URL")
		return
	}

	feed, err := s.db.CreateFeed(r.Context(), userFrom(r.Context()), feedURL, strings.TrimSpace(req.Title))
	if errors.Is(err, database.ErrDuplicateFeed) {
		writeError(w, http.StatusBadRequest, "Feed already added")
		return
	}
	if err != nil {
		s.internalError(w, "create feed", err)
		return
	}

	s.trigger.Trigger(*feed)
	writeJSON(w, http.StatusCreated, feed)
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid feed id")
		return
	}
	err = s.db.DeleteFeed(r.Context(), id, userFrom(r.Context()))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Feed not found")
		return
	}
	if err != nil {
		s.internalError(w, "delete feed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Feed deleted"})
}

func (s *Server) handleManualFetch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), manualFetchLimit)
	defer cancel()

	results, err := s.fetcher.FetchOwner(ctx, userFrom(r.Context()))
	if err != nil {
		s.internalError(w, "manual fetch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("Fetched %d feeds", len(results)),
		"results": results,
	})
}

// --- Items ---

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := model.ItemQuery{
		OwnerID:    userFrom(r.Context()),
		OnlyUnread: q.Get("only_unread") == "true",
		OnlySaved:  q.Get("only_saved") == "true",
		Limit:      defaultPageSize,
	}

	var err error
	if v := q.Get("feed_id"); v != "" {
		if query.FeedID, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid feed_id")
			return
		}
	}
	if v := q.Get("skip"); v != "" {
		if query.Skip, err = strconv.Atoi(v); err != nil || query.Skip < 0 {
			writeError(w, http.StatusBadRequest, "Invalid skip")
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if query.Limit, err = strconv.Atoi(v); err != nil || query.Limit < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		if query.Limit > maxPageSize {
			query.Limit = maxPageSize
		}
	}

	items, err := s.db.ListItems(r.Context(), query)
	if err != nil {
		s.internalError(w, "list items", err)
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemIDs []int64 `json:"item_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if err := s.db.MarkItemsRead(r.Context(), userFrom(r.Context()), req.ItemIDs); err != nil {
		s.internalError(w, "mark read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Items marked as read"})
}

func (s *Server) handleToggleSaved(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID int64 `json:"item_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemID == 0 {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	status, err := s.db.ToggleSaved(r.Context(), userFrom(r.Context()), req.ItemID)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Item not found")
		return
	}
	if err != nil {
		s.internalError(w, "toggle saved", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// --- Settings ---

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	interval, err := s.db.GetPollingInterval(r.Context())
	if errors.Is(err, database.ErrNotFound) {
		interval, err = s.defaultInterval, nil
	}
	if err != nil {
		s.internalError(w, "get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"polling_interval": interval})
}

// handleSaveSettings stores the polling interval. The setting is global: any
// authenticated caller changes it for every user.
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PollingInterval int `json:"polling_interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.PollingInterval < database.MinPollingInterval {
		req.PollingInterval = database.MinPollingInterval
	}
	if err := s.db.SetSetting(r.Context(), model.SettingPollingInterval, strconv.Itoa(req.PollingInterval)); err != nil {
		s.internalError(w, "save settings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "polling_interval": req.PollingInterval})
}

// --- OPML ---

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxOPMLSize)
	file, _, err := r.FormFile("opml")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	entries, err := opml.Parse(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse OPML: %v", err))
		return
	}

	owner := userFrom(r.Context())
	imported := 0
	for _, entry := range entries {
		if !validFeedURL(entry.URL) {
			s.log.Warnf("Skipping OPML entry with invalid URL %q", entry.URL)
			continue
		}
		feed, err := s.db.CreateFeed(r.Context(), owner, entry.URL, entry.Title)
		if errors.Is(err, database.ErrDuplicateFeed) {
			continue
		}
		if err != nil {
			s.log.Errorf("Error creating feed %s: %v", entry.URL, err)
			continue
		}
		imported++
		s.trigger.Trigger(*feed)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"imported": imported,
		"total":    len(entries),
	})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.db.ListFeedsByOwner(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.internalError(w, "export opml", err)
		return
	}
	data, err := opml.Export("rssdeck feeds", opml.FromFeeds(feeds))
	if err != nil {
		s.internalError(w, "export opml", err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=rssdeck-feeds.opml")
	w.Write(data)
}

// --- Helpers ---

// internalError logs err and answers with a generic message.
func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Errorf("%s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func validFeedURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
