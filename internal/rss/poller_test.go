package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryan-buckman/rssdeck/internal/database"
	"github.com/bryan-buckman/rssdeck/internal/model"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPoller_Trigger(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	srv := serveBody(t, http.StatusOK, rssOneItem)
	feed, _ := db.CreateFeed(ctx, "alice", srv.URL, "")

	p := NewPoller(db, newTestFetcher(db), time.Hour, time.Hour)
	p.Trigger(*feed)
	p.Stop()

	if _, err := db.FindItemByFeedAndGUID(ctx, feed.ID, "g1"); err != nil {
		t.Errorf("triggered fetch should have stored the item: %v", err)
	}

	// Triggers after Stop are ignored.
	p.Trigger(model.Feed{ID: feed.ID, URL: srv.URL})
}

func TestPoller_StopWaitsForTriggers(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	srv := serveBody(t, http.StatusOK, rssOneItem)
	first, _ := db.CreateFeed(ctx, "alice", srv.URL, "")
	second, _ := db.CreateFeed(ctx, "bob", srv.URL, "")

	// Both feeds share a host, so the second fetch waits in the domain limiter
	// while Stop is already running.
	f := NewFetcher(db, NewHTTPTransport(2*time.Second, "rssdeck-test"), 200*time.Millisecond)
	p := NewPoller(db, f, time.Hour, time.Hour)
	p.Trigger(*first)
	p.Trigger(*second)
	p.Stop()

	for _, feed := range []*model.Feed{first, second} {
		if _, err := db.FindItemByFeedAndGUID(ctx, feed.ID, "g1"); err != nil {
			t.Errorf("feed %d: triggered fetch should complete before Stop returns: %v", feed.ID, err)
		}
		stored, _ := db.GetFeed(ctx, feed.ID)
		if stored.LastError != "" {
			t.Errorf("feed %d: unexpected last_error %q", feed.ID, stored.LastError)
		}
	}
}

func TestPoller_StartRunsFirstPass(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(rssOneItem))
	}))
	defer srv.Close()
	db.CreateFeed(ctx, "alice", srv.URL, "")

	p := NewPoller(db, newTestFetcher(db), time.Hour, 10*time.Millisecond)
	p.Start()
	waitFor(t, 5*time.Second, func() bool { return hits.Load() >= 1 })
	p.Stop()
}

func TestPoller_Interval(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	p := NewPoller(db, newTestFetcher(db), 30*time.Minute, 0)
	defer p.Stop()

	if got := p.interval(); got != 30*time.Minute {
		t.Errorf("default interval: %s", got)
	}
	db.SetSetting(ctx, model.SettingPollingInterval, "60")
	if got := p.interval(); got != time.Hour {
		t.Errorf("stored interval: %s", got)
	}
	db.SetSetting(ctx, model.SettingPollingInterval, "1")
	if got := p.interval(); got != database.MinPollingInterval*time.Minute {
		t.Errorf("clamped interval: %s", got)
	}

	short := NewPoller(newTestStore(t), nil, time.Minute, 0)
	defer short.Stop()
	if got := short.interval(); got != database.MinPollingInterval*time.Minute {
		t.Errorf("default below minimum should clamp: %s", got)
	}
}
