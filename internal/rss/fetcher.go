// Package rss fetches feeds and feeds their items into the ingester.
package rss

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/rssdeck/internal/database"
	"github.com/bryan-buckman/rssdeck/internal/feeddoc"
	"github.com/bryan-buckman/rssdeck/internal/ingest"
	"github.com/bryan-buckman/rssdeck/internal/logger"
	"github.com/bryan-buckman/rssdeck/internal/model"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
)

const (
	// MaxConcurrencyPerDomain limits parallel requests to any single domain.
	MaxConcurrencyPerDomain = 2
	// DefaultDomainDelay is the minimum delay between requests to the same domain.
	DefaultDomainDelay = 500 * time.Millisecond
	// recordTimeout bounds the write of a failed fetch's error.
	recordTimeout = 5 * time.Second
)

// domainLimiter controls rate limiting per domain to avoid overwhelming hosts.
type domainLimiter struct {
	mu          sync.Mutex
	delay       time.Duration
	semaphores  map[string]chan struct{}
	lastRequest map[string]time.Time
}

func newDomainLimiter(delay time.Duration) *domainLimiter {
	return &domainLimiter{
		delay:       delay,
		semaphores:  make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
	}
}

// acquire gets a slot for the domain, blocking if necessary.
// It also enforces the minimum delay between requests to the same domain.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) error {
	dl.mu.Lock()
	sem, ok := dl.semaphores[domain]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerDomain)
		dl.semaphores[domain] = sem
	}
	dl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	dl.mu.Lock()
	lastReq := dl.lastRequest[domain]
	dl.mu.Unlock()

	if !lastReq.IsZero() {
		if elapsed := time.Since(lastReq); elapsed < dl.delay {
			select {
			case <-time.After(dl.delay - elapsed):
			case <-ctx.Done():
				<-sem
				return ctx.Err()
			}
		}
	}
	return nil
}

// release returns a slot for the domain and records the request time.
func (dl *domainLimiter) release(domain string) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.lastRequest[domain] = time.Now()
	if sem, ok := dl.semaphores[domain]; ok {
		<-sem
	}
}

// extractDomain gets the host from a URL.
func extractDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return u.Host
}

// FetchOutcome summarizes one feed fetch.
type FetchOutcome struct {
	FeedID     int64  `json:"feed_id"`
	Success    bool   `json:"success"`
	ItemCount  int    `json:"itemCount"`
	SavedCount int    `json:"savedCount"`
	Error      string `json:"error,omitempty"`
}

// Fetcher retrieves feed documents and ingests their items.
type Fetcher struct {
	db            database.Store
	transport     Transport
	ingester      *ingest.Ingester
	parser        *gofeed.Parser
	domainLimiter *domainLimiter
	log           *zap.SugaredLogger
}

// NewFetcher creates a fetcher. A zero domainDelay uses DefaultDomainDelay.
func NewFetcher(db database.Store, transport Transport, domainDelay time.Duration) *Fetcher {
	if domainDelay <= 0 {
		domainDelay = DefaultDomainDelay
	}
	return &Fetcher{
		db:            db,
		transport:     transport,
		ingester:      ingest.New(db),
		parser:        gofeed.NewParser(),
		domainLimiter: newDomainLimiter(domainDelay),
		log:           logger.Named("fetcher"),
	}
}

// FetchOne fetches feedURL and upserts every item under feedID. Failures of
// any kind are reported in the outcome and recorded as the feed's last error.
func (f *Fetcher) FetchOne(ctx context.Context, feedID int64, feedURL string) FetchOutcome {
	f.log.Infof("Fetching feed %d: %s", feedID, feedURL)

	itemCount, savedCount, err := f.fetch(ctx, feedID, feedURL)
	if err != nil {
		f.log.Warnf("Error fetching feed %d: %v", feedID, err)
		// The failure is recorded even when ctx was cancelled.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if uerr := f.db.UpdateFeedError(rctx, feedID, err.Error()); uerr != nil {
			f.log.Errorf("Error recording failure for feed %d: %v", feedID, uerr)
		}
		return FetchOutcome{FeedID: feedID, Success: false, Error: err.Error()}
	}

	if err := f.db.UpdateFeedLastFetched(ctx, feedID, time.Now()); err != nil {
		f.log.Errorf("Error updating last_fetched for feed %d: %v", feedID, err)
	}
	f.log.Infof("Feed %d: saved %d new items of %d", feedID, savedCount, itemCount)
	return FetchOutcome{FeedID: feedID, Success: true, ItemCount: itemCount, SavedCount: savedCount}
}

func (f *Fetcher) fetch(ctx context.Context, feedID int64, feedURL string) (int, int, error) {
	domain := extractDomain(feedURL)
	if err := f.domainLimiter.acquire(ctx, domain); err != nil {
		return 0, 0, fmt.Errorf("rate limit cancelled for %s: %w", feedURL, err)
	}
	resp, err := f.transport.Get(ctx, feedURL)
	f.domainLimiter.release(domain)
	if err != nil {
		return 0, 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, 0, &TransportError{URL: feedURL, StatusCode: resp.StatusCode}
	}

	items, err := feeddoc.Parse(resp.Body)
	if err != nil {
		return 0, 0, err
	}
	f.log.Debugf("Feed %d: found %d items", feedID, len(items))

	saved := 0
	for _, item := range items {
		isNew, err := f.ingester.Upsert(ctx, feedID, item)
		if err != nil {
			return len(items), saved, err
		}
		if isNew {
			saved++
		}
	}

	f.updateTitle(ctx, feedID, feedURL, resp.Body)
	return len(items), saved, nil
}

// updateTitle fills in a missing feed title from the document.
func (f *Fetcher) updateTitle(ctx context.Context, feedID int64, feedURL string, body []byte) {
	feed, err := f.db.GetFeed(ctx, feedID)
	if err != nil || (feed.Title != "" && feed.Title != feedURL) {
		return
	}
	parsed, err := f.parser.ParseString(string(body))
	if err != nil {
		return
	}
	title := strings.TrimSpace(parsed.Title)
	if title == "" || title == feed.Title {
		return
	}
	if err := f.db.UpdateFeedTitle(ctx, feedID, title); err != nil {
		f.log.Errorf("Error updating title for feed %d: %v", feedID, err)
		return
	}
	f.log.Infof("Updated feed title: %s -> %s", feedURL, title)
}

// FetchAll fetches every feed one at a time, continuing past failures.
// It only fails when the feed list cannot be loaded.
func (f *Fetcher) FetchAll(ctx context.Context) ([]FetchOutcome, error) {
	feeds, err := f.db.ListFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	f.log.Infof("Starting feed fetch for %d feeds", len(feeds))
	outcomes := f.fetchSequential(ctx, feeds)
	logSummary(f.log, outcomes)
	return outcomes, nil
}

// FetchOwner fetches every feed of one owner, sequentially.
func (f *Fetcher) FetchOwner(ctx context.Context, ownerID string) ([]FetchOutcome, error) {
	feeds, err := f.db.ListFeedsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list feeds for %s: %w", ownerID, err)
	}
	return f.fetchSequential(ctx, feeds), nil
}

func (f *Fetcher) fetchSequential(ctx context.Context, feeds []model.Feed) []FetchOutcome {
	outcomes := make([]FetchOutcome, 0, len(feeds))
	for i, feed := range feeds {
		if ctx.Err() != nil {
			f.log.Warnf("Fetch cancelled after %d/%d feeds", i, len(feeds))
			break
		}
		outcomes = append(outcomes, f.FetchOne(ctx, feed.ID, feed.URL))

		if (i+1)%50 == 0 {
			f.log.Infof("Progress: %d/%d feeds fetched", i+1, len(feeds))
		}
	}
	return outcomes
}

func logSummary(log *zap.SugaredLogger, outcomes []FetchOutcome) {
	failed, saved := 0, 0
	for _, o := range outcomes {
		if !o.Success {
			failed++
		}
		saved += o.SavedCount
	}
	log.Infof("Feed fetch complete: %d feeds, %d failed, %d new items", len(outcomes), failed, saved)
}
