package rss

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bryan-buckman/rssdeck/internal/database"
	"github.com/bryan-buckman/rssdeck/internal/logger"
	"github.com/bryan-buckman/rssdeck/internal/model"
	"go.uber.org/zap"
)

const (
	// passTimeout bounds one polling pass over all feeds.
	passTimeout = 10 * time.Minute
	// triggerTimeout bounds one on-demand fetch; Stop waits for it rather
	// than cancelling it.
	triggerTimeout = time.Minute
)

// Poller runs the periodic fetch loop and on-demand single-feed fetches.
type Poller struct {
	fetcher         *Fetcher
	db              database.Store
	defaultInterval time.Duration
	startupDelay    time.Duration
	log             *zap.SugaredLogger

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex // guards stopped and wg.Add
	stopped bool
	wg      sync.WaitGroup
}

// NewPoller creates a background poller. defaultInterval is used until an
// interval is saved in settings.
func NewPoller(db database.Store, fetcher *Fetcher, defaultInterval, startupDelay time.Duration) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		fetcher:         fetcher,
		db:              db,
		defaultInterval: defaultInterval,
		startupDelay:    startupDelay,
		log:             logger.Named("poller"),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start begins the polling loop. The first pass runs after the startup delay.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if !p.sleep(p.startupDelay) {
			return
		}
		for {
			interval := p.interval()
			p.log.Infof("Fetching all feeds (interval: %s)", interval)

			ctx, cancel := context.WithTimeout(p.ctx, passTimeout)
			if _, err := p.fetcher.FetchAll(ctx); err != nil {
				p.log.Errorf("Poller error: %v", err)
			}
			cancel()

			if !p.sleep(interval) {
				return
			}
		}
	}()
	p.log.Infof("Poller started (first pass in %s)", p.startupDelay)
}

// Trigger fetches one feed in the background, typically right after it was added.
func (p *Poller) Trigger(feed model.Feed) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), triggerTimeout)
		defer cancel()
		outcome := p.fetcher.FetchOne(ctx, feed.ID, feed.URL)
		if !outcome.Success {
			p.log.Warnf("Initial fetch of feed %d failed: %s", feed.ID, outcome.Error)
		}
	}()
}

// Stop cancels the polling loop and waits for it and for running triggered
// fetches to finish. Triggers started before Stop run to completion.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}

// interval reads the polling interval setting, falling back to the default.
func (p *Poller) interval() time.Duration {
	mins, err := p.db.GetPollingInterval(p.ctx)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			p.log.Warnf("Reading polling interval: %v", err)
		}
		d := p.defaultInterval
		if d < database.MinPollingInterval*time.Minute {
			d = database.MinPollingInterval * time.Minute
		}
		return d
	}
	return time.Duration(mins) * time.Minute
}

// sleep waits for d and reports false if the poller was stopped meanwhile.
func (p *Poller) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
