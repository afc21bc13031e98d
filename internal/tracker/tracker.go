// Package tracker runs the pricing loop: poll the feed for every
// stored position, value them, and fan the results out to subscribers
// (the WebSocket gateway and the REST API read the same updates).
package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"optionledger/internal/markethours"
	"optionledger/internal/model"
	"optionledger/internal/pricing"
)

// Config configures the tracker loop.
type Config struct {
	PollInterval time.Duration // default 60s
	HistorySize  int           // portfolio summaries kept, default 1440
}

// Update is the output of one pricing pass.
type Update struct {
	At         time.Time                    `json:"at"`
	MarketOpen bool                         `json:"market_open"`
	Positions  []model.ValuedOptionPosition `json:"positions"`
	Summary    model.PortfolioSummary       `json:"summary"`
}

// Tracker owns the poll loop. A position change kicks an immediate
// pass so the UI never waits a full interval after an add or delete.
type Tracker struct {
	positions model.PositionStore
	closes    model.ClosingPriceStore
	source    model.QuoteSource
	interval  time.Duration
	history   *History

	// Injectable clock and calendar, fixed in tests.
	now    func() time.Time
	isOpen func(time.Time) bool

	kick  chan struct{}
	unsub func()

	mu     sync.RWMutex
	latest *Update
	subs   map[int]chan Update
	nextID int

	// Metric hooks, optional.
	OnPass         func(dur time.Duration, positions int)
	OnCacheRefresh func()
}

func New(positions model.PositionStore, closes model.ClosingPriceStore, source model.QuoteSource, cfg Config) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1440
	}
	t := &Tracker{
		positions: positions,
		closes:    closes,
		source:    source,
		interval:  cfg.PollInterval,
		history:   NewHistory(cfg.HistorySize),
		now:       time.Now,
		isOpen:    markethours.IsMarketOpen,
		kick:      make(chan struct{}, 1),
		subs:      make(map[int]chan Update),
	}
	t.unsub = positions.OnChange(t.Kick)
	return t
}

// Kick requests an immediate pass. Non-blocking: a pending kick is
// enough, passes never queue up.
func (t *Tracker) Kick() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// Run executes one pass immediately and then loops until ctx is
// cancelled, repricing every interval or on a kick.
func (t *Tracker) Run(ctx context.Context) {
	defer t.unsub()

	if err := t.RunPass(ctx); err != nil {
		log.Printf("[tracker] pass: %v", err)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-t.kick:
		}
		if err := t.RunPass(ctx); err != nil {
			log.Printf("[tracker] pass: %v", err)
		}
	}
}

// RunPass prices every stored position once and publishes the result.
func (t *Tracker) RunPass(ctx context.Context) error {
	start := t.now()
	open := t.isOpen(start)

	list, err := t.positions.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		// Nothing to price; still publish so clients see the empty state.
		t.publish(Update{At: start, MarketOpen: open, Summary: model.Summarize(start, nil)})
		return nil
	}

	t.maybeRefreshCloses(ctx, start, list)

	reqs := make([]model.QuoteRequest, len(list))
	for i, p := range list {
		reqs[i] = model.QuoteRequest{
			ID:         p.ContractID(),
			Symbol:     p.Symbol,
			Expiration: p.Expiration,
			Strike:     p.Strike,
			Kind:       p.Kind,
		}
	}
	quotes := t.source.BatchFetchQuotes(ctx, reqs)

	cached, err := t.closes.GetAll(ctx)
	if err != nil {
		log.Printf("[tracker] close cache read: %v", err)
		cached = map[string]float64{}
	}

	valued := make([]model.ValuedOptionPosition, 0, len(list))
	for _, p := range list {
		id := p.ContractID()
		q := quotes[id]
		v, writes := pricing.Value(p, q, cached[id], open)

		// After hours a quote often has no change data and the pass
		// shows a flat day. Derive the last session's move from the
		// daily close series instead.
		if !open && v.TodayGainLoss.Amount == 0 && q.Last > 0 {
			if dc, ok := t.source.FetchLastTradingDayChange(ctx, id); ok {
				pricing.ApplyDayChange(&v, dc)
				if dc.PrevClose > 0 {
					t.setClose(ctx, id, dc.PrevClose)
				}
			}
		}

		for _, w := range writes {
			t.setClose(ctx, w.ContractID, w.Price)
		}
		valued = append(valued, v)
	}

	summary := model.Summarize(start, valued)
	t.history.Record(summary)
	t.publish(Update{At: start, MarketOpen: open, Positions: valued, Summary: summary})

	if t.OnPass != nil {
		t.OnPass(t.now().Sub(start), len(valued))
	}
	return nil
}

// maybeRefreshCloses runs the daily bulk refresh of previous closes
// when the last one is older than the refresh window.
func (t *Tracker) maybeRefreshCloses(ctx context.Context, now time.Time, list []model.OptionPosition) {
	last, err := t.closes.LastRefresh(ctx)
	if err != nil {
		log.Printf("[tracker] last refresh read: %v", err)
		return
	}
	if !model.NeedsRefresh(last, now) {
		return
	}

	ids := make([]string, len(list))
	for i, p := range list {
		ids[i] = p.ContractID()
	}
	fetched := t.source.BatchFetchPreviousClose(ctx, ids)
	for id, price := range fetched {
		t.setClose(ctx, id, price)
	}
	if err := t.closes.MarkRefreshed(ctx, now); err != nil {
		log.Printf("[tracker] mark refreshed: %v", err)
		return
	}
	log.Printf("[tracker] refreshed %d/%d previous closes", len(fetched), len(ids))
	if t.OnCacheRefresh != nil {
		t.OnCacheRefresh()
	}
}

func (t *Tracker) setClose(ctx context.Context, contractID string, price float64) {
	if err := t.closes.Set(ctx, contractID, price); err != nil {
		log.Printf("[tracker] close cache write %s: %v", contractID, err)
	}
}

func (t *Tracker) publish(u Update) {
	t.mu.Lock()
	t.latest = &u
	subs := make([]chan Update, 0, len(t.subs))
	for _, ch := range t.subs {
		subs = append(subs, ch)
	}
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- u:
		default: // slow subscriber, drop rather than stall the pass
		}
	}
}

// Latest returns the most recent update, if any pass has completed.
func (t *Tracker) Latest() (Update, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.latest == nil {
		return Update{}, false
	}
	return *t.latest, true
}

// Subscribe returns a channel of updates and an unsubscribe function.
// The channel is buffered; updates are dropped when it is full.
func (t *Tracker) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 8)
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	t.mu.Unlock()
	return ch, func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// History returns the recorded portfolio summaries, oldest first.
func (t *Tracker) History(limit int) []model.PortfolioSummary {
	return t.history.Recent(limit)
}
