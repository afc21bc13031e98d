package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"optionledger/internal/model"
	"optionledger/internal/store/memory"
)

// fakePositions is an in-memory model.PositionStore.
type fakePositions struct {
	mu   sync.Mutex
	list []model.OptionPosition
	subs []func()
}

func (f *fakePositions) List(context.Context) ([]model.OptionPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.OptionPosition(nil), f.list...), nil
}

func (f *fakePositions) Add(_ context.Context, p model.OptionPosition) (model.OptionPosition, error) {
	f.mu.Lock()
	f.list = append(f.list, p)
	subs := make([]func(), len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
	return p, nil
}

func (f *fakePositions) Delete(context.Context, string) error { return nil }

func (f *fakePositions) OnChange(fn func()) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakePositions) Close() error { return nil }

// fakeSource is a canned model.QuoteSource that counts calls.
type fakeSource struct {
	mu           sync.Mutex
	quotes       map[string]model.PriceQuote
	prevCloses   map[string]float64
	dayChanges   map[string]model.DayChange
	batchQuote   int
	batchClose   int
	dayChangeHit int
}

func (f *fakeSource) FetchQuote(_ context.Context, id string) (model.PriceQuote, error) {
	return f.quotes[id], nil
}

func (f *fakeSource) BatchFetchQuotes(_ context.Context, reqs []model.QuoteRequest) map[string]model.PriceQuote {
	f.mu.Lock()
	f.batchQuote++
	f.mu.Unlock()
	out := make(map[string]model.PriceQuote)
	for _, r := range reqs {
		if q, ok := f.quotes[r.ID]; ok {
			out[r.ID] = q
		}
	}
	return out
}

func (f *fakeSource) FetchPreviousClose(_ context.Context, id string) (float64, bool) {
	price, ok := f.prevCloses[id]
	return price, ok
}

func (f *fakeSource) BatchFetchPreviousClose(_ context.Context, ids []string) map[string]float64 {
	f.mu.Lock()
	f.batchClose++
	f.mu.Unlock()
	out := make(map[string]float64)
	for _, id := range ids {
		if price, ok := f.prevCloses[id]; ok {
			out[id] = price
		}
	}
	return out
}

func (f *fakeSource) FetchLastTradingDayChange(_ context.Context, id string) (model.DayChange, bool) {
	f.mu.Lock()
	f.dayChangeHit++
	f.mu.Unlock()
	dc, ok := f.dayChanges[id]
	return dc, ok
}

func sellPut() model.OptionPosition {
	return model.OptionPosition{
		ID:         "p1",
		Symbol:     "AMD",
		Kind:       model.SellPut,
		Quantity:   2,
		EntryPrice: 3.50,
		Strike:     160,
		Expiration: time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC),
	}
}

func newTestTracker(positions *fakePositions, source *fakeSource, open bool) (*Tracker, *memory.CloseCache) {
	closes := memory.New()
	tr := New(positions, closes, source, Config{PollInterval: time.Hour, HistorySize: 16})
	tr.isOpen = func(time.Time) bool { return open }
	return tr, closes
}

func TestRunPass_EmptyPortfolio(t *testing.T) {
	source := &fakeSource{}
	tr, _ := newTestTracker(&fakePositions{}, source, true)

	if err := tr.RunPass(context.Background()); err != nil {
		t.Fatal(err)
	}
	u, ok := tr.Latest()
	if !ok {
		t.Fatal("empty pass must still publish an update")
	}
	if len(u.Positions) != 0 || u.Summary.Positions != 0 {
		t.Errorf("update = %+v, want empty", u)
	}
	if source.batchQuote != 0 || source.batchClose != 0 {
		t.Error("empty portfolio must not hit the feed")
	}
}

func TestRunPass_ValuesAndPublishes(t *testing.T) {
	pos := sellPut()
	id := pos.ContractID()
	source := &fakeSource{
		quotes:     map[string]model.PriceQuote{id: {Ask: 4.00}},
		prevCloses: map[string]float64{id: 3.80},
	}
	tr, closes := newTestTracker(&fakePositions{list: []model.OptionPosition{pos}}, source, true)

	ch, unsub := tr.Subscribe()
	defer unsub()

	if err := tr.RunPass(context.Background()); err != nil {
		t.Fatal(err)
	}

	var u Update
	select {
	case u = <-ch:
	default:
		t.Fatal("pass did not publish to subscribers")
	}
	if len(u.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(u.Positions))
	}
	v := u.Positions[0]
	if v.Cost != 700 || v.CurrentValue != -800 {
		t.Errorf("valued = cost %v, currentValue %v, want 700/-800", v.Cost, v.CurrentValue)
	}
	if u.Summary.CurrentValue != -800 {
		t.Errorf("summary = %+v", u.Summary)
	}

	// The first pass bulk-refreshes previous closes and persists them.
	if source.batchClose != 1 {
		t.Errorf("close refreshes = %d, want 1", source.batchClose)
	}
	if price, ok, _ := closes.Get(context.Background(), id); !ok || price != 3.80 {
		t.Errorf("cached close = %v/%v, want 3.80", price, ok)
	}
	if tr.History(0)[0].Positions != 1 {
		t.Error("pass must record a history entry")
	}
}

func TestRunPass_RefreshGate(t *testing.T) {
	pos := sellPut()
	source := &fakeSource{
		quotes:     map[string]model.PriceQuote{pos.ContractID(): {Ask: 4.00}},
		prevCloses: map[string]float64{pos.ContractID(): 3.80},
	}
	tr, _ := newTestTracker(&fakePositions{list: []model.OptionPosition{pos}}, source, true)

	ctx := context.Background()
	tr.RunPass(ctx)
	tr.RunPass(ctx)
	if source.batchClose != 1 {
		t.Errorf("close refreshes = %d, want 1 within the refresh window", source.batchClose)
	}
	if source.batchQuote != 2 {
		t.Errorf("quote fetches = %d, want one per pass", source.batchQuote)
	}
}

func TestRunPass_SelfHealingWrite(t *testing.T) {
	pos := sellPut()
	id := pos.ContractID()
	// Quote carries last and change: the implied previous close must
	// land in the cache for the next session.
	source := &fakeSource{
		quotes: map[string]model.PriceQuote{id: {Last: 4.20, Change: 0.40}},
	}
	tr, closes := newTestTracker(&fakePositions{list: []model.OptionPosition{pos}}, source, true)

	tr.RunPass(context.Background())
	price, ok, _ := closes.Get(context.Background(), id)
	if !ok || price != 3.80 {
		t.Errorf("self-healed close = %v/%v, want 3.80", price, ok)
	}
}

func TestRunPass_LastTradingDayEscalation(t *testing.T) {
	pos := sellPut()
	id := pos.ContractID()
	source := &fakeSource{
		// Change-less quote equal to the cached close: the pass alone
		// would report a flat day.
		quotes:     map[string]model.PriceQuote{id: {Last: 4.00}},
		prevCloses: map[string]float64{id: 4.00},
		dayChanges: map[string]model.DayChange{id: {
			Change: 0.25, ChangePercent: 6.67, LastClose: 4.00, PrevClose: 3.75,
		}},
	}
	tr, closes := newTestTracker(&fakePositions{list: []model.OptionPosition{pos}}, source, false)

	tr.RunPass(context.Background())

	u, _ := tr.Latest()
	v := u.Positions[0]
	if !v.IsLastTradingDay {
		t.Error("closed-market pass must mark positions as last-trading-day")
	}
	// SellPut: a 0.25 rise over 2 contracts is a -50 day.
	if v.TodayGainLoss.Amount != -50 {
		t.Errorf("escalated today = %v, want -50", v.TodayGainLoss.Amount)
	}
	if source.dayChangeHit != 1 {
		t.Errorf("day-change fetches = %d, want 1", source.dayChangeHit)
	}
	// The series' previous close replaces the stale cache entry.
	if price, _, _ := closes.Get(context.Background(), id); price != 3.75 {
		t.Errorf("cached close after escalation = %v, want 3.75", price)
	}
}

func TestRunPass_NoEscalationWhileOpen(t *testing.T) {
	pos := sellPut()
	id := pos.ContractID()
	source := &fakeSource{
		quotes:     map[string]model.PriceQuote{id: {Last: 4.00}},
		prevCloses: map[string]float64{id: 4.00},
		dayChanges: map[string]model.DayChange{id: {Change: 0.25}},
	}
	tr, _ := newTestTracker(&fakePositions{list: []model.OptionPosition{pos}}, source, true)

	tr.RunPass(context.Background())
	if source.dayChangeHit != 0 {
		t.Error("open-market pass must not consult the daily series")
	}
}

func TestRun_KickOnPositionChange(t *testing.T) {
	positions := &fakePositions{}
	source := &fakeSource{quotes: map[string]model.PriceQuote{}}
	tr, _ := newTestTracker(positions, source, true)

	ch, unsub := tr.Subscribe()
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	// Initial pass.
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no initial pass")
	}

	// Adding a position kicks an immediate repass, well before the
	// one-hour poll interval.
	positions.Add(ctx, sellPut())
	select {
	case u := <-ch:
		if len(u.Positions) != 1 {
			t.Errorf("kicked pass saw %d positions, want 1", len(u.Positions))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("position change did not trigger a pass")
	}
}

func TestHistory_Ring(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Record(model.PortfolioSummary{Positions: i})
	}
	got := h.Recent(0)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Oldest first, capped at capacity.
	for i, want := range []int{3, 4, 5} {
		if got[i].Positions != want {
			t.Errorf("got[%d] = %d, want %d", i, got[i].Positions, want)
		}
	}
	if got := h.Recent(2); len(got) != 2 || got[1].Positions != 5 {
		t.Errorf("Recent(2) = %v", got)
	}
}
