// Package feed implements the option market data source on top of the
// public quote API: option chains for live quotes and the daily chart
// series for closing prices. Batches are grouped so one chain fetch
// serves every strike of the same (underlying, expiration) pair, and
// responses are cached briefly to keep polling cheap.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"optionledger/internal/markethours"
	"optionledger/internal/model"
)

// Strike matching tolerances. Feeds list strikes with float noise, so
// an exact match allows a cent of slack; when no strike is that close,
// the nearest one within nearestStrikeTolerance is used (chains step in
// 0.50/1.00/2.50 increments).
const (
	exactStrikeTolerance   = 0.01
	nearestStrikeTolerance = 2.5
)

// Config configures the feed client.
type Config struct {
	Session     *Session
	Concurrency int           // parallel fetches in batch calls, default 4
	ChainTTL    time.Duration // option chain cache, default 30s
	CloseTTL    time.Duration // daily close series cache, default 24h
}

// Client fetches option quotes and closing prices. Implements
// model.QuoteSource. Safe for concurrent use.
type Client struct {
	sess        *Session
	concurrency int
	chainTTL    time.Duration
	closeTTL    time.Duration
	now         func() time.Time

	mu     sync.Mutex
	chains map[string]chainEntry
	closes map[string]closeEntry

	// Metric hooks, all optional.
	OnRequest       func(endpoint string) // "chain" or "chart"
	OnError         func(endpoint string)
	OnChainCacheHit func()
}

type chainEntry struct {
	at    time.Time
	calls []chainContract
	puts  []chainContract
}

type closeEntry struct {
	at     time.Time
	points []closePoint
}

// closePoint is one daily bar of the chart series.
type closePoint struct {
	ts    time.Time
	close float64
}

func New(cfg Config) *Client {
	if cfg.Session == nil {
		cfg.Session = NewSession(SessionConfig{})
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ChainTTL == 0 {
		cfg.ChainTTL = 30 * time.Second
	}
	if cfg.CloseTTL == 0 {
		cfg.CloseTTL = 24 * time.Hour
	}
	return &Client{
		sess:        cfg.Session,
		concurrency: cfg.Concurrency,
		chainTTL:    cfg.ChainTTL,
		closeTTL:    cfg.CloseTTL,
		now:         time.Now,
		chains:      make(map[string]chainEntry),
		closes:      make(map[string]closeEntry),
	}
}

// ── Option chains ──

type chainResponse struct {
	OptionChain struct {
		Result []struct {
			Options []struct {
				Calls []chainContract `json:"calls"`
				Puts  []chainContract `json:"puts"`
			} `json:"options"`
		} `json:"result"`
	} `json:"optionChain"`
}

type chainContract struct {
	Strike        float64 `json:"strike"`
	Bid           float64 `json:"bid"`
	Ask           float64 `json:"ask"`
	LastPrice     float64 `json:"lastPrice"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percentChange"`
	Volume        int64   `json:"volume"`
	OpenInterest  int64   `json:"openInterest"`
}

func chainKey(symbol string, expiration time.Time) string {
	return symbol + "|" + strconv.FormatInt(expirationUnix(expiration), 10)
}

// expirationUnix is the chain endpoint's date parameter: midnight UTC
// of the expiration date.
func expirationUnix(expiration time.Time) int64 {
	e := expiration.UTC()
	return time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, time.UTC).Unix()
}

// fetchChain returns the (calls, puts) tables for one underlying and
// expiration, from cache when fresh.
func (c *Client) fetchChain(ctx context.Context, symbol string, expiration time.Time) (chainEntry, error) {
	key := chainKey(symbol, expiration)

	c.mu.Lock()
	if e, ok := c.chains[key]; ok && c.now().Sub(e.at) < c.chainTTL {
		c.mu.Unlock()
		if c.OnChainCacheHit != nil {
			c.OnChainCacheHit()
		}
		return e, nil
	}
	c.mu.Unlock()

	if c.OnRequest != nil {
		c.OnRequest("chain")
	}
	q := url.Values{}
	q.Set("date", strconv.FormatInt(expirationUnix(expiration), 10))
	resp, err := c.sess.Get(ctx, "/v7/finance/options/"+url.PathEscape(symbol), q)
	if err != nil {
		c.countError("chain")
		return chainEntry{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		c.countError("chain")
		return chainEntry{}, fmt.Errorf("chain %s: status %d", symbol, resp.StatusCode)
	}

	var body chainResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.countError("chain")
		return chainEntry{}, fmt.Errorf("chain %s: decode: %w", symbol, err)
	}
	entry := chainEntry{at: c.now()}
	if len(body.OptionChain.Result) > 0 && len(body.OptionChain.Result[0].Options) > 0 {
		entry.calls = body.OptionChain.Result[0].Options[0].Calls
		entry.puts = body.OptionChain.Result[0].Options[0].Puts
	}

	c.mu.Lock()
	c.chains[key] = entry
	c.mu.Unlock()
	return entry, nil
}

// matchStrike finds the contract for a strike: exact within a cent,
// else the nearest within the chain-step tolerance.
func matchStrike(contracts []chainContract, strike float64) (chainContract, bool) {
	best := -1
	bestDiff := math.MaxFloat64
	for i, ct := range contracts {
		diff := math.Abs(ct.Strike - strike)
		if diff <= exactStrikeTolerance {
			return ct, true
		}
		if diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	if best >= 0 && bestDiff <= nearestStrikeTolerance {
		return contracts[best], true
	}
	return chainContract{}, false
}

func toQuote(ct chainContract) model.PriceQuote {
	return model.PriceQuote{
		Bid:           ct.Bid,
		Ask:           ct.Ask,
		Last:          ct.LastPrice,
		Change:        ct.Change,
		ChangePercent: ct.PercentChange,
		Volume:        ct.Volume,
		OpenInterest:  ct.OpenInterest,
	}
}

// BatchFetchQuotes groups requests by (underlying, expiration), fetches
// each group's chain once, and matches every request against its side
// of the chain. Failed groups and unmatched strikes are simply absent
// from the result.
func (c *Client) BatchFetchQuotes(ctx context.Context, reqs []model.QuoteRequest) map[string]model.PriceQuote {
	groups := make(map[string][]model.QuoteRequest)
	for _, r := range reqs {
		k := chainKey(r.Symbol, r.Expiration)
		groups[k] = append(groups[k], r)
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, c.concurrency)
		out = make(map[string]model.PriceQuote, len(reqs))
	)
	for _, group := range groups {
		wg.Add(1)
		sem <- struct{}{}
		go func(group []model.QuoteRequest) {
			defer wg.Done()
			defer func() { <-sem }()

			entry, err := c.fetchChain(ctx, group[0].Symbol, group[0].Expiration)
			if err != nil {
				log.Printf("[feed] chain %s %s: %v", group[0].Symbol, group[0].Expiration.Format("2006-01-02"), err)
				return
			}
			for _, r := range group {
				side := entry.puts
				if r.Kind.IsCall() {
					side = entry.calls
				}
				ct, ok := matchStrike(side, r.Strike)
				if !ok {
					continue
				}
				mu.Lock()
				out[r.ID] = toQuote(ct)
				mu.Unlock()
			}
		}(group)
	}
	wg.Wait()
	return out
}

// FetchQuote fetches one contract by its contract id, reusing the chain
// path (and cache) the batch fetch uses.
func (c *Client) FetchQuote(ctx context.Context, contractID string) (model.PriceQuote, error) {
	symbol, strike, expiration, call, err := model.ParseContractID(contractID)
	if err != nil {
		return model.PriceQuote{}, err
	}
	entry, err := c.fetchChain(ctx, symbol, expiration)
	if err != nil {
		return model.PriceQuote{}, err
	}
	side := entry.puts
	if call {
		side = entry.calls
	}
	ct, ok := matchStrike(side, strike)
	if !ok {
		return model.PriceQuote{}, nil
	}
	return toQuote(ct), nil
}

// ── Daily close series ──

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

// closeSeries returns the recent daily closes for a contract, oldest
// first, nil bars dropped. Cached for closeTTL: the series only gains a
// bar once per session.
func (c *Client) closeSeries(ctx context.Context, contractID string) ([]closePoint, error) {
	c.mu.Lock()
	if e, ok := c.closes[contractID]; ok && c.now().Sub(e.at) < c.closeTTL {
		c.mu.Unlock()
		return e.points, nil
	}
	c.mu.Unlock()

	if c.OnRequest != nil {
		c.OnRequest("chart")
	}
	q := url.Values{}
	q.Set("range", "10d")
	q.Set("interval", "1d")
	resp, err := c.sess.Get(ctx, "/v8/finance/chart/"+url.PathEscape(contractID), q)
	if err != nil {
		c.countError("chart")
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		c.countError("chart")
		return nil, fmt.Errorf("chart %s: status %d", contractID, resp.StatusCode)
	}

	var body chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.countError("chart")
		return nil, fmt.Errorf("chart %s: decode: %w", contractID, err)
	}

	var points []closePoint
	if len(body.Chart.Result) > 0 && len(body.Chart.Result[0].Indicators.Quote) > 0 {
		res := body.Chart.Result[0]
		closes := res.Indicators.Quote[0].Close
		for i, ts := range res.Timestamp {
			if i >= len(closes) || closes[i] == nil || *closes[i] <= 0 {
				continue
			}
			points = append(points, closePoint{ts: time.Unix(ts, 0), close: *closes[i]})
		}
	}

	c.mu.Lock()
	c.closes[contractID] = closeEntry{at: c.now(), points: points}
	c.mu.Unlock()
	return points, nil
}

// FetchPreviousClose returns the most recent daily close from a
// completed prior session: the last bar dated before today (Eastern),
// so a live partial bar for the current session never leaks in.
func (c *Client) FetchPreviousClose(ctx context.Context, contractID string) (float64, bool) {
	points, err := c.closeSeries(ctx, contractID)
	if err != nil {
		log.Printf("[feed] prev close %s: %v", contractID, err)
		return 0, false
	}
	today := dateEastern(c.now())
	for i := len(points) - 1; i >= 0; i-- {
		if dateEastern(points[i].ts).Before(today) {
			return points[i].close, true
		}
	}
	return 0, false
}

// BatchFetchPreviousClose fetches previous closes concurrently. Failed
// contracts are absent from the result.
func (c *Client) BatchFetchPreviousClose(ctx context.Context, contractIDs []string) map[string]float64 {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, c.concurrency)
		out = make(map[string]float64, len(contractIDs))
	)
	for _, id := range contractIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			if price, ok := c.FetchPreviousClose(ctx, id); ok {
				mu.Lock()
				out[id] = price
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return out
}

// FetchLastTradingDayChange derives the last completed session's move
// from the two most recent daily closes. Used after hours when the live
// quote carries no change data.
func (c *Client) FetchLastTradingDayChange(ctx context.Context, contractID string) (model.DayChange, bool) {
	points, err := c.closeSeries(ctx, contractID)
	if err != nil {
		log.Printf("[feed] day change %s: %v", contractID, err)
		return model.DayChange{}, false
	}
	if len(points) < 2 {
		return model.DayChange{}, false
	}
	last := points[len(points)-1].close
	prev := points[len(points)-2].close
	dc := model.DayChange{
		Change:    last - prev,
		LastClose: last,
		PrevClose: prev,
	}
	if prev > 0 {
		dc.ChangePercent = dc.Change / prev * 100
	}
	return dc, true
}

func (c *Client) countError(endpoint string) {
	if c.OnError != nil {
		c.OnError(endpoint)
	}
}

// dateEastern truncates an instant to its calendar date in the
// exchange's zone.
func dateEastern(t time.Time) time.Time {
	et := t.In(markethours.Eastern)
	return time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, markethours.Eastern)
}
