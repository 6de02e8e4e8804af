package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	infoPath = "/info"

	// defaultHistoryChunk bounds coins per fundingHistoryBatch request
	// to stay inside the venue request-size limit.
	defaultHistoryChunk = 25
	// defaultMaxInFlight bounds concurrent history requests per cycle.
	defaultMaxInFlight = 8
)

// ClientOptions parameterise the REST client.
type ClientOptions struct {
	BaseURL      string
	Timeout      time.Duration
	UserAgent    string
	HistoryChunk int
	MaxInFlight  int
}

// Client talks to the venue info endpoint and normalises responses into
// canonical snapshots. It remembers the last good snapshot set so a
// transport failure degrades to stale data instead of an empty result.
type Client struct {
	opts    ClientOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string

	mu       sync.Mutex
	lastGood *SnapshotSet
}

// NewClient constructs a venue REST client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.HistoryChunk <= 0 {
		opts.HistoryChunk = defaultHistoryChunk
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.hyperliquid.xyz"
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "venue_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// RefreshSnapshots fetches the combined metadata + per-asset context
// payload and returns one snapshot per asset. On transport failure the
// last known good set is returned, marked stale, together with the
// error.
func (c *Client) RefreshSnapshots(ctx context.Context) (SnapshotSet, error) {
	payload, err := c.post(ctx, infoRequest{Type: "metaAndAssetCtxs"})
	if err != nil {
		return c.staleFallback(), err
	}

	set, err := parseAssetContexts(payload, time.Now().UTC())
	if err != nil {
		return c.staleFallback(), err
	}
	if len(set.Assets) == 0 {
		return c.staleFallback(), &ParseError{Op: "metaAndAssetCtxs", Err: errors.New("no parseable assets")}
	}

	// Cache a copy: callers may mutate the returned map, and the
	// fallback must reflect what the venue actually served.
	cached := set
	cached.Assets = make(map[string]AssetSnapshot, len(set.Assets))
	for name, snap := range set.Assets {
		cached.Assets[name] = snap
	}
	c.mu.Lock()
	c.lastGood = &cached
	c.mu.Unlock()

	return set, nil
}

func (c *Client) staleFallback() SnapshotSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastGood == nil {
		return SnapshotSet{Assets: map[string]AssetSnapshot{}, Stale: true}
	}

	stale := SnapshotSet{
		Assets:    make(map[string]AssetSnapshot, len(c.lastGood.Assets)),
		FetchedAt: c.lastGood.FetchedAt,
		Stale:     true,
	}
	for name, snap := range c.lastGood.Assets {
		snap.Stale = true
		stale.Assets[name] = snap
	}
	return stale
}

// FundingHistoryBatch fetches historical funding points for the given
// coins over [from, to), chunked to respect the venue request-size
// limit. A failed chunk drops only its own coins; the remainder of the
// batch is still returned.
func (c *Client) FundingHistoryBatch(ctx context.Context, coins []string, from, to time.Time) (map[string][]FundingPoint, error) {
	if len(coins) == 0 {
		return map[string][]FundingPoint{}, nil
	}

	chunks := chunkCoins(coins, c.opts.HistoryChunk)

	var mu sync.Mutex
	result := make(map[string][]FundingPoint, len(coins))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(c.opts.MaxInFlight)

	for _, chunk := range chunks {
		chunk := chunk
		group.Go(func() error {
			points, err := c.fundingHistoryChunk(gctx, chunk, from, to)
			if err != nil {
				// Partial batch failure: log and keep going.
				c.logger.Warn().Err(err).Strs("coins", chunk).Msg("funding history chunk failed")
				return nil
			}
			mu.Lock()
			for coin, series := range points {
				result[coin] = series
			}
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

func (c *Client) fundingHistoryChunk(ctx context.Context, coins []string, from, to time.Time) (map[string][]FundingPoint, error) {
	payload, err := c.post(ctx, infoRequest{
		Type:      "fundingHistoryBatch",
		Coins:     coins,
		StartTime: from.UnixMilli(),
		EndTime:   to.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	var raw map[string][]fundingHistoryEntry
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &ParseError{Op: "fundingHistoryBatch", Err: err}
	}

	result := make(map[string][]FundingPoint, len(raw))
	for coin, entries := range raw {
		series := make([]FundingPoint, 0, len(entries))
		for _, entry := range entries {
			rate, err := strconv.ParseFloat(entry.FundingRate, 64)
			if err != nil {
				c.logger.Debug().Str("coin", coin).Str("raw", entry.FundingRate).Msg("skipping unparseable funding point")
				continue
			}
			series = append(series, FundingPoint{
				Asset:      coin,
				Rate:       rate,
				ObservedAt: time.UnixMilli(entry.Time).UTC(),
			})
		}
		sort.Slice(series, func(i, j int) bool { return series[i].ObservedAt.Before(series[j].ObservedAt) })
		result[coin] = series
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, reqPayload infoRequest) (json.RawMessage, error) {
	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + infoPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "hyperstats/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: reqPayload.Type, Err: err}
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: reqPayload.Type, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{
			Op:  reqPayload.Type,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payloadBytes))),
		}
	}

	return payloadBytes, nil
}

// parseAssetContexts decodes the [metadata, contexts] pair and zips
// asset names with their contexts by index. Malformed individual
// records are dropped, never the whole set.
func parseAssetContexts(payload json.RawMessage, now time.Time) (SnapshotSet, error) {
	var outer []json.RawMessage
	if err := json.Unmarshal(payload, &outer); err != nil {
		return SnapshotSet{}, &ParseError{Op: "metaAndAssetCtxs", Err: err}
	}
	if len(outer) < 2 {
		return SnapshotSet{}, &ParseError{Op: "metaAndAssetCtxs", Err: fmt.Errorf("expected [meta, contexts], got %d elements", len(outer))}
	}

	var meta assetMeta
	if err := json.Unmarshal(outer[0], &meta); err != nil {
		return SnapshotSet{}, &ParseError{Op: "metaAndAssetCtxs meta", Err: err}
	}
	names := meta.assetNames()
	if len(names) == 0 {
		return SnapshotSet{}, &ParseError{Op: "metaAndAssetCtxs meta", Err: errors.New("no asset names in metadata")}
	}

	var contexts []assetContext
	if err := json.Unmarshal(outer[1], &contexts); err != nil {
		return SnapshotSet{}, &ParseError{Op: "metaAndAssetCtxs contexts", Err: err}
	}

	set := SnapshotSet{
		Assets:    make(map[string]AssetSnapshot, len(contexts)),
		FetchedAt: now,
	}
	for i, asset := range contexts {
		if i >= len(names) || names[i] == "" {
			continue
		}
		snap, ok := asset.toSnapshot(names[i], now)
		if !ok {
			continue
		}
		set.Assets[snap.Asset] = snap
	}
	return set, nil
}

func chunkCoins(coins []string, size int) [][]string {
	if size <= 0 {
		size = defaultHistoryChunk
	}
	chunks := make([][]string, 0, (len(coins)+size-1)/size)
	for start := 0; start < len(coins); start += size {
		end := start + size
		if end > len(coins) {
			end = len(coins)
		}
		chunks = append(chunks, coins[start:end])
	}
	return chunks
}

type infoRequest struct {
	Type      string   `json:"type"`
	Coins     []string `json:"coins,omitempty"`
	StartTime int64    `json:"startTime,omitempty"`
	EndTime   int64    `json:"endTime,omitempty"`
}

type assetMeta struct {
	Universe []struct {
		Name string `json:"name"`
	} `json:"universe"`
	AssetMeta []struct {
		Name string `json:"name"`
	} `json:"assetMeta"`
}

func (m assetMeta) assetNames() []string {
	if len(m.AssetMeta) > 0 {
		names := make([]string, len(m.AssetMeta))
		for i, entry := range m.AssetMeta {
			names[i] = entry.Name
		}
		return names
	}
	names := make([]string, len(m.Universe))
	for i, entry := range m.Universe {
		names[i] = entry.Name
	}
	return names
}

// assetContext mirrors the venue per-asset context. Numeric fields
// arrive as JSON strings.
type assetContext struct {
	MarkPx       string `json:"markPx"`
	OpenInterest string `json:"openInterest"`
	Funding      string `json:"funding"`
	DayNtlVlm    string `json:"dayNtlVlm"`
}

func (a assetContext) toSnapshot(name string, now time.Time) (AssetSnapshot, bool) {
	markPx, ok := coerceFloat(a.MarkPx)
	if !ok {
		return AssetSnapshot{}, false
	}
	funding, ok := coerceFloat(a.Funding)
	if !ok {
		return AssetSnapshot{}, false
	}
	openInterest, _ := coerceFloat(a.OpenInterest)
	dayVolume, _ := coerceFloat(a.DayNtlVlm)

	return AssetSnapshot{
		Asset:        name,
		MarkPrice:    markPx,
		OpenInterest: openInterest,
		FundingRate:  funding,
		DayVolume:    dayVolume,
		ObservedAt:   now,
	}, true
}

func coerceFloat(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

type fundingHistoryEntry struct {
	Coin        string `json:"coin"`
	FundingRate string `json:"fundingRate"`
	Time        int64  `json:"time"`
}
