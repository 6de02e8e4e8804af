package venue

import (
	"fmt"
	"time"
)

// AssetSnapshot is the canonical per-asset market state for one refresh
// cycle. Snapshots are immutable; the next cycle supersedes them.
type AssetSnapshot struct {
	Asset        string
	MarkPrice    float64
	OpenInterest float64
	// FundingRate is the per-interval rate as quoted by the venue,
	// not annualized.
	FundingRate float64
	DayVolume   float64
	Stale       bool
	ObservedAt  time.Time
}

// SnapshotSet is the result of one refresh: every tracked asset keyed
// by symbol. Stale marks a set served from the last-known-good cache
// after a transport failure.
type SnapshotSet struct {
	Assets    map[string]AssetSnapshot
	FetchedAt time.Time
	Stale     bool
}

// LiquidationSide distinguishes forced closes of long vs short positions.
type LiquidationSide string

const (
	SideLong  LiquidationSide = "long"
	SideShort LiquidationSide = "short"
)

// LiquidationEvent is a single forced position closure pushed over the
// venue WebSocket.
type LiquidationEvent struct {
	Asset      string
	Side       LiquidationSide
	Size       float64
	ObservedAt time.Time
}

// FundingPoint is one historical funding observation for an asset.
type FundingPoint struct {
	Asset      string
	Rate       float64
	ObservedAt time.Time
}

// TransportError wraps network and timeout failures talking to the
// venue. The polling path surfaces it as staleness; the streaming path
// retries with backoff.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("venue transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError marks a malformed or structurally invalid venue payload.
// Individual malformed records are skipped; a ParseError on the whole
// body fails the request.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("venue parse: %s: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
