package venue

import (
	"testing"
	"time"
)

func TestParseMessageLiquidation(t *testing.T) {
	s := NewStream(StreamOptions{}, noopLogger())

	msg := []byte(`{"liquidation":{"asset":"eth","side":"short","size":12.5,"timestamp":1700000000}}`)
	event, ok := s.parseMessage(msg)
	if !ok {
		t.Fatal("valid liquidation should parse")
	}
	if event.Asset != "ETH" {
		t.Fatalf("asset should be upper-cased, got %q", event.Asset)
	}
	if event.Side != SideShort {
		t.Fatalf("expected short side, got %v", event.Side)
	}
	if event.Size != 12.5 {
		t.Fatalf("unexpected size %v", event.Size)
	}
	if !event.ObservedAt.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Fatalf("unexpected timestamp %v", event.ObservedAt)
	}
}

func TestParseMessageDefaultsToLongSide(t *testing.T) {
	s := NewStream(StreamOptions{}, noopLogger())

	event, ok := s.parseMessage([]byte(`{"liquidation":{"asset":"BTC","side":"buy","size":1}}`))
	if !ok {
		t.Fatal("valid liquidation should parse")
	}
	if event.Side != SideLong {
		t.Fatalf("unknown side should default to long, got %v", event.Side)
	}
	if event.ObservedAt.IsZero() {
		t.Fatal("missing timestamp should default to now")
	}
}

func TestParseMessageDropsAcksAndMalformed(t *testing.T) {
	s := NewStream(StreamOptions{}, noopLogger())

	cases := []string{
		`{"channel":"subscriptionResponse"}`,
		`{"liquidation":{"asset":"","size":5}}`,
		`{"liquidation":{"asset":"BTC","size":0}}`,
		`{"liquidation":{"asset":"BTC","size":-3}}`,
		`not json`,
	}
	for _, raw := range cases {
		if _, ok := s.parseMessage([]byte(raw)); ok {
			t.Fatalf("message %q should be dropped", raw)
		}
	}
}
