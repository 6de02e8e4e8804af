package alerts

import (
	"errors"
	"math"
	"testing"
)

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	r := NewRegistry()

	first, err := r.Register("sub-1", KindFunding, "btc", CompareCrosses, 0.0001)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	second, err := r.Register("sub-1", KindVolume, "ETH", CompareAbove, 2.5)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("expected sequential ids, got %d then %d", first.ID, second.ID)
	}
	if first.Asset != "BTC" {
		t.Fatalf("asset should be upper-cased, got %q", first.Asset)
	}
	if !first.Armed {
		t.Fatal("new conditions must start armed")
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 conditions, got %d", r.Len())
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()

	cases := []struct {
		name       string
		subscriber string
		kind       Kind
		asset      string
		cmp        Comparison
		threshold  float64
	}{
		{"empty subscriber", "", KindFunding, "BTC", CompareCrosses, 0.0001},
		{"unknown kind", "sub", Kind("bogus"), "BTC", CompareAbove, 1},
		{"missing asset", "sub", KindFunding, "", CompareCrosses, 0.0001},
		{"unknown comparison", "sub", KindFunding, "BTC", Comparison("near"), 1},
		{"crosses needs positive threshold", "sub", KindFunding, "BTC", CompareCrosses, 0},
		{"nan threshold", "sub", KindVolume, "BTC", CompareAbove, math.NaN()},
		{"inf threshold", "sub", KindVolume, "BTC", CompareAbove, math.Inf(1)},
	}

	for _, tc := range cases {
		_, err := r.Register(tc.subscriber, tc.kind, tc.asset, tc.cmp, tc.threshold)
		if err == nil {
			t.Fatalf("%s: expected rejection", tc.name)
		}
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("%s: expected ConfigError, got %T", tc.name, err)
		}
	}

	if r.Len() != 0 {
		t.Fatalf("rejected conditions must not enter the registry, got %d", r.Len())
	}
}

func TestLiquidationKindAllowsEmptyAsset(t *testing.T) {
	r := NewRegistry()
	cond, err := r.Register("sub", KindLiquidation, "", CompareAbove, 5)
	if err != nil {
		t.Fatalf("venue-wide liquidation condition should register: %v", err)
	}
	if cond.Asset != "" {
		t.Fatalf("expected empty asset, got %q", cond.Asset)
	}
}

func TestRemoveRoundTrip(t *testing.T) {
	r := NewRegistry()
	cond, _ := r.Register("sub", KindFunding, "BTC", CompareCrosses, 0.0001)

	if !r.Remove(cond.ID) {
		t.Fatal("remove of existing condition should report true")
	}
	if r.Remove(cond.ID) {
		t.Fatal("second remove should report false")
	}
	if _, ok := r.Get(cond.ID); ok {
		t.Fatal("removed condition must be gone")
	}
	if got := r.ListBySubscriber("sub"); len(got) != 0 {
		t.Fatalf("subscriber index must be cleaned up, got %+v", got)
	}
}

func TestListBySubscriber(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", KindFunding, "BTC", CompareCrosses, 0.0001)
	r.Register("bob", KindVolume, "ETH", CompareAbove, 3)
	r.Register("alice", KindOpenInterest, "SOL", CompareAbove, 10)

	got := r.ListBySubscriber("alice")
	if len(got) != 2 {
		t.Fatalf("expected 2 conditions for alice, got %d", len(got))
	}
	if got[0].ID > got[1].ID {
		t.Fatal("conditions must be ordered by id")
	}
	if len(r.ListBySubscriber("nobody")) != 0 {
		t.Fatal("unknown subscriber should list nothing")
	}
}

func TestRestoreKeepsIDsAndSequence(t *testing.T) {
	r := NewRegistry()
	r.Restore([]Condition{
		{ID: 7, SubscriberID: "sub", Kind: KindFunding, Asset: "BTC", Comparison: CompareCrosses, Threshold: 0.0001, Armed: false},
		{ID: 3, SubscriberID: "sub", Kind: KindVolume, Asset: "ETH", Comparison: CompareAbove, Threshold: 2, Armed: true},
		{ID: 0, SubscriberID: "sub", Kind: KindVolume, Asset: "SOL", Comparison: CompareAbove, Threshold: 2},
	})

	if r.Len() != 2 {
		t.Fatalf("non-positive ids must be skipped, got %d conditions", r.Len())
	}
	restored, ok := r.Get(7)
	if !ok || restored.Armed {
		t.Fatalf("restored condition must keep its armed state: %+v", restored)
	}

	next, err := r.Register("sub", KindFunding, "SOL", CompareCrosses, 0.0001)
	if err != nil {
		t.Fatalf("register after restore failed: %v", err)
	}
	if next.ID != 8 {
		t.Fatalf("id sequence must advance past restored ids, got %d", next.ID)
	}
}
