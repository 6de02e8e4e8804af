package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hyperstats/internal/alerts"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func sampleAlert() alerts.FiredAlert {
	return alerts.FiredAlert{
		ConditionID:   1,
		SubscriberID:  "sub",
		Kind:          alerts.KindFunding,
		Asset:         "BTC",
		Comparison:    alerts.CompareCrosses,
		ObservedValue: 0.0003,
		Threshold:     0.0002,
		FiredAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTelegramDeliverSuccess(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat-42", srv.URL, time.Second, noopLogger())
	if err := n.Deliver(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	if gotPath != "/bottoken/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["chat_id"] != "chat-42" {
		t.Fatalf("unexpected chat id %q", gotBody["chat_id"])
	}
	if !strings.Contains(gotBody["text"], "BTC") || !strings.Contains(gotBody["text"], "annualized") {
		t.Fatalf("rendered text missing fields: %q", gotBody["text"])
	}
}

func TestTelegramDeliverHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat", srv.URL, time.Second, noopLogger())
	err := n.Deliver(context.Background(), sampleAlert())
	if err == nil {
		t.Fatal("HTTP 429 must surface an error")
	}
	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) || deliveryErr.Channel != "telegram" {
		t.Fatalf("expected telegram DeliveryError, got %v", err)
	}
}

func TestTelegramDeliverAPIFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat", srv.URL, time.Second, noopLogger())
	if err := n.Deliver(context.Background(), sampleAlert()); err == nil {
		t.Fatal("ok=false must surface an error")
	}
}

func TestRenderAlertPerKind(t *testing.T) {
	alert := sampleAlert()
	text := renderAlert(alert)
	if !strings.Contains(text, "Rate: 0.000300") {
		t.Fatalf("funding render missing rate: %q", text)
	}

	alert.Kind = alerts.KindLiquidation
	alert.Asset = ""
	alert.ObservedValue = 6
	text = renderAlert(alert)
	if !strings.Contains(text, "Largest cascade: 6") {
		t.Fatalf("liquidation render missing count: %q", text)
	}
	if strings.Contains(text, "Asset:") {
		t.Fatalf("venue-wide alert must not render an asset line: %q", text)
	}
}
