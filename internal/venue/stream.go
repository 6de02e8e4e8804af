package venue

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Backoff schedule for reconnecting the liquidation stream.
	streamBackoffBase = time.Second
	streamBackoffCap  = 30 * time.Second
	streamJitterPct   = 0.2

	streamReadDeadline = 60 * time.Second
	streamPingInterval = 25 * time.Second
)

// StreamOptions parameterise the liquidation stream.
type StreamOptions struct {
	WSURL string
}

// Stream maintains the venue WebSocket subscription for liquidation
// events. Disconnections reconnect with capped, jittered exponential
// backoff and resubscribe; events missed while disconnected are
// accepted data loss.
type Stream struct {
	wsURL  string
	logger zerolog.Logger
	rng    *rand.Rand
}

// NewStream constructs a liquidation stream.
func NewStream(opts StreamOptions, logger zerolog.Logger) *Stream {
	wsURL := strings.TrimSpace(opts.WSURL)
	if wsURL == "" {
		wsURL = "wss://api.hyperliquid.xyz/ws"
	}
	return &Stream{
		wsURL:  wsURL,
		logger: logger.With().Str("component", "venue_stream").Logger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run pushes liquidation events onto out until ctx is cancelled. The
// loop never returns on transport errors, only on shutdown.
func (s *Stream) Run(ctx context.Context, out chan<- LiquidationEvent, onReconnect func()) error {
	backoff := streamBackoffBase
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := s.consume(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn().Err(err).Dur("backoff", backoff).Msg("liquidation stream disconnected, retrying")
		if onReconnect != nil {
			onReconnect()
		}

		select {
		case <-time.After(s.jitter(backoff)):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > streamBackoffCap {
			backoff = streamBackoffCap
		}
	}
}

func (s *Stream) jitter(d time.Duration) time.Duration {
	// ±20% around the nominal delay.
	spread := float64(d) * streamJitterPct
	offset := (s.rng.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}

func (s *Stream) consume(ctx context.Context, out chan<- LiquidationEvent) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	defer conn.Close()

	sub := subscribeRequest{Method: "subscribe", Params: []string{"liquidation"}}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(sub); err != nil {
		return &TransportError{Op: "subscribe", Err: err}
	}

	s.logger.Info().Str("url", s.wsURL).Msg("liquidation stream connected")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(streamReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamReadDeadline))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return &TransportError{Op: "read", Err: err}
		}

		event, ok := s.parseMessage(message)
		if !ok {
			continue
		}

		select {
		case out <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Stream) parseMessage(message []byte) (LiquidationEvent, bool) {
	var env liquidationEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		s.logger.Debug().Err(err).Msg("dropping undecodable stream message")
		return LiquidationEvent{}, false
	}
	if env.Liquidation == nil {
		// Subscription acks and heartbeats carry no payload.
		return LiquidationEvent{}, false
	}

	raw := env.Liquidation
	if raw.Asset == "" || raw.Size <= 0 {
		s.logger.Debug().RawJSON("payload", message).Msg("dropping malformed liquidation record")
		return LiquidationEvent{}, false
	}

	side := SideLong
	if strings.EqualFold(raw.Side, "short") || strings.EqualFold(raw.Side, "s") {
		side = SideShort
	}

	observed := time.Now().UTC()
	if raw.Timestamp > 0 {
		observed = time.Unix(raw.Timestamp, 0).UTC()
	}

	return LiquidationEvent{
		Asset:      strings.ToUpper(raw.Asset),
		Side:       side,
		Size:       raw.Size,
		ObservedAt: observed,
	}, true
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type liquidationEnvelope struct {
	Liquidation *liquidationPayload `json:"liquidation"`
}

type liquidationPayload struct {
	Asset     string  `json:"asset"`
	Side      string  `json:"side"`
	Size      float64 `json:"size"`
	Timestamp int64   `json:"timestamp"`
}
