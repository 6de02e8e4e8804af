package alerting

import (
	"context"

	"github.com/rs/zerolog"

	"hyperstats/internal/alerts"
)

const defaultQueueDepth = 128

// Dispatcher decouples alert production from delivery: the evaluator
// enqueues records synchronously and a single worker drains the queue
// through the notifier, so a slow channel never stalls a refresh
// cycle. Failed or overflowing deliveries are logged and dropped; no
// retry queue.
type Dispatcher struct {
	notifier Notifier
	queue    chan alerts.FiredAlert
	logger   zerolog.Logger
	onDrop   func()
}

// NewDispatcher constructs a dispatcher with a bounded queue. depth <=
// 0 falls back to the default. onDrop, if set, is invoked once per
// dropped record.
func NewDispatcher(notifier Notifier, depth int, logger zerolog.Logger, onDrop func()) *Dispatcher {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	return &Dispatcher{
		notifier: notifier,
		queue:    make(chan alerts.FiredAlert, depth),
		logger:   logger.With().Str("component", "alert_dispatcher").Logger(),
		onDrop:   onDrop,
	}
}

// Enqueue hands a record to the delivery worker without blocking. On a
// full queue the record is dropped and logged.
func (d *Dispatcher) Enqueue(alert alerts.FiredAlert) {
	select {
	case d.queue <- alert:
	default:
		d.logger.Warn().Int64("condition_id", alert.ConditionID).Msg("delivery queue full, dropping alert")
		d.drop()
	}
}

// Run drains the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case alert := <-d.queue:
			if d.notifier == nil {
				continue
			}
			if err := d.notifier.Deliver(ctx, alert); err != nil {
				d.logger.Error().Err(err).Int64("condition_id", alert.ConditionID).Msg("alert delivery failed, dropping record")
				d.drop()
			}
		}
	}
}

func (d *Dispatcher) drop() {
	if d.onDrop != nil {
		d.onDrop()
	}
}
