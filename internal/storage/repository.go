package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertConditionSQL = `INSERT INTO alert_conditions (
        id,
        subscriber_id,
        kind,
        asset,
        comparison,
        threshold,
        armed,
        last_fired_at,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (id) DO UPDATE
    SET armed         = EXCLUDED.armed,
        last_fired_at = EXCLUDED.last_fired_at;`

	deleteConditionSQL = `DELETE FROM alert_conditions WHERE id = $1;`

	listConditionsSQL = `SELECT
        id,
        subscriber_id,
        kind,
        asset,
        comparison,
        threshold,
        armed,
        last_fired_at,
        created_at
    FROM alert_conditions
    ORDER BY id;`

	insertAlertEventSQL = `INSERT INTO alert_events (
        condition_id,
        subscriber_id,
        kind,
        asset,
        observed_value,
        threshold,
        fired_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, condition_id, subscriber_id, kind, asset, observed_value, threshold, fired_at, created_at;`

	listRecentAlertEventsSQL = `SELECT
        id,
        condition_id,
        subscriber_id,
        kind,
        asset,
        observed_value,
        threshold,
        fired_at,
        created_at
    FROM alert_events
    ORDER BY fired_at DESC
    LIMIT $1;`

	deleteAlertEventsBeforeSQL = `DELETE FROM alert_events WHERE created_at < $1;`
)

// ConditionStore persists registered alert conditions so the registry
// survives restarts.
type ConditionStore interface {
	UpsertCondition(ctx context.Context, row ConditionRow) error
	DeleteCondition(ctx context.Context, id int64) error
	ListConditions(ctx context.Context) ([]ConditionRow, error)
}

// AlertEventStore audits fired alerts.
type AlertEventStore interface {
	InsertAlertEvent(ctx context.Context, event AlertEventRow) (AlertEventRow, error)
	ListRecentAlertEvents(ctx context.Context, limit int) ([]AlertEventRow, error)
	DeleteAlertEventsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// Store aggregates condition and alert-event persistence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertCondition inserts a condition or refreshes its mutable state.
func (s *Store) UpsertCondition(ctx context.Context, row ConditionRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, upsertConditionSQL,
		row.ID,
		row.SubscriberID,
		row.Kind,
		row.Asset,
		row.Comparison,
		row.Threshold.String(),
		row.Armed,
		row.LastFiredAt,
		row.CreatedAt,
	); execErr != nil {
		return fmt.Errorf("upsert condition: %w", execErr)
	}
	return nil
}

// DeleteCondition removes a persisted condition.
func (s *Store) DeleteCondition(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteConditionSQL, id); execErr != nil {
		return fmt.Errorf("delete condition: %w", execErr)
	}
	return nil
}

// ListConditions returns every persisted condition ordered by id.
func (s *Store) ListConditions(ctx context.Context) ([]ConditionRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listConditionsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list conditions: %w", queryErr)
	}
	defer rows.Close()

	conditions := make([]ConditionRow, 0)
	for rows.Next() {
		row, scanErr := scanCondition(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		conditions = append(conditions, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return conditions, nil
}

// InsertAlertEvent persists an alert emission.
func (s *Store) InsertAlertEvent(ctx context.Context, event AlertEventRow) (AlertEventRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertEventRow{}, err
	}

	row := pool.QueryRow(ctx, insertAlertEventSQL,
		event.ConditionID,
		event.SubscriberID,
		event.Kind,
		event.Asset,
		event.ObservedValue.String(),
		event.Threshold.String(),
		event.FiredAt,
	)
	return scanAlertEvent(row)
}

// ListRecentAlertEvents lists the most recent fired alerts.
func (s *Store) ListRecentAlertEvents(ctx context.Context, limit int) ([]AlertEventRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alert events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]AlertEventRow, 0, limit)
	for rows.Next() {
		event, scanErr := scanAlertEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// DeleteAlertEventsBefore prunes audit entries older than the cutoff
// and reports how many rows were removed.
func (s *Store) DeleteAlertEventsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertEventsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alert events: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func scanCondition(row pgx.Row) (ConditionRow, error) {
	var cond ConditionRow
	var thresholdStr string
	if err := row.Scan(
		&cond.ID,
		&cond.SubscriberID,
		&cond.Kind,
		&cond.Asset,
		&cond.Comparison,
		&thresholdStr,
		&cond.Armed,
		&cond.LastFiredAt,
		&cond.CreatedAt,
	); err != nil {
		return ConditionRow{}, fmt.Errorf("scan condition: %w", err)
	}

	var convErr error
	cond.Threshold, convErr = decimal.NewFromString(thresholdStr)
	if convErr != nil {
		return ConditionRow{}, fmt.Errorf("parse threshold: %w", convErr)
	}
	return cond, nil
}

func scanAlertEvent(row pgx.Row) (AlertEventRow, error) {
	var event AlertEventRow
	var observedStr, thresholdStr string
	if err := row.Scan(
		&event.ID,
		&event.ConditionID,
		&event.SubscriberID,
		&event.Kind,
		&event.Asset,
		&observedStr,
		&thresholdStr,
		&event.FiredAt,
		&event.CreatedAt,
	); err != nil {
		return AlertEventRow{}, fmt.Errorf("scan alert event: %w", err)
	}

	var convErr error
	event.ObservedValue, convErr = decimal.NewFromString(observedStr)
	if convErr != nil {
		return AlertEventRow{}, fmt.Errorf("parse observed value: %w", convErr)
	}
	event.Threshold, convErr = decimal.NewFromString(thresholdStr)
	if convErr != nil {
		return AlertEventRow{}, fmt.Errorf("parse threshold: %w", convErr)
	}
	return event, nil
}

var (
	_ ConditionStore  = (*Store)(nil)
	_ AlertEventStore = (*Store)(nil)
)
