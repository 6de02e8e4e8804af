package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConditionRow is the persisted form of an alert condition. Numeric
// thresholds round-trip through NUMERIC columns as decimals.
type ConditionRow struct {
	ID           int64
	SubscriberID string
	Kind         string
	Asset        string
	Comparison   string
	Threshold    decimal.Decimal
	Armed        bool
	LastFiredAt  *time.Time
	CreatedAt    time.Time
}

// AlertEventRow captures one emitted alert for auditing.
type AlertEventRow struct {
	ID            int64
	ConditionID   int64
	SubscriberID  string
	Kind          string
	Asset         string
	ObservedValue decimal.Decimal
	Threshold     decimal.Decimal
	FiredAt       time.Time
	CreatedAt     time.Time
}
