package notifier

import "time"

// Config controls the async push pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

type HistoryItem struct {
	At      time.Time
	Token   string
	AlertID int64
	Title   string
}

// PushEvent is emitted on the event bus for push lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type PushEvent struct {
	Token   string    `json:"token"`
	AlertID int64     `json:"alert_id"`
	Key     string    `json:"key,omitempty"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
