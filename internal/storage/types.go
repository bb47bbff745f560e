package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AlertRecord is one archived published alert.
// Keep it compact and schema-stable.
type AlertRecord struct {
	ID        int64     `json:"id"`
	At        time.Time `json:"at"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Delivered int       `json:"delivered"` // live connections reached at publish time
	Pushed    int       `json:"pushed"`    // push deliveries enqueued
}
