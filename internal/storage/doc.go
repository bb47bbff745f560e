package storage

// Package storage provides the optional persistence layer of the broker.
//
// It currently supports:
//   - An append-only archive of published alerts (operational record; the
//     authoritative in-memory ring in internal/store stays the source of
//     truth for backfill)
//   - Push-notifier dedup state (to survive restarts)
