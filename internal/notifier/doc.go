// Package notifier provides the asynchronous push delivery pipeline.
//
// Deliveries target devices that have no live socket at publish time. Each
// delivery is queued, rate limited, retried on transient failures with
// jittered exponential backoff, and deduplicated per (token, alert id)
// within a configurable window.
//
// # Transport
//
// The service delegates delivery to a transport.PushTransport implementation
// (e.g. the Expo adapter). This keeps provider-specific request formatting
// and outcome classification out of the pipeline. A permanently rejected
// token is reported on the event bus so the registry can drop it.
//
// # History
//
// For debugging and operator visibility, the service keeps a small in-memory
// history of recently delivered pushes.
package notifier
