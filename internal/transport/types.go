// Package transport defines the wire contract of the duplex alert channel
// and the interfaces the broker needs from its transports. Concrete
// implementations live in the subpackages (ws, expo).
package transport

import (
	"context"
	"encoding/json"

	"alertd/pkg/alert"
)

// Event names on the duplex channel. These match the protocol the mobile
// clients already speak.
const (
	EventRegister        = "register"
	EventUpdatePushToken = "updatePushToken"
	EventAlert           = "alert"
	EventConnectError    = "connect_error"
)

// Envelope frames every message on the duplex channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RegisterPayload is sent by a device right after the socket opens.
// PushToken is optional; an empty token leaves the stored one untouched.
type RegisterPayload struct {
	IdentityID string `json:"identityId"`
	PushToken  string `json:"pushToken,omitempty"`
}

// PushTokenPayload updates the push token independently of the connection
// lifecycle.
type PushTokenPayload struct {
	IdentityID string `json:"identityId"`
	PushToken  string `json:"pushToken"`
}

// ErrorPayload carries a connect_error description. Clients treat it as
// transient and keep their reconnect policy.
type ErrorPayload struct {
	Error string `json:"error"`
}

// EncodeAlert frames a finalized alert for the duplex channel. The dispatcher
// encodes once per publish and hands the same frame to every connection.
func EncodeAlert(a alert.Alert) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: EventAlert, Data: data})
}

// Conn is one live duplex connection as seen by the registry and the
// dispatcher. Send must not block on socket I/O: implementations enqueue
// onto a per-connection writer and report a full queue as an error.
type Conn interface {
	// ID identifies the connection instance (not the identity); a
	// replaced connection keeps its own id until closed.
	ID() string
	Send(a alert.Alert) error
	// SendFrame enqueues a frame already encoded with EncodeAlert, so a
	// fan-out can share one encoding across connections.
	SendFrame(frame []byte) error
	Close() error
}

// PushOutcome classifies one push delivery attempt.
type PushOutcome int

const (
	// PushDelivered means the transport accepted the notification.
	PushDelivered PushOutcome = iota
	// PushTransientFailure is retryable (timeouts, throttling, 5xx).
	PushTransientFailure
	// PushPermanentFailure is not retryable (invalidated token); the
	// caller is expected to prune the associated token.
	PushPermanentFailure
)

func (o PushOutcome) String() string {
	switch o {
	case PushDelivered:
		return "delivered"
	case PushTransientFailure:
		return "transient_failure"
	case PushPermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// PushTransport is the opaque push-notification service: given a device
// token and a small title/body payload, attempt delivery once.
type PushTransport interface {
	Deliver(ctx context.Context, token string, a alert.Alert) (PushOutcome, error)
}
