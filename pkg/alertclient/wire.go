package alertclient

import "encoding/json"

// Wire protocol of the duplex channel, mirrored here so the device-side
// library stays importable without the broker internals.

const (
	eventRegister        = "register"
	eventUpdatePushToken = "updatePushToken"
	eventAlert           = "alert"
	eventConnectError    = "connect_error"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type registerPayload struct {
	IdentityID string `json:"identityId"`
	PushToken  string `json:"pushToken,omitempty"`
}

type pushTokenPayload struct {
	IdentityID string `json:"identityId"`
	PushToken  string `json:"pushToken"`
}

type errorPayload struct {
	Error string `json:"error"`
}
