// Package registry tracks registered device identities: their push tokens
// and, while a duplex connection is open, the live connection handle.
//
// The registry exclusively owns the identity map. All mutation goes through
// Register/UpdatePushToken/Unregister under one mutex, so a concurrent
// enumeration sees an identity either fully registered or not at all.
package registry

import (
	"iter"
	"sync"

	"alertd/internal/transport"
	"alertd/pkg/logx"
)

// Identity is one registered device/session.
type Identity struct {
	ID        string
	PushToken string
	// Conn is nil while the device has no open duplex channel. The push
	// token outlives the connection.
	Conn transport.Conn
}

// Online reports whether the identity currently holds a live connection.
func (id Identity) Online() bool { return id.Conn != nil }

type Registry struct {
	mu  sync.Mutex
	ids map[string]*Identity
	log logx.Logger
}

func New(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		ids: make(map[string]*Identity),
		log: log.With(logx.String("comp", "registry")),
	}
}

// Register installs or replaces the live connection for identityID.
// A previously registered connection is closed as a side effect: at most
// one live connection per identity. A non-empty pushToken overwrites the
// stored token; an empty one leaves it untouched.
func (r *Registry) Register(identityID string, conn transport.Conn, pushToken string) {
	if identityID == "" || conn == nil {
		return
	}

	var replaced transport.Conn
	r.mu.Lock()
	id := r.ids[identityID]
	if id == nil {
		id = &Identity{ID: identityID}
		r.ids[identityID] = id
	}
	if id.Conn != nil && id.Conn.ID() != conn.ID() {
		replaced = id.Conn
	}
	id.Conn = conn
	if pushToken != "" {
		id.PushToken = pushToken
	}
	r.mu.Unlock()

	if replaced != nil {
		// Close outside the lock; Close may block on the writer teardown.
		_ = replaced.Close()
		r.log.Info("connection replaced",
			logx.String("identity", identityID),
			logx.String("old_conn", replaced.ID()),
			logx.String("new_conn", conn.ID()))
	} else {
		r.log.Info("identity registered",
			logx.String("identity", identityID),
			logx.String("conn", conn.ID()),
			logx.Bool("has_token", pushToken != ""))
	}
}

// UpdatePushToken attaches or updates a push token without requiring a live
// connection. An unknown identityID gets a token-only record: a device that
// registered its token before a broker restart must still be reachable via
// push.
func (r *Registry) UpdatePushToken(identityID, pushToken string) {
	if identityID == "" || pushToken == "" {
		return
	}
	r.mu.Lock()
	id := r.ids[identityID]
	if id == nil {
		id = &Identity{ID: identityID}
		r.ids[identityID] = id
	}
	id.PushToken = pushToken
	r.mu.Unlock()

	r.log.Debug("push token updated", logx.String("identity", identityID))
}

// ClearPushToken removes a token the push transport reported as invalid.
// The identity record itself is kept only if it still has a connection.
func (r *Registry) ClearPushToken(identityID string) {
	r.mu.Lock()
	if id := r.ids[identityID]; id != nil {
		id.PushToken = ""
		if id.Conn == nil {
			delete(r.ids, identityID)
		}
	}
	r.mu.Unlock()
	r.log.Info("push token cleared", logx.String("identity", identityID))
}

// ClearPushTokenByValue removes the given token wherever it is stored.
// Used when a delivery failure identifies the token but not the identity.
func (r *Registry) ClearPushTokenByValue(pushToken string) {
	if pushToken == "" {
		return
	}
	var cleared []string
	r.mu.Lock()
	for key, id := range r.ids {
		if id.PushToken != pushToken {
			continue
		}
		id.PushToken = ""
		if id.Conn == nil {
			delete(r.ids, key)
		}
		cleared = append(cleared, key)
	}
	r.mu.Unlock()
	for _, identity := range cleared {
		r.log.Info("push token cleared", logx.String("identity", identity))
	}
}

// Unregister drops the live connection for identityID, keeping the push
// token. Idempotent.
func (r *Registry) Unregister(identityID string) {
	r.mu.Lock()
	id := r.ids[identityID]
	if id != nil {
		id.Conn = nil
		if id.PushToken == "" {
			delete(r.ids, identityID)
		}
	}
	r.mu.Unlock()
	if id != nil {
		r.log.Info("identity unregistered", logx.String("identity", identityID))
	}
}

// UnregisterConn is the guard variant used by transport teardown: it only
// drops the connection if conn is still the registered one, so the deferred
// cleanup of a replaced connection cannot evict its successor.
func (r *Registry) UnregisterConn(identityID string, conn transport.Conn) {
	if conn == nil {
		r.Unregister(identityID)
		return
	}
	r.mu.Lock()
	id := r.ids[identityID]
	current := id != nil && id.Conn != nil && id.Conn.ID() == conn.ID()
	if current {
		id.Conn = nil
		if id.PushToken == "" {
			delete(r.ids, identityID)
		}
	}
	r.mu.Unlock()
	if current {
		r.log.Info("identity unregistered", logx.String("identity", identityID), logx.String("conn", conn.ID()))
	}
}

// ConnectionFor returns the live connection for identityID, or nil.
func (r *Registry) ConnectionFor(identityID string) transport.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id := r.ids[identityID]; id != nil {
		return id.Conn
	}
	return nil
}

// All returns a restartable sequence over the registered identities. Each
// iteration snapshots the current state under the registry lock, so a
// mid-registration identity is either fully visible or fully absent.
func (r *Registry) All() iter.Seq[Identity] {
	return func(yield func(Identity) bool) {
		r.mu.Lock()
		snapshot := make([]Identity, 0, len(r.ids))
		for _, id := range r.ids {
			snapshot = append(snapshot, *id)
		}
		r.mu.Unlock()

		for _, id := range snapshot {
			if !yield(id) {
				return
			}
		}
	}
}

// Len reports the number of known identities (online or token-only).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}
