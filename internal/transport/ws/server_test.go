package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"alertd/internal/registry"
	"alertd/internal/store"
	"alertd/internal/transport"
	"alertd/pkg/alert"
	"alertd/pkg/logx"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, ring *store.Store) (*registry.Registry, string, func()) {
	t.Helper()
	reg := registry.New(logx.Nop())
	srv := NewServer(Config{}, reg, ring, nil, logx.Nop())
	hs := httptest.NewServer(srv.Handler())
	url := "ws" + strings.TrimPrefix(hs.URL, "http")
	return reg, url, hs.Close
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func writeEnvelope(t *testing.T, c *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := c.WriteJSON(transport.Envelope{Event: event, Data: data}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func readEnvelope(t *testing.T, c *websocket.Conn) transport.Envelope {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env transport.Envelope
	if err := c.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func waitRegistered(t *testing.T, reg *registry.Registry, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reg.ConnectionFor(id) != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("identity %s never registered", id)
}

func TestRegisterThenReceiveAlert(t *testing.T) {
	ring := store.New(store.DefaultCapacity)
	reg, url, closeSrv := newTestServer(t, ring)
	defer closeSrv()

	c := dial(t, url)
	defer c.Close()
	writeEnvelope(t, c, transport.EventRegister, transport.RegisterPayload{IdentityID: "device-1"})
	waitRegistered(t, reg, "device-1")

	a := ring.Append(alert.Candidate{Title: "flood", Message: "m", Type: "emergency"})
	if err := reg.ConnectionFor("device-1").Send(a); err != nil {
		t.Fatalf("send: %v", err)
	}

	env := readEnvelope(t, c)
	if env.Event != transport.EventAlert {
		t.Fatalf("event = %q", env.Event)
	}
	var got alert.Alert
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("unmarshal alert: %v", err)
	}
	if got.ID != a.ID || got.Type != alert.TypeEmergency {
		t.Fatalf("got %+v", got)
	}
}

func TestRegisterReplaysRecentAlerts(t *testing.T) {
	ring := store.New(store.DefaultCapacity)
	ring.Append(alert.Candidate{Title: "first", Message: "m"})
	ring.Append(alert.Candidate{Title: "second", Message: "m"})

	reg, url, closeSrv := newTestServer(t, ring)
	defer closeSrv()
	_ = reg

	c := dial(t, url)
	defer c.Close()
	writeEnvelope(t, c, transport.EventRegister, transport.RegisterPayload{IdentityID: "device-1"})

	// Oldest first, so the client buffer ends newest-at-head.
	var ids []int64
	for i := 0; i < 2; i++ {
		env := readEnvelope(t, c)
		if env.Event != transport.EventAlert {
			t.Fatalf("event = %q", env.Event)
		}
		var a alert.Alert
		if err := json.Unmarshal(env.Data, &a); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, a.ID)
	}
	if ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("replay order = %v, want [1 2]", ids)
	}
}

func TestRegisterWithoutIdentityGetsConnectError(t *testing.T) {
	ring := store.New(store.DefaultCapacity)
	_, url, closeSrv := newTestServer(t, ring)
	defer closeSrv()

	c := dial(t, url)
	defer c.Close()
	writeEnvelope(t, c, transport.EventRegister, transport.RegisterPayload{IdentityID: "  "})

	env := readEnvelope(t, c)
	if env.Event != transport.EventConnectError {
		t.Fatalf("event = %q, want connect_error", env.Event)
	}
	var p transport.ErrorPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.Error == "" {
		t.Fatal("empty error payload")
	}
}

func TestUpdatePushTokenStored(t *testing.T) {
	ring := store.New(store.DefaultCapacity)
	reg, url, closeSrv := newTestServer(t, ring)
	defer closeSrv()

	c := dial(t, url)
	defer c.Close()
	writeEnvelope(t, c, transport.EventRegister, transport.RegisterPayload{IdentityID: "device-1"})
	waitRegistered(t, reg, "device-1")

	writeEnvelope(t, c, transport.EventUpdatePushToken, transport.PushTokenPayload{
		IdentityID: "device-1", PushToken: "ExponentPushToken[xyz]",
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		found := false
		for id := range reg.All() {
			if id.ID == "device-1" && id.PushToken == "ExponentPushToken[xyz]" {
				found = true
			}
		}
		if found {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("push token never stored")
}

func TestDisconnectKeepsToken(t *testing.T) {
	ring := store.New(store.DefaultCapacity)
	reg, url, closeSrv := newTestServer(t, ring)
	defer closeSrv()

	c := dial(t, url)
	writeEnvelope(t, c, transport.EventRegister, transport.RegisterPayload{
		IdentityID: "device-1", PushToken: "tok",
	})
	waitRegistered(t, reg, "device-1")
	c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reg.ConnectionFor("device-1") == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if reg.ConnectionFor("device-1") != nil {
		t.Fatal("connection still registered after close")
	}
	for id := range reg.All() {
		if id.ID == "device-1" && id.PushToken == "tok" {
			return
		}
	}
	t.Fatal("push token lost on disconnect")
}

func TestReconnectReplacesConnection(t *testing.T) {
	ring := store.New(store.DefaultCapacity)
	reg, url, closeSrv := newTestServer(t, ring)
	defer closeSrv()

	c1 := dial(t, url)
	writeEnvelope(t, c1, transport.EventRegister, transport.RegisterPayload{IdentityID: "device-1"})
	waitRegistered(t, reg, "device-1")
	first := reg.ConnectionFor("device-1")

	c2 := dial(t, url)
	defer c2.Close()
	writeEnvelope(t, c2, transport.EventRegister, transport.RegisterPayload{IdentityID: "device-1"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cur := reg.ConnectionFor("device-1")
		if cur != nil && cur.ID() != first.ID() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cur := reg.ConnectionFor("device-1")
	if cur == nil || cur.ID() == first.ID() {
		t.Fatal("connection not replaced")
	}

	// The replaced socket's teardown must not evict the successor.
	c1.Close()
	time.Sleep(100 * time.Millisecond)
	if got := reg.ConnectionFor("device-1"); got == nil || got.ID() != cur.ID() {
		t.Fatal("successor evicted by replaced connection teardown")
	}
}

func TestReRegisterDifferentIdentityReleasesOld(t *testing.T) {
	ring := store.New(store.DefaultCapacity)
	reg, url, closeSrv := newTestServer(t, ring)
	defer closeSrv()

	c := dial(t, url)
	writeEnvelope(t, c, transport.EventRegister, transport.RegisterPayload{
		IdentityID: "old-id", PushToken: "tok-old",
	})
	waitRegistered(t, reg, "old-id")

	// Logout/login on the same socket: the old identity must drop its
	// connection handle so its push fallback stays reachable.
	writeEnvelope(t, c, transport.EventRegister, transport.RegisterPayload{IdentityID: "new-id"})
	waitRegistered(t, reg, "new-id")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reg.ConnectionFor("old-id") == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if reg.ConnectionFor("old-id") != nil {
		t.Fatal("old identity still holds the connection after re-register")
	}
	found := false
	for id := range reg.All() {
		if id.ID == "old-id" {
			found = true
			if id.PushToken != "tok-old" || id.Online() {
				t.Fatalf("old identity should be offline with its token: %+v", id)
			}
		}
	}
	if !found {
		t.Fatal("old identity lost its token-only record")
	}

	// Socket teardown unregisters only the current identity.
	c.Close()
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reg.ConnectionFor("new-id") == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if reg.ConnectionFor("new-id") != nil {
		t.Fatal("new identity still registered after socket close")
	}
}

func TestUnknownEventGetsConnectError(t *testing.T) {
	ring := store.New(store.DefaultCapacity)
	_, url, closeSrv := newTestServer(t, ring)
	defer closeSrv()

	c := dial(t, url)
	defer c.Close()
	writeEnvelope(t, c, "subscribe", map[string]string{"topic": "x"})
	env := readEnvelope(t, c)
	if env.Event != transport.EventConnectError {
		t.Fatalf("event = %q, want connect_error", env.Event)
	}
}
