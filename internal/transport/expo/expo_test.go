package expo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"alertd/internal/transport"
	"alertd/pkg/alert"
	"alertd/pkg/logx"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func deliver(t *testing.T, endpoint string) (transport.PushOutcome, error) {
	t.Helper()
	tr := New(Config{Endpoint: endpoint, Timeout: 2 * time.Second}, logx.Nop())
	return tr.Deliver(context.Background(), "ExponentPushToken[abc]",
		alert.Alert{ID: 1, Title: "flood", Message: "m", Type: alert.TypeEmergency, Timestamp: time.Now()})
}

func TestDeliverOK(t *testing.T) {
	srv := serve(t, 200, `{"data":[{"status":"ok"}]}`)
	defer srv.Close()
	out, err := deliver(t, srv.URL)
	if err != nil || out != transport.PushDelivered {
		t.Fatalf("out=%v err=%v", out, err)
	}
}

func TestDeliverDeviceNotRegisteredIsPermanent(t *testing.T) {
	srv := serve(t, 200, `{"data":[{"status":"error","message":"gone","details":{"error":"DeviceNotRegistered"}}]}`)
	defer srv.Close()
	out, err := deliver(t, srv.URL)
	if out != transport.PushPermanentFailure {
		t.Fatalf("out=%v err=%v", out, err)
	}
}

func TestDeliverServerErrorIsTransient(t *testing.T) {
	for _, status := range []int{429, 500, 503} {
		srv := serve(t, status, "")
		out, _ := deliver(t, srv.URL)
		srv.Close()
		if out != transport.PushTransientFailure {
			t.Fatalf("status %d: out=%v", status, out)
		}
	}
}

func TestDeliverBadRequestIsPermanent(t *testing.T) {
	srv := serve(t, 400, "")
	defer srv.Close()
	out, _ := deliver(t, srv.URL)
	if out != transport.PushPermanentFailure {
		t.Fatalf("out=%v", out)
	}
}

func TestDeliverRequestShape(t *testing.T) {
	var got []pushMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"data":[{"status":"ok"}]}`))
	}))
	defer srv.Close()

	if _, err := deliver(t, srv.URL); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("request carried %d messages", len(got))
	}
	m := got[0]
	if m.To != "ExponentPushToken[abc]" || m.Title != "flood" || m.Priority != "high" {
		t.Fatalf("unexpected message: %+v", m)
	}
}
