package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"alertd/internal/dispatch"
	"alertd/internal/registry"
	"alertd/internal/store"
	"alertd/pkg/alert"
	"alertd/pkg/logx"
)

func newTestAPI(authToken string) (http.Handler, *store.Store) {
	reg := registry.New(logx.Nop())
	ring := store.New(store.DefaultCapacity)
	disp := dispatch.New(reg, ring, nil, nil, nil, logx.Nop())
	srv := NewServer(Config{AuthToken: authToken}, disp, reg, nil, logx.Nop())
	return srv.Router(), ring
}

func postAlert(t *testing.T, h http.Handler, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/alerts", bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPublishAccepted(t *testing.T) {
	h, ring := newTestAPI("")
	rec := postAlert(t, h, "", `{"title":"flood","message":"move","type":"emergency"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var a alert.Alert
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatal(err)
	}
	if a.ID != 1 || a.Type != alert.TypeEmergency || a.Timestamp.IsZero() {
		t.Fatalf("alert = %+v", a)
	}
	if ring.Len() != 1 {
		t.Fatal("alert not stored")
	}
}

func TestPublishInvalidIs400(t *testing.T) {
	h, ring := newTestAPI("")
	rec := postAlert(t, h, "", `{"title":"","message":"m"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if ring.Len() != 0 {
		t.Fatal("invalid alert stored")
	}

	rec = postAlert(t, h, "", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rec.Code)
	}
}

func TestRecentNewestFirstWithLimit(t *testing.T) {
	h, _ := newTestAPI("")
	for _, title := range []string{"a", "b", "c"} {
		rec := postAlert(t, h, "", `{"title":"`+title+`","message":"m"}`)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("seed publish failed: %d", rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/alerts/recent?limit=2", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []alert.Alert
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != 3 || got[1].ID != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestRecentBadLimit(t *testing.T) {
	h, _ := newTestAPI("")
	req := httptest.NewRequest(http.MethodGet, "/v1/alerts/recent?limit=x", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	h, _ := newTestAPI("s3cret")

	if rec := postAlert(t, h, "", `{"title":"t","message":"m"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d", rec.Code)
	}
	if rec := postAlert(t, h, "wrong", `{"title":"t","message":"m"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", rec.Code)
	}
	if rec := postAlert(t, h, "s3cret", `{"title":"t","message":"m"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("valid token: status = %d", rec.Code)
	}

	// Health stays open.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}

func TestHealthPayload(t *testing.T) {
	h, _ := newTestAPI("")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
	if _, ok := body["goroutines"]; !ok {
		t.Fatal("missing goroutine counter")
	}
}
