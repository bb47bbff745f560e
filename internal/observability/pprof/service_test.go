package pprof

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"alertd/pkg/logx"
)

func TestNormalizePrefix(t *testing.T) {
	cases := map[string]string{
		"":             "/debug/pprof/",
		"debug/pprof":  "/debug/pprof/",
		"/prof":        "/prof/",
		"/prof/":       "/prof/",
		"  /x/y  ":     "/x/y/",
		"/debug/pprof": "/debug/pprof/",
	}
	for in, want := range cases {
		if got := normalizePrefix(in); got != want {
			t.Errorf("normalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:6060": true,
		"[::1]:6060":     true,
		"0.0.0.0:6060":   false,
		":6060":          false,
		"10.0.0.5:6060":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestWithAuth(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

	t.Run("no token passes through", func(t *testing.T) {
		h := withAuth("", ok)
		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("code = %d", rr.Code)
		}
	})

	t.Run("bearer header", func(t *testing.T) {
		h := withAuth("s3cret", ok)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer s3cret")
		rr := httptest.NewRecorder()
		h(rr, r)
		if rr.Code != http.StatusOK {
			t.Fatalf("code = %d", rr.Code)
		}
	})

	t.Run("query token", func(t *testing.T) {
		h := withAuth("s3cret", ok)
		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest(http.MethodGet, "/?token=s3cret", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("code = %d", rr.Code)
		}
	})

	t.Run("wrong or missing token rejected", func(t *testing.T) {
		h := withAuth("s3cret", ok)
		for _, target := range []string{"/", "/?token=nope"} {
			rr := httptest.NewRecorder()
			h(rr, httptest.NewRequest(http.MethodGet, target, nil))
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("%s: code = %d, want 401", target, rr.Code)
			}
		}
	})
}

func TestRefusesInsecureNonLoopbackBind(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.serveOnce(ctx); err == nil {
		t.Fatal("insecure non-loopback bind accepted")
	}
}

func TestStartServeStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if s.ln != nil {
			addr = s.ln.Addr().String()
		}
		s.mu.Unlock()
		if addr != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("listener never came up")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz code = %d", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	s.Stop(stopCtx) // idempotent

	if _, err := http.Get("http://" + addr + "/healthz"); err == nil {
		t.Fatal("server still reachable after stop")
	}
}
