package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"alertd/pkg/logx"
)

func TestFileStoreDedupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "alertd.db")}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	until := time.Now().Add(time.Hour)
	if err := st.PutDedup(ctx, "k1", until); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := st.GetDedup(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.UnixMilli() != until.UnixMilli() {
		t.Fatalf("until mismatch: got %v want %v", got, until)
	}
	if _, ok, _ := st.GetDedup(ctx, "missing"); ok {
		t.Fatal("missing key reported present")
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen: state must survive via journal replay.
	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	if _, ok, _ := st2.GetDedup(ctx, "k1"); !ok {
		t.Fatal("dedup entry lost across reopen")
	}
}

func TestFileStorePruneDropsExpired(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "alertd.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	if err := st.PutDedup(ctx, "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("put old: %v", err)
	}
	if err := st.PutDedup(ctx, "fresh", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("put fresh: %v", err)
	}
	if err := st.PruneDedup(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if _, ok, _ := st.GetDedup(ctx, "old"); ok {
		t.Fatal("expired entry survived prune")
	}
	if _, ok, _ := st.GetDedup(ctx, "fresh"); !ok {
		t.Fatal("fresh entry dropped by prune")
	}
}

func TestFileStoreAppendAlert(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "alertd.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	rec := AlertRecord{ID: 7, Title: "flood", Message: "river rising", Type: "emergency", Delivered: 3, Pushed: 1}
	if err := st.AppendAlert(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "alertd.alerts.jsonl"))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	line := strings.TrimSpace(string(b))
	if !strings.Contains(line, `"id":7`) || !strings.Contains(line, `"type":"emergency"`) {
		t.Fatalf("unexpected archive line: %s", line)
	}
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q: expected nil store", driver)
		}
	}
}
