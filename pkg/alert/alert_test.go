package alert

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseTypeClosedSet(t *testing.T) {
	cases := map[string]Type{
		"warning":   TypeWarning,
		"emergency": TypeEmergency,
		"info":      TypeInfo,
		"EMERGENCY": TypeEmergency,
		" warning ": TypeWarning,
		"critical":  TypeInfo,
		"":          TypeInfo,
	}
	for in, want := range cases {
		if got := ParseType(in); got != want {
			t.Errorf("ParseType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCandidateValidate(t *testing.T) {
	ok := Candidate{Title: "Fire", Message: "Evacuate block 4", Type: "emergency"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid candidate rejected: %v", err)
	}

	for _, c := range []Candidate{
		{Title: "", Message: "x", Type: "info"},
		{Title: "x", Message: "", Type: "info"},
		{Title: "   ", Message: "x"},
	} {
		err := c.Validate()
		if err == nil {
			t.Fatalf("expected validation error for %+v", c)
		}
		if !errors.Is(err, ErrInvalidAlert) {
			t.Fatalf("expected ErrInvalidAlert, got %v", err)
		}
	}
}

func TestAlertUnmarshalNormalizesType(t *testing.T) {
	raw := `{"id":7,"title":"Flood","message":"Move uphill","type":"SEVERE","timestamp":"2026-01-02T03:04:05Z"}`
	var a Alert
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if a.Type != TypeInfo {
		t.Fatalf("unknown type should decode as info, got %q", a.Type)
	}
	if a.ID != 7 || a.Title != "Flood" {
		t.Fatalf("unexpected decode: %+v", a)
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if !a.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", a.Timestamp, want)
	}
}
