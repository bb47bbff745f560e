package store

import (
	"fmt"
	"sync"
	"testing"

	"alertd/pkg/alert"
)

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	s := New(10)
	for i := 1; i <= 5; i++ {
		a := s.Append(alert.Candidate{Title: "t", Message: "m", Type: "info"})
		if a.ID != int64(i) {
			t.Fatalf("append %d: id = %d", i, a.ID)
		}
		if a.Timestamp.IsZero() {
			t.Fatalf("append %d: timestamp not stamped", i)
		}
	}
	if got := s.LastID(); got != 5 {
		t.Fatalf("LastID = %d, want 5", got)
	}
}

func TestAppendConcurrentIDsUnique(t *testing.T) {
	s := New(DefaultCapacity)
	const n = 200

	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- s.Append(alert.Candidate{Title: "t", Message: "m"}).ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d unique ids, got %d", n, len(seen))
	}
}

func TestRecentNewestFirst(t *testing.T) {
	s := New(10)
	for i := 0; i < 3; i++ {
		s.Append(alert.Candidate{Title: fmt.Sprintf("t%d", i), Message: "m"})
	}
	got := s.Recent(10)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != 3 || got[1].ID != 2 || got[2].ID != 1 {
		t.Fatalf("not newest-first: %v %v %v", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestRingEvictsOldestPastCapacity(t *testing.T) {
	s := New(DefaultCapacity)
	for i := 0; i < DefaultCapacity+1; i++ {
		s.Append(alert.Candidate{Title: "t", Message: "m"})
	}

	recent := s.Recent(DefaultCapacity)
	if len(recent) != DefaultCapacity {
		t.Fatalf("len = %d, want %d", len(recent), DefaultCapacity)
	}
	// After 51 appends the first alert (id 1) is gone; ids 2..51 remain.
	if recent[0].ID != 51 {
		t.Fatalf("head id = %d, want 51", recent[0].ID)
	}
	if recent[len(recent)-1].ID != 2 {
		t.Fatalf("tail id = %d, want 2", recent[len(recent)-1].ID)
	}
	if s.Len() != DefaultCapacity {
		t.Fatalf("Len = %d, want %d", s.Len(), DefaultCapacity)
	}
}

func TestRecentLimit(t *testing.T) {
	s := New(10)
	for i := 0; i < 5; i++ {
		s.Append(alert.Candidate{Title: "t", Message: "m"})
	}
	if got := s.Recent(2); len(got) != 2 || got[0].ID != 5 {
		t.Fatalf("Recent(2) = %+v", got)
	}
	if got := s.Recent(0); len(got) != 5 {
		t.Fatalf("Recent(0) should return all, got %d", len(got))
	}
}
