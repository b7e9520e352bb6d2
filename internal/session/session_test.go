package session

import (
	"sync"
	"testing"
)

func TestStartMakesSessionCurrent(t *testing.T) {
	m := NewManager()

	id := m.Start()
	if id == None {
		t.Fatal("Start should not return the None sentinel")
	}

	if !m.IsValid(id) {
		t.Error("freshly started session should be valid")
	}

	if m.Current() != id {
		t.Errorf("expected current %s, got %s", id, m.Current())
	}
}

func TestOnlyLatestSessionIsValid(t *testing.T) {
	m := NewManager()

	var ids []ID
	for i := 0; i < 20; i++ {
		ids = append(ids, m.Start())
	}

	latest := ids[len(ids)-1]
	for i, id := range ids[:len(ids)-1] {
		if m.IsValid(id) {
			t.Errorf("session %d should be invalid once a newer one exists", i)
		}
	}

	if !m.IsValid(latest) {
		t.Error("latest session should be valid")
	}
}

func TestStaleSessionNeverResurrected(t *testing.T) {
	m := NewManager()

	first := m.Start()
	m.Start()
	m.InvalidateAll()
	m.Start()

	if m.IsValid(first) {
		t.Error("stale session must stay invalid")
	}
}

func TestSessionIDsAreDistinct(t *testing.T) {
	m := NewManager()
	seen := make(map[ID]bool)

	for i := 0; i < 1000; i++ {
		id := m.Start()
		if seen[id] {
			t.Fatalf("duplicate session id %s", id)
		}
		seen[id] = true
	}
}

func TestInvalidateAll(t *testing.T) {
	m := NewManager()

	id := m.Start()
	m.InvalidateAll()

	if m.IsValid(id) {
		t.Error("session should be invalid after InvalidateAll")
	}

	if m.Current() != None {
		t.Errorf("expected None after InvalidateAll, got %s", m.Current())
	}

	// None never counts as a valid session, even when the slot is empty
	if m.IsValid(None) {
		t.Error("None should never be valid")
	}
}

func TestGenerationCountsStarts(t *testing.T) {
	m := NewManager()

	if m.Generation() != 0 {
		t.Errorf("expected generation 0, got %d", m.Generation())
	}

	m.Start()
	m.Start()
	m.InvalidateAll()

	if m.Generation() != 2 {
		t.Errorf("expected generation 2, got %d", m.Generation())
	}
}

func TestShortID(t *testing.T) {
	if None.Short() != "none" {
		t.Errorf("expected 'none', got %q", None.Short())
	}

	id := NewManager().Start()
	if len(id.Short()) != 8 {
		t.Errorf("expected 8 chars, got %q", id.Short())
	}
}

func TestManagerConcurrentAccess(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Start()
		}()
		go func() {
			defer wg.Done()
			m.IsValid(m.Current())
		}()
	}

	wg.Wait()

	if m.Generation() != 50 {
		t.Errorf("expected generation 50, got %d", m.Generation())
	}

	if !m.IsValid(m.Current()) {
		t.Error("current session should be valid after concurrent starts")
	}
}
