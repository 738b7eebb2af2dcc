package memory

import "testing"

func TestSessionMemorySetGetClear(t *testing.T) {
	s := NewSessionMemory()
	s.Set("sess1", "k1", "v1")
	s.Set("sess1", "k2", 42)

	if v, ok := s.Get("sess1", "k1"); !ok || v != "v1" {
		t.Fatalf("expected v1, got %v ok=%v", v, ok)
	}
	if keys := s.Keys("sess1"); len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}

	s.Clear("sess1")
	if _, ok := s.Get("sess1", "k1"); ok {
		t.Fatal("expected cleared session to have no keys")
	}
}

func TestSessionMemoryIsolatesSessions(t *testing.T) {
	s := NewSessionMemory()
	s.Set("a", "k", "va")
	s.Set("b", "k", "vb")

	va, _ := s.Get("a", "k")
	vb, _ := s.Get("b", "k")
	if va == vb {
		t.Fatal("expected sessions to be isolated")
	}
}
