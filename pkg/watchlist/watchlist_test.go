package watchlist

import (
	"testing"

	"github.com/tripwire/ratewatch/pkg/wire"
)

func TestSetAndGet(t *testing.T) {
	w := New(4)
	th := wire.Threshold{Limits: [4]uint32{0, 0, 0, 1000}}
	if err := w.Set("curl", th); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := w.Get("curl")
	if !ok {
		t.Fatal("expected curl to be present")
	}
	if got != th {
		t.Fatalf("Get = %+v, want %+v", got, th)
	}
	if _, ok := w.Get("wget"); ok {
		t.Fatal("expected wget to be absent")
	}
}

func TestSetReplacesExistingEntry(t *testing.T) {
	w := New(4)
	th1 := wire.Threshold{Limits: [4]uint32{0, 0, 0, 1000}}
	th2 := wire.Threshold{Limits: [4]uint32{0, 0, 0, 2000}}

	if err := w.Set("curl", th1); err != nil {
		t.Fatal(err)
	}
	if err := w.Set("curl", th2); err != nil {
		t.Fatal(err)
	}
	if w.Len() != 1 {
		t.Fatalf("Len = %d, want 1", w.Len())
	}
	got, _ := w.Get("curl")
	if got != th2 {
		t.Fatalf("Get = %+v, want %+v", got, th2)
	}
}

func TestCapacityFullRejectsNewKey(t *testing.T) {
	w := New(1)
	if err := w.Set("curl", wire.Threshold{}); err != nil {
		t.Fatal(err)
	}
	if err := w.Set("wget", wire.Threshold{}); err == nil {
		t.Fatal("expected capacity error inserting a second key into a 1-entry store")
	}
	// Replacing the existing key must still succeed even though full.
	if err := w.Set("curl", wire.Threshold{Limits: [4]uint32{1, 2, 3, 4}}); err != nil {
		t.Fatalf("replace at capacity: %v", err)
	}
}

func TestRemoveIsNoopWhenAbsent(t *testing.T) {
	w := New(4)
	w.Remove("nonexistent")
	if w.Len() != 0 {
		t.Fatalf("Len = %d, want 0", w.Len())
	}
}

func TestClearIdempotent(t *testing.T) {
	w := New(4)
	_ = w.Set("curl", wire.Threshold{})
	w.Clear()
	w.Clear()
	if w.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after double Clear", w.Len())
	}
}
