package clock

import (
	"testing"
	"time"
)

func TestManual(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	m.Advance(1500 * time.Millisecond)
	if got := m.Now(); !got.Equal(start.Add(1500 * time.Millisecond)) {
		t.Fatalf("expected advanced time, got %v", got)
	}

	m.Set(start)
	if got := m.Now(); !got.Equal(start) {
		t.Fatalf("expected reset time, got %v", got)
	}
}

func TestFixed(t *testing.T) {
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.FixedZone("KST", 9*3600))
	c := NewFixed(at)
	if c.Now().Location() != time.UTC || !c.Now().Equal(at) {
		t.Fatalf("expected UTC instant equal to input, got %v", c.Now())
	}
}
