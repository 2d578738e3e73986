package telemetry

import "testing"

func TestRingEvictsOldestOnOverflow(t *testing.T) {
	r := NewRing[int](5)
	for i := 0; i < 12; i++ {
		r.Add(i)
	}

	if got := r.Len(); got != 5 {
		t.Fatalf("Len() = %d, want 5", got)
	}

	got := r.Snapshot()
	want := []int{7, 8, 9, 10, 11}
	if len(got) != len(want) {
		t.Fatalf("Snapshot() length = %d, want %d", len(got), len(want))
	}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("Snapshot()[%d] = %d, want %d", i, got[i], v)
		}
	}
	if got[len(got)-1] != 11 {
		t.Fatalf("last entry = %d, want 11 (most recently added)", got[len(got)-1])
	}
}

func TestRingBelowCapacityKeepsAll(t *testing.T) {
	r := NewRing[string](10)
	r.Add("a")
	r.Add("b")
	r.Add("c")

	got := r.Snapshot()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Snapshot() length = %d, want %d", len(got), len(want))
	}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("Snapshot()[%d] = %q, want %q", i, got[i], v)
		}
	}
}

func TestRingZeroCapacityTreatedAsOne(t *testing.T) {
	r := NewRing[int](0)
	r.Add(1)
	r.Add(2)

	got := r.Snapshot()
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("Snapshot() = %v, want [2]", got)
	}
}
