package space

import (
	"testing"

	"github.com/shady831213/terminus-spaceport/mem"
)

// Scenario 4 (spec.md §8): routing across two regions.
func TestSpaceRoutingScenario(t *testing.T) {
	s := New()

	a, err := mem.Alloc(0xc0000, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Release()
	aView := mem.Remap(0x200_0000, a)
	defer aView.Release()
	if _, err := s.AddRegion("A", aView); err != nil {
		t.Fatal(err)
	}

	b, err := mem.LazyAlloc(1<<32, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release()
	bView := mem.Remap(0x8000_0000, b)
	defer bView.Release()
	if _, err := s.AddRegion("B", bView); err != nil {
		t.Fatal(err)
	}

	if err := s.WriteU64(0x8000_0080, 0x1122334455667788); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadU64(0x8000_0080)
	if err != nil || got != 0x1122334455667788 {
		t.Fatalf("ReadU64(0x8000_0080) = %#x, %v", got, err)
	}

	if _, err := s.ReadU64(0x300_0000); err == nil {
		t.Fatalf("expected NotMapped for 0x300_0000")
	} else if _, ok := err.(*NotMappedError); !ok {
		t.Fatalf("expected *NotMappedError, got %T", err)
	}
}

func TestSpaceOverlapRejected(t *testing.T) {
	s := New()
	r1, _ := mem.Alloc(0x1000, 8)
	defer r1.Release()
	v1 := mem.Remap(0x1000, r1)
	defer v1.Release()
	if _, err := s.AddRegion("first", v1); err != nil {
		t.Fatal(err)
	}

	r2, _ := mem.Alloc(0x1000, 8)
	defer r2.Release()
	v2 := mem.Remap(0x1800, r2) // overlaps [0x1000, 0x2000)
	defer v2.Release()
	if _, err := s.AddRegion("second", v2); err == nil {
		t.Fatalf("expected Overlap error")
	} else if _, ok := err.(*OverlapError); !ok {
		t.Fatalf("expected *OverlapError, got %T", err)
	}
}

func TestSpaceRenameRejected(t *testing.T) {
	s := New()
	r1, _ := mem.Alloc(0x100, 8)
	defer r1.Release()
	v1 := mem.Remap(0x1000, r1)
	defer v1.Release()
	if _, err := s.AddRegion("dup", v1); err != nil {
		t.Fatal(err)
	}

	r2, _ := mem.Alloc(0x100, 8)
	defer r2.Release()
	v2 := mem.Remap(0x5000, r2)
	defer v2.Release()
	if _, err := s.AddRegion("dup", v2); err == nil {
		t.Fatalf("expected Renamed error")
	} else if _, ok := err.(*RenamedError); !ok {
		t.Fatalf("expected *RenamedError, got %T", err)
	}
}

func TestSpaceDeleteRegion(t *testing.T) {
	s := New()
	r, _ := mem.Alloc(0x100, 8)
	defer r.Release()
	v := mem.Remap(0x2000, r) // ownership transfers to s on AddRegion; DeleteRegion releases it
	if _, err := s.AddRegion("gone", v); err != nil {
		t.Fatal(err)
	}
	s.DeleteRegion("gone")
	if _, ok := s.GetRegion("gone"); ok {
		t.Fatalf("expected region to be gone after DeleteRegion")
	}
	if _, err := s.GetRegionByAddr(0x2000); err == nil {
		t.Fatalf("expected NotMapped after delete")
	}
}

func TestDefaultTableCreatesOnFirstLookup(t *testing.T) {
	table := DefaultTable
	a := table.GetSpace("bus0")
	b := table.GetSpace("bus0")
	if a != b {
		t.Fatalf("GetSpace should return the same Space for the same name")
	}
	c := table.GetSpace("bus1")
	if a == c {
		t.Fatalf("GetSpace should return distinct Spaces for distinct names")
	}
}
