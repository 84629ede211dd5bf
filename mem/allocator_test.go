package mem

import "testing"

func TestAllocatorFirstFitSequence(t *testing.T) {
	a := NewAllocator(1, 9) // universe [1, 10)

	want := []struct {
		size, align uint64
		base        uint64
	}{
		{4, 1, 1},
		{2, 4, 8},
		{1, 1, 5},
		{2, 1, 6},
	}
	for _, w := range want {
		info, ok := a.Alloc(w.size, w.align)
		if !ok {
			t.Fatalf("alloc(%d,%d): unexpected oom", w.size, w.align)
		}
		if info.Base != w.base || info.Size != w.size {
			t.Fatalf("alloc(%d,%d) = %s, want base %#x", w.size, w.align, info, w.base)
		}
	}

	if _, ok := a.Alloc(1, 1); ok {
		t.Fatalf("fifth alloc(1,1) should be oom")
	}
}

func TestAllocatorCoalescesOnFullFree(t *testing.T) {
	a := NewAllocator(1, 9)
	var bases []uint64
	sizes := []struct{ size, align uint64 }{{4, 1}, {2, 4}, {1, 1}, {2, 1}}
	for _, s := range sizes {
		info, ok := a.Alloc(s.size, s.align)
		if !ok {
			t.Fatalf("alloc(%d,%d) failed", s.size, s.align)
		}
		bases = append(bases, info.Base)
	}

	// Free in a different order than allocated.
	order := []int{2, 0, 3, 1}
	for _, i := range order {
		a.Free(bases[i])
	}

	free := a.FreeBlocks()
	if len(free) != 1 {
		t.Fatalf("expected a single coalesced free block, got %v", free)
	}
	want := MemInfo{Base: 1, Size: 9}
	if free[0] != want {
		t.Fatalf("coalesced free block = %s, want %s", free[0], want)
	}
	if allocated := a.AllocatedBlocks(); len(allocated) != 0 {
		t.Fatalf("expected no allocated blocks, got %v", allocated)
	}
}

func TestAllocatorFreeAndAllocatedPartitionUniverse(t *testing.T) {
	a := NewAllocator(0, 64)
	var allocs []MemInfo
	for i := 0; i < 5; i++ {
		info, ok := a.Alloc(7, 4)
		if !ok {
			t.Fatalf("alloc %d failed", i)
		}
		allocs = append(allocs, info)
	}
	// free a couple, keep the rest, then check the two lists partition the universe.
	a.Free(allocs[1].Base)
	a.Free(allocs[3].Base)

	free, allocated := a.FreeBlocks(), a.AllocatedBlocks()
	assertDisjoint(t, free)
	assertDisjoint(t, allocated)
	all := append(append([]MemInfo{}, free...), allocated...)
	assertDisjoint(t, all)
	var total uint64
	for _, b := range all {
		total += b.Size
	}
	if total != 64 {
		t.Fatalf("free+allocated cover %d bytes, want the whole 64-byte universe", total)
	}
}

func assertDisjoint(t *testing.T, blocks []MemInfo) {
	t.Helper()
	for i := range blocks {
		for j := range blocks {
			if i == j {
				continue
			}
			if blocks[i].Overlaps(blocks[j]) {
				t.Fatalf("blocks %s and %s overlap", blocks[i], blocks[j])
			}
		}
	}
}

func TestAllocatorInvalidFreePanics(t *testing.T) {
	a := NewAllocator(0, 16)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on invalid free")
		}
	}()
	a.Free(0x100)
}

func TestAllocatorInvalidAlignPanics(t *testing.T) {
	a := NewAllocator(0, 16)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on invalid align")
		}
	}()
	a.Alloc(1, 3)
}

func TestLockedAllocatorConcurrentAllocNeverDoubleIssuesABase(t *testing.T) {
	a := NewLockedAllocator(0, 4096)
	done := make(chan MemInfo, 64)
	for i := 0; i < 64; i++ {
		go func() {
			info, ok := a.Alloc(8, 8)
			if !ok {
				done <- MemInfo{}
				return
			}
			done <- info
		}()
	}
	seen := make(map[uint64]bool)
	for i := 0; i < 64; i++ {
		info := <-done
		if info.Size == 0 {
			continue
		}
		if seen[info.Base] {
			t.Fatalf("base %#x handed out twice", info.Base)
		}
		seen[info.Base] = true
	}
	if got := len(a.inner.AllocatedBlocks()); got != 64 {
		t.Fatalf("expected 64 allocated blocks, got %d", got)
	}
}
