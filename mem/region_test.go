package mem

import "testing"

func TestRegionRoundTripAllWidths(t *testing.T) {
	r := &Region{Info: MemInfo{Base: 0x1000, Size: 0x100}, backing: newModelBacking(MemInfo{Base: 0x1000, Size: 0x100})}
	r.refs = newRefCounted(nil)

	if err := r.WriteU8(0x1000, 0xab); err != nil {
		t.Fatal(err)
	}
	if v, err := r.ReadU8(0x1000); err != nil || v != 0xab {
		t.Fatalf("ReadU8 = %#x, %v", v, err)
	}

	if err := r.WriteU16(0x1002, 0xbeef); err != nil {
		t.Fatal(err)
	}
	if v, err := r.ReadU16(0x1002); err != nil || v != 0xbeef {
		t.Fatalf("ReadU16 = %#x, %v", v, err)
	}

	if err := r.WriteU32(0x1004, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	if v, err := r.ReadU32(0x1004); err != nil || v != 0xdeadbeef {
		t.Fatalf("ReadU32 = %#x, %v", v, err)
	}

	if err := r.WriteU64(0x1008, 0x0123456789abcdef); err != nil {
		t.Fatal(err)
	}
	if v, err := r.ReadU64(0x1008); err != nil || v != 0x0123456789abcdef {
		t.Fatalf("ReadU64 = %#x, %v", v, err)
	}

	data := []byte{1, 2, 3, 4, 5}
	if err := r.WriteBytes(0x1010, data); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(data))
	if err := r.ReadBytes(0x1010, got); err != nil {
		t.Fatal(err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("ReadBytes[%d] = %#x, want %#x", i, got[i], data[i])
		}
	}
}

func TestRegionMisalignedAccess(t *testing.T) {
	r := &Region{Info: MemInfo{Base: 0, Size: 0x100}, backing: newModelBacking(MemInfo{Base: 0, Size: 0x100})}
	r.refs = newRefCounted(nil)

	if _, err := r.ReadU16(1); err == nil {
		t.Fatalf("expected misalign error")
	} else if _, ok := err.(*MisalignError); !ok {
		t.Fatalf("expected *MisalignError, got %T", err)
	}
	if _, err := r.ReadU32(2); err == nil {
		t.Fatalf("expected misalign error")
	}
	if _, err := r.ReadU64(8 + 4); err == nil {
		t.Fatalf("expected misalign error")
	}
	// The byte accessor has no alignment requirement.
	if _, err := r.ReadU8(1); err != nil {
		t.Fatalf("ReadU8 should never misalign: %v", err)
	}
}

func TestRegionOutOfRange(t *testing.T) {
	r := &Region{Info: MemInfo{Base: 0x1000, Size: 0x10}, backing: newModelBacking(MemInfo{Base: 0x1000, Size: 0x10})}
	r.refs = newRefCounted(nil)

	if _, err := r.ReadU32(0x1000 + 0x10 - 2); err == nil {
		t.Fatalf("expected boundary-crossing access to fail")
	}
	if _, err := r.ReadU8(0x2000); err == nil {
		t.Fatalf("expected out-of-range access to fail")
	}
}

func TestRemapEquivalence(t *testing.T) {
	target, err := Alloc(0x100, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer target.Release()

	view := Remap(0x8000_0000, target)
	defer view.Release()

	if err := view.WriteU64(0x8000_0000+0x20, 0x5a5aa5a5aaaa5555); err != nil {
		t.Fatal(err)
	}
	want, err := target.ReadU64(target.Info.Base + 0x20)
	if err != nil {
		t.Fatal(err)
	}
	if want != 0x5a5aa5a5aaaa5555 {
		t.Fatalf("target.ReadU64 = %#x", want)
	}
	got, err := view.ReadU64(0x8000_0000 + 0x20)
	if err != nil || got != want {
		t.Fatalf("view.ReadU64 = %#x, %v; want %#x", got, err, want)
	}
}

func TestRemapPartialWindow(t *testing.T) {
	target, err := Alloc(0x100, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer target.Release()

	view := RemapPartial(0x9000_0000, target, 0x40, 0x20)
	defer view.Release()

	if view.Info.Size != 0x20 {
		t.Fatalf("presented size = %#x, want 0x20", view.Info.Size)
	}
	if err := view.WriteU32(0x9000_0000, 0x11223344); err != nil {
		t.Fatal(err)
	}
	got, err := target.ReadU32(target.Info.Base + 0x40)
	if err != nil || got != 0x11223344 {
		t.Fatalf("target.ReadU32 = %#x, %v", got, err)
	}
}

func TestRemapPartialRejectsWindowPastTarget(t *testing.T) {
	target, err := Alloc(0x10, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer target.Release()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for window exceeding target size")
		}
	}()
	RemapPartial(0, target, 0x8, 0x10)
}

// Scenario 1 (spec.md §8): global-heap alloc, remap, cross-width read.
func TestGlobalHeapAllocRemapScenario(t *testing.T) {
	r, err := Alloc(9, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Release()

	view := Remap(0x8000_0000, r)
	defer view.Release()

	if err := view.WriteU64(0x8000_0000, 0x5a5aa5a5aaaa5555); err != nil {
		t.Fatal(err)
	}
	got, err := view.ReadU32(0x8000_0000)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xaaaa5555 {
		t.Fatalf("ReadU32 = %#x, want 0xaaaa5555", got)
	}
}

func TestLazyModelDefaultsToZero(t *testing.T) {
	r, err := LazyAlloc(1<<40, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Release()

	v, err := r.ReadU64(r.Info.Base + 1<<30)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("untouched lazy address read %#x, want 0", v)
	}
	if err := r.WriteU8(r.Info.Base+5, 0x42); err != nil {
		t.Fatal(err)
	}
	if b, err := r.ReadU8(r.Info.Base + 5); err != nil || b != 0x42 {
		t.Fatalf("ReadU8 = %#x, %v", b, err)
	}
}

func TestHeapBlockSharesParentBacking(t *testing.T) {
	parent, err := Alloc(0x1000, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer parent.Release()

	h := NewHeap(parent)
	sub, err := h.Alloc(0x10, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Release()

	if err := sub.WriteU32(sub.Info.Base, 0xcafef00d); err != nil {
		t.Fatal(err)
	}
	got, err := parent.ReadU32(sub.Info.Base)
	if err != nil || got != 0xcafef00d {
		t.Fatalf("parent.ReadU32(sub base) = %#x, %v", got, err)
	}
}

type echoIO struct {
	DefaultIOAccess
	lastWrite uint32
}

func (e *echoIO) ReadU32(addr uint64) (uint32, error)  { return e.lastWrite, nil }
func (e *echoIO) WriteU32(addr uint64, v uint32) error { e.lastWrite = v; return nil }

func TestIORegionForwardsToHandler(t *testing.T) {
	h := &echoIO{}
	r := NewIORegion(0x4000_0000, 0x1000, h)

	if err := r.WriteU32(0x4000_0000+4, 0x99); err != nil {
		t.Fatal(err)
	}
	if h.lastWrite != 0x99 {
		t.Fatalf("handler.lastWrite = %#x", h.lastWrite)
	}
	if _, err := r.ReadU8(0x4000_0000); err == nil {
		t.Fatalf("expected DefaultIOAccess 'not implemented' error for ReadU8")
	}
}
