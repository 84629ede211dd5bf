// Package mem implements the guest physical address space substrate: the
// typed, width-aware Region access model, the first-fit allocator and its
// two heap tiers, and the IOAccess capability devices implement to appear
// as regions.
package mem

import "fmt"

// MemInfo describes a half-open interval [Base, Base+Size).
type MemInfo struct {
	Base uint64
	Size uint64
}

// End returns the first address past the interval.
func (m MemInfo) End() uint64 {
	return m.Base + m.Size
}

// Contains reports whether addr lies in [Base, Base+Size).
func (m MemInfo) Contains(addr uint64) bool {
	return addr >= m.Base && addr < m.End()
}

// Overlaps reports whether the two intervals share any address.
func (m MemInfo) Overlaps(o MemInfo) bool {
	return m.Base < o.End() && o.Base < m.End()
}

func (m MemInfo) String() string {
	return fmt.Sprintf("[%#016x, %#016x)", m.Base, m.End())
}

func alignDown(addr, align uint64) uint64 {
	if align == 0 {
		return addr
	}
	if align&(align-1) != 0 {
		panic(fmt.Sprintf("mem: align %#x must be a power of two", align))
	}
	return addr &^ (align - 1)
}

func alignUp(addr, align uint64) uint64 {
	if align == 0 {
		return addr
	}
	return alignDown(addr+align-1, align)
}
