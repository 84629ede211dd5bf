package mem

import (
	"fmt"
	"sync"
)

// Allocator is a first-fit, coalescing block allocator over a fixed
// [Base, Base+Size) universe. It tracks free and allocated blocks as plain
// slices rather than the cons-list the original implementation used — the
// cons-list bought expressiveness, not performance; the semantics (first
// fit, coalesce on free, no required sort order) are unchanged.
type Allocator struct {
	info     MemInfo
	free     []MemInfo
	allocated []MemInfo
}

// NewAllocator creates an allocator whose universe is [base, base+size).
func NewAllocator(base, size uint64) *Allocator {
	return &Allocator{
		info: MemInfo{Base: base, Size: size},
		free: []MemInfo{{Base: base, Size: size}},
	}
}

// Alloc finds the first free block that can satisfy size with the requested
// alignment, splitting off head/tail fragments back onto the free list.
// It returns (MemInfo{}, false) on failure (out of memory); align must be a
// power of two or zero, else Alloc panics.
func (a *Allocator) Alloc(size, align uint64) (MemInfo, bool) {
	if align != 0 && align&(align-1) != 0 {
		panic(fmt.Sprintf("mem: invalid align %#x", align))
	}
	for i, block := range a.free {
		gap := alignUp(block.Base, align) - block.Base
		if block.Size < size+gap {
			continue
		}
		base := block.Base + gap
		a.free = append(a.free[:i], a.free[i+1:]...)
		if gap != 0 {
			a.free = append(a.free, MemInfo{Base: block.Base, Size: gap})
		}
		if tail := block.Size - size - gap; tail != 0 {
			a.free = append(a.free, MemInfo{Base: base + size, Size: tail})
		}
		result := MemInfo{Base: base, Size: size}
		a.allocated = append(a.allocated, result)
		return result, true
	}
	return MemInfo{}, false
}

// Free releases the allocation whose base is addr, coalescing it with any
// adjacent free blocks. It panics if addr is not currently the base of an
// allocated block.
func (a *Allocator) Free(addr uint64) {
	idx := -1
	for i, b := range a.allocated {
		if b.Base == addr {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic(fmt.Sprintf("mem: invalid free @%#x", addr))
	}
	info := a.allocated[idx]
	a.allocated = append(a.allocated[:idx], a.allocated[idx+1:]...)

	if i := a.findFreeBlock(func(b MemInfo) bool { return b.End() == info.Base }); i >= 0 {
		pre := a.free[i]
		a.free = append(a.free[:i], a.free[i+1:]...)
		info = MemInfo{Base: pre.Base, Size: pre.Size + info.Size}
	}
	if i := a.findFreeBlock(func(b MemInfo) bool { return info.End() == b.Base }); i >= 0 {
		post := a.free[i]
		a.free = append(a.free[:i], a.free[i+1:]...)
		info = MemInfo{Base: info.Base, Size: info.Size + post.Size}
	}
	a.free = append(a.free, info)
}

func (a *Allocator) findFreeBlock(pred func(MemInfo) bool) int {
	for i, b := range a.free {
		if pred(b) {
			return i
		}
	}
	return -1
}

// FreeBlocks returns a copy of the current free-block list, for testing
// allocator invariants.
func (a *Allocator) FreeBlocks() []MemInfo {
	out := make([]MemInfo, len(a.free))
	copy(out, a.free)
	return out
}

// AllocatedBlocks returns a copy of the current allocated-block list.
func (a *Allocator) AllocatedBlocks() []MemInfo {
	out := make([]MemInfo, len(a.allocated))
	copy(out, a.allocated)
	return out
}

// LockedAllocator wraps an Allocator with a mutex so it can be shared
// between concurrent callers.
type LockedAllocator struct {
	mu    sync.Mutex
	inner *Allocator
}

// NewLockedAllocator creates a mutex-guarded allocator over [base, base+size).
func NewLockedAllocator(base, size uint64) *LockedAllocator {
	return &LockedAllocator{inner: NewAllocator(base, size)}
}

// Alloc is the mutex-guarded equivalent of Allocator.Alloc.
func (a *LockedAllocator) Alloc(size, align uint64) (MemInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inner.Alloc(size, align)
}

// Free is the mutex-guarded equivalent of Allocator.Free.
func (a *LockedAllocator) Free(addr uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inner.Free(addr)
}
