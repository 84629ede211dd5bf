package mem

import (
	"fmt"
	"sync/atomic"
)

// backing is the byte-level capability every Region memory kind provides.
type backing interface {
	U8Access
	BytesAccess
	kind() string
}

// wideBacking is implemented by backings that can serve a natural-width
// access directly, without Region degrading to a byte loop.
type wideBacking interface {
	U16Access
	U32Access
	U64Access
}

// refCounted models the shared-ownership handle Design Note 9 asks for:
// a Region's backing may keep another Region (a remap target, or a heap's
// owned buffer) alive; the owned resource is released only when the last
// share drops. Region.Retain/Release are Go's explicit stand-in for the
// original's Rc/Arc clone-and-drop.
type refCounted struct {
	n    int32
	free func()
}

func newRefCounted(free func()) *refCounted {
	return &refCounted{n: 1, free: free}
}

func (r *refCounted) retain() {
	atomic.AddInt32(&r.n, 1)
}

func (r *refCounted) release() {
	if atomic.AddInt32(&r.n, -1) == 0 && r.free != nil {
		r.free()
	}
}

// Region is a leaf in the memory graph: a named or anonymous contiguous
// range in the guest physical address space, backed by exactly one of
// Model, LazyModel, Block, RootBlock, Remap or IO. Info is immutable after
// construction.
type Region struct {
	Info    MemInfo
	backing backing
	refs    *refCounted
}

// remapBacking is a view: Info is the presented window, target is the
// Region it projects into, and targetInfo is the window inside target.
type remapBacking struct {
	target     *Region
	targetInfo MemInfo
}

func (r *remapBacking) kind() string {
	return fmt.Sprintf("Remap(%s@%#016x -> %#016x)", r.target.backing.kind(), r.targetInfo.Base, r.targetInfo.End())
}

// remapBacking never answers accesses directly: Region.translateOnce routes
// around it into the target Region, so these methods are never called, but
// backing is an interface and must be satisfied.
func (r *remapBacking) ReadU8(addr uint64) (uint8, error)        { panic("mem: remap backing accessed directly") }
func (r *remapBacking) WriteU8(addr uint64, v uint8) error       { panic("mem: remap backing accessed directly") }
func (r *remapBacking) ReadBytes(addr uint64, data []byte) error { panic("mem: remap backing accessed directly") }
func (r *remapBacking) WriteBytes(addr uint64, data []byte) error {
	panic("mem: remap backing accessed directly")
}

// ioBacking forwards every access to a user-provided IOAccess implementer.
type ioBacking struct {
	handler IOAccess
}

func (b *ioBacking) ReadU8(addr uint64) (uint8, error)  { return b.handler.ReadU8(addr) }
func (b *ioBacking) WriteU8(addr uint64, v uint8) error { return b.handler.WriteU8(addr, v) }
func (b *ioBacking) ReadBytes(addr uint64, data []byte) error {
	return b.handler.ReadBytes(addr, data)
}
func (b *ioBacking) WriteBytes(addr uint64, data []byte) error {
	return b.handler.WriteBytes(addr, data)
}
func (b *ioBacking) kind() string { return "IO" }

func (b *ioBacking) ReadU16(addr uint64) (uint16, error)  { return b.handler.ReadU16(addr) }
func (b *ioBacking) WriteU16(addr uint64, v uint16) error { return b.handler.WriteU16(addr, v) }
func (b *ioBacking) ReadU32(addr uint64) (uint32, error)  { return b.handler.ReadU32(addr) }
func (b *ioBacking) WriteU32(addr uint64, v uint32) error { return b.handler.WriteU32(addr, v) }
func (b *ioBacking) ReadU64(addr uint64) (uint64, error)  { return b.handler.ReadU64(addr) }
func (b *ioBacking) WriteU64(addr uint64, v uint64) error { return b.handler.WriteU64(addr, v) }

// blockBacking is a sub-region handed out by a Heap. It forwards access
// through the parent Region's own methods (not its raw backing), so a
// sub-heap nested inside another view still gets that view's translation
// and alignment checks; release of the allocation is driven separately by
// the owning Region's refCounted.free, set up in Heap.Alloc.
type blockBacking struct {
	inner *Region
}

func (b *blockBacking) ReadU8(addr uint64) (uint8, error)  { return b.inner.ReadU8(addr) }
func (b *blockBacking) WriteU8(addr uint64, v uint8) error { return b.inner.WriteU8(addr, v) }
func (b *blockBacking) ReadBytes(addr uint64, data []byte) error {
	return b.inner.ReadBytes(addr, data)
}
func (b *blockBacking) WriteBytes(addr uint64, data []byte) error {
	return b.inner.WriteBytes(addr, data)
}
func (b *blockBacking) kind() string { return "Block" }

func (b *blockBacking) ReadU16(addr uint64) (uint16, error)  { return b.inner.ReadU16(addr) }
func (b *blockBacking) WriteU16(addr uint64, v uint16) error { return b.inner.WriteU16(addr, v) }
func (b *blockBacking) ReadU32(addr uint64) (uint32, error)  { return b.inner.ReadU32(addr) }
func (b *blockBacking) WriteU32(addr uint64, v uint32) error { return b.inner.WriteU32(addr, v) }
func (b *blockBacking) ReadU64(addr uint64) (uint64, error)  { return b.inner.ReadU64(addr) }
func (b *blockBacking) WriteU64(addr uint64, v uint64) error { return b.inner.WriteU64(addr, v) }

// --- construction operations (spec.md 4.1.3) ---

// NewIORegion wraps an IOAccess implementer as a Region.
func NewIORegion(base, size uint64, handler IOAccess) *Region {
	info := MemInfo{Base: base, Size: size}
	return &Region{Info: info, backing: &ioBacking{handler: handler}, refs: newRefCounted(nil)}
}

// Remap creates a view at newBase presenting the target Region's entire
// window.
func Remap(newBase uint64, target *Region) *Region {
	return RemapPartial(newBase, target, 0, target.Info.Size)
}

// RemapPartial creates a view at newBase presenting [target.Info.Base+offset,
// target.Info.Base+offset+size) of target. offset+size must not exceed
// target's size and offset must be 8-byte aligned.
func RemapPartial(newBase uint64, target *Region, offset, size uint64) *Region {
	if offset+size > target.Info.Size {
		panic("mem: remap_partial window exceeds target size")
	}
	if offset&0x7 != 0 {
		panic("mem: remap_partial offset must be 8-byte aligned")
	}
	target.Retain()
	info := MemInfo{Base: newBase, Size: size}
	targetInfo := MemInfo{Base: target.Info.Base + offset, Size: size}
	r := &Region{
		Info:    info,
		backing: &remapBacking{target: target, targetInfo: targetInfo},
	}
	r.refs = newRefCounted(func() { target.Release() })
	return r
}

// Retain adds a share to this Region's refcount (Go's stand-in for cloning
// an Arc/Rc handle). Every Retain must be matched by a Release.
func (r *Region) Retain() *Region {
	r.refs.retain()
	return r
}

// Release drops a share of this Region's refcount. When the last share
// drops, a Block/RootBlock releases its heap allocation and a Remap
// releases its hold on its target.
func (r *Region) Release() {
	r.refs.release()
}

// Kind reports the backing's type, mainly for diagnostics (Space's String).
func (r *Region) Kind() string {
	return r.backing.kind()
}

func (r *Region) rangeCheck(addr, size uint64) error {
	if addr < r.Info.Base || addr+size > r.Info.End() || addr+size < addr {
		return &OutOfRangeError{Addr: addr, Size: size, Region: r.Info}
	}
	return nil
}

// translateOnce applies one level of Remap translation, per spec.md 4.1.2
// step 2. It returns the Region accesses should actually be issued against
// and the translated address. Non-remap backings return r and addr
// unchanged; recursion happens naturally because the target may itself be
// a Remap.
func (r *Region) translateOnce(addr uint64) (*Region, uint64) {
	if rb, ok := r.backing.(*remapBacking); ok {
		translated := addr - r.Info.Base + rb.targetInfo.Base
		return rb.target.translateOnce(translated)
	}
	return r, addr
}

func checkAlign(addr, width uint64) error {
	if addr%width != 0 {
		return &MisalignError{Addr: addr}
	}
	return nil
}

// ReadU8 reads a single byte; no alignment requirement.
func (r *Region) ReadU8(addr uint64) (uint8, error) {
	if err := r.rangeCheck(addr, 1); err != nil {
		return 0, err
	}
	target, a := r.translateOnce(addr)
	return target.backing.ReadU8(a)
}

// WriteU8 writes a single byte; no alignment requirement.
func (r *Region) WriteU8(addr uint64, v uint8) error {
	if err := r.rangeCheck(addr, 1); err != nil {
		return err
	}
	target, a := r.translateOnce(addr)
	return target.backing.WriteU8(a, v)
}

// ReadBytes reads len(data) bytes starting at addr; no alignment
// requirement.
func (r *Region) ReadBytes(addr uint64, data []byte) error {
	if err := r.rangeCheck(addr, uint64(len(data))); err != nil {
		return err
	}
	target, a := r.translateOnce(addr)
	return target.backing.ReadBytes(a, data)
}

// WriteBytes writes data starting at addr; no alignment requirement.
func (r *Region) WriteBytes(addr uint64, data []byte) error {
	if err := r.rangeCheck(addr, uint64(len(data))); err != nil {
		return err
	}
	target, a := r.translateOnce(addr)
	return target.backing.WriteBytes(a, data)
}

// ReadU16 reads a little-endian uint16. addr must be 2-byte aligned.
func (r *Region) ReadU16(addr uint64) (uint16, error) {
	if err := r.rangeCheck(addr, 2); err != nil {
		return 0, err
	}
	if err := checkAlign(addr, 2); err != nil {
		return 0, err
	}
	target, a := r.translateOnce(addr)
	return readWide16(target.backing, a)
}

// WriteU16 writes a little-endian uint16. addr must be 2-byte aligned.
func (r *Region) WriteU16(addr uint64, v uint16) error {
	if err := r.rangeCheck(addr, 2); err != nil {
		return err
	}
	if err := checkAlign(addr, 2); err != nil {
		return err
	}
	target, a := r.translateOnce(addr)
	return writeWide16(target.backing, a, v)
}

// ReadU32 reads a little-endian uint32. addr must be 4-byte aligned.
func (r *Region) ReadU32(addr uint64) (uint32, error) {
	if err := r.rangeCheck(addr, 4); err != nil {
		return 0, err
	}
	if err := checkAlign(addr, 4); err != nil {
		return 0, err
	}
	target, a := r.translateOnce(addr)
	return readWide32(target.backing, a)
}

// WriteU32 writes a little-endian uint32. addr must be 4-byte aligned.
func (r *Region) WriteU32(addr uint64, v uint32) error {
	if err := r.rangeCheck(addr, 4); err != nil {
		return err
	}
	if err := checkAlign(addr, 4); err != nil {
		return err
	}
	target, a := r.translateOnce(addr)
	return writeWide32(target.backing, a, v)
}

// ReadU64 reads a little-endian uint64. addr must be 8-byte aligned.
func (r *Region) ReadU64(addr uint64) (uint64, error) {
	if err := r.rangeCheck(addr, 8); err != nil {
		return 0, err
	}
	if err := checkAlign(addr, 8); err != nil {
		return 0, err
	}
	target, a := r.translateOnce(addr)
	return readWide64(target.backing, a)
}

// WriteU64 writes a little-endian uint64. addr must be 8-byte aligned.
func (r *Region) WriteU64(addr uint64, v uint64) error {
	if err := r.rangeCheck(addr, 8); err != nil {
		return err
	}
	if err := checkAlign(addr, 8); err != nil {
		return err
	}
	target, a := r.translateOnce(addr)
	return writeWide64(target.backing, a, v)
}

// readWide16/writeWide16/... implement the fast/slow split of spec.md
// 4.1.2 step 3: use the backing's native width accessor when it offers
// one, else fall back to a byte loop via the byte accessor.

func readWide16(b backing, addr uint64) (uint16, error) {
	if wb, ok := b.(wideBacking); ok {
		return wb.ReadU16(addr)
	}
	var buf [2]byte
	if err := b.ReadBytes(addr, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

func writeWide16(b backing, addr uint64, v uint16) error {
	if wb, ok := b.(wideBacking); ok {
		return wb.WriteU16(addr, v)
	}
	buf := [2]byte{byte(v), byte(v >> 8)}
	return b.WriteBytes(addr, buf[:])
}

func readWide32(b backing, addr uint64) (uint32, error) {
	if wb, ok := b.(wideBacking); ok {
		return wb.ReadU32(addr)
	}
	var buf [4]byte
	if err := b.ReadBytes(addr, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

func writeWide32(b backing, addr uint64, v uint32) error {
	if wb, ok := b.(wideBacking); ok {
		return wb.WriteU32(addr, v)
	}
	buf := [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return b.WriteBytes(addr, buf[:])
}

func readWide64(b backing, addr uint64) (uint64, error) {
	if wb, ok := b.(wideBacking); ok {
		return wb.ReadU64(addr)
	}
	var buf [8]byte
	if err := b.ReadBytes(addr, buf[:]); err != nil {
		return 0, err
	}
	v := uint64(0)
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}

func writeWide64(b backing, addr uint64, v uint64) error {
	if wb, ok := b.(wideBacking); ok {
		return wb.WriteU64(addr, v)
	}
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v)
		v >>= 8
	}
	return b.WriteBytes(addr, buf[:])
}
