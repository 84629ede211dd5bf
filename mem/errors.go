package mem

import (
	"errors"
	"fmt"
)

// ErrOOM is returned by Heap.Alloc/LazyAlloc when no free block can satisfy
// the request. Unlike invalid-free or invalid-align, out-of-memory is
// recoverable: callers get it back as a plain error value.
var ErrOOM = errors.New("mem: oom")

// MisalignError is returned when a 16/32/64-bit access targets an address
// that isn't naturally aligned to its width.
type MisalignError struct {
	Addr uint64
}

func (e *MisalignError) Error() string {
	return fmt.Sprintf("mem: misaligned access at %#x", e.Addr)
}

// OutOfRangeError is returned when an access (of the given size) does not
// fit entirely inside a Region's presented MemInfo.
type OutOfRangeError struct {
	Addr   uint64
	Size   uint64
	Region MemInfo
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("mem: access %#x..%#x out of range %s", e.Addr, e.Addr+e.Size, e.Region)
}

// AccessError is a generic access failure, typically raised by an IOAccess
// implementer (including the "not implemented" default for an accessor a
// device chose not to override).
type AccessError struct {
	Addr uint64
	Msg  string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("mem: access error at %#x: %s", e.Addr, e.Msg)
}

// NewAccessError builds an AccessError with a formatted message.
func NewAccessError(addr uint64, format string, args ...interface{}) error {
	return &AccessError{Addr: addr, Msg: fmt.Sprintf(format, args...)}
}
