// Package irq implements a fixed-length vector of interrupt bits with
// bound handlers: the canonical "device interrupted the bus" coupling
// shared between devices and a bus.
package irq

import (
	"fmt"
	"sync"
)

const maxIrqs = 64

// UnknownIRQError is returned when an irq number is >= the vector's length.
type UnknownIRQError struct {
	Num int
}

func (e *UnknownIRQError) Error() string {
	return fmt.Sprintf("irq: unknown irq number %d", e.Num)
}

// ExistedHandlerError is returned by Binder.Bind when a handler is already
// bound to the given irq number.
type ExistedHandlerError struct {
	Num int
}

func (e *ExistedHandlerError) Error() string {
	return fmt.Sprintf("irq: handler already bound for irq %d", e.Num)
}

// IrqBit holds one interrupt's enable/pending state.
type IrqBit struct {
	Enable  bool
	Pending bool
}

// Handler is invoked inline, on the sender's goroutine, when an enabled
// irq fires. It must not re-enter the same IrqVec while holding any lock
// of its own that Send/Bind might need.
type Handler func()

// Vec is a fixed-length vector of interrupt bits and optional per-irq
// handlers. Its length is immutable after construction. It supports at
// most 64 irqs, since Pendings()/ClrPendings() are expressed as a single
// uint64 bitmask per spec.md 4.4/8.
type Vec struct {
	mu       sync.Mutex
	bits     []IrqBit
	handlers []Handler
}

// NewVec creates a Vec with len irqs, all initially disabled and
// not-pending. len must be <= 64.
func NewVec(len int) *Vec {
	if len > maxIrqs {
		panic(fmt.Sprintf("irq: vector length %d exceeds the %d-bit pendings mask", len, maxIrqs))
	}
	return &Vec{
		bits:     make([]IrqBit, len),
		handlers: make([]Handler, len),
	}
}

// Len returns the vector's length.
func (v *Vec) Len() int {
	return len(v.bits)
}

func (v *Vec) checkNum(num int) error {
	if num < 0 || num >= len(v.bits) {
		return &UnknownIRQError{Num: num}
	}
	return nil
}

// Enable reports whether irq num is enabled.
func (v *Vec) Enable(num int) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkNum(num); err != nil {
		return false, err
	}
	return v.bits[num].Enable, nil
}

// SetEnable sets irq num's enable bit.
func (v *Vec) SetEnable(num int, enable bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkNum(num); err != nil {
		return err
	}
	v.bits[num].Enable = enable
	return nil
}

// Pending reports whether irq num is pending.
func (v *Vec) Pending(num int) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkNum(num); err != nil {
		return false, err
	}
	return v.bits[num].Pending, nil
}

// SetPending sets irq num's pending bit.
func (v *Vec) SetPending(num int, pending bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkNum(num); err != nil {
		return err
	}
	v.bits[num].Pending = pending
	return nil
}

// Pendings returns the bitmask OR(1<<i) for every i where both enable[i]
// and pending[i] are set.
func (v *Vec) Pendings() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	var mask uint64
	for i, b := range v.bits {
		if b.Enable && b.Pending {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// ClrPendings clears the pending bit of every irq selected by mask.
func (v *Vec) ClrPendings(mask uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.bits {
		if mask&(1<<uint(i)) != 0 {
			v.bits[i].Pending = false
		}
	}
}

// Binder returns a handle for binding handlers to this vector's irqs.
func (v *Vec) Binder() *Binder {
	return &Binder{vec: v}
}

// Sender returns a cheaply-cloneable sender bound to irq num.
func (v *Vec) Sender(num int) (*Sender, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkNum(num); err != nil {
		return nil, err
	}
	return &Sender{vec: v, num: num}, nil
}

// Binder installs handlers on a Vec's irqs.
type Binder struct {
	vec *Vec
}

// Bind installs handler for irq num. It fails with *ExistedHandlerError if
// one is already bound, or *UnknownIRQError if num is out of range.
func (b *Binder) Bind(num int, handler Handler) error {
	b.vec.mu.Lock()
	defer b.vec.mu.Unlock()
	if err := b.vec.checkNum(num); err != nil {
		return err
	}
	if b.vec.handlers[num] != nil {
		return &ExistedHandlerError{Num: num}
	}
	b.vec.handlers[num] = handler
	return nil
}

// Sender is a clone-to-share handle capturing one irq number and a shared
// reference to its Vec. Devices retain Senders to signal interrupts.
type Sender struct {
	vec *Vec
	num int
}

// Clone returns an independent Sender for the same irq.
func (s *Sender) Clone() *Sender {
	return &Sender{vec: s.vec, num: s.num}
}

// Send clears pending, then — if the irq is enabled — sets pending and
// invokes the bound handler (if any), inline on the caller's goroutine. A
// disabled interrupt drops the event silently.
func (s *Sender) Send() error {
	s.vec.mu.Lock()
	if err := s.vec.checkNum(s.num); err != nil {
		s.vec.mu.Unlock()
		return err
	}
	s.vec.bits[s.num].Pending = false
	if !s.vec.bits[s.num].Enable {
		s.vec.mu.Unlock()
		return nil
	}
	s.vec.bits[s.num].Pending = true
	handler := s.vec.handlers[s.num]
	s.vec.mu.Unlock()

	if handler != nil {
		handler()
	}
	return nil
}

// Clear clears this irq's pending bit.
func (s *Sender) Clear() error {
	return s.vec.SetPending(s.num, false)
}

// Pending reports whether this irq is currently pending.
func (s *Sender) Pending() (bool, error) {
	return s.vec.Pending(s.num)
}
