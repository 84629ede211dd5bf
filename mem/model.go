package mem

import (
	"encoding/binary"
	"sync"
)

// modelBacking is an eager, contiguous, zero-initialized byte buffer of
// info.Size bytes. Reads/writes outside the buffer are not guarded here —
// Region performs the range check before ever reaching the backing.
type modelBacking struct {
	info  MemInfo
	mu    sync.Mutex
	bytes []byte
}

func newModelBacking(info MemInfo) *modelBacking {
	return &modelBacking{info: info, bytes: make([]byte, info.Size)}
}

func (m *modelBacking) offset(addr uint64) uint64 { return addr - m.info.Base }

func (m *modelBacking) ReadU8(addr uint64) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes[m.offset(addr)], nil
}

func (m *modelBacking) WriteU8(addr uint64, v uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes[m.offset(addr)] = v
	return nil
}

func (m *modelBacking) ReadBytes(addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := m.offset(addr)
	copy(data, m.bytes[off:off+uint64(len(data))])
	return nil
}

func (m *modelBacking) WriteBytes(addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := m.offset(addr)
	copy(m.bytes[off:off+uint64(len(data))], data)
	return nil
}

func (m *modelBacking) kind() string { return "Model" }

// The fast path: a contiguous buffer backs natural-width access directly
// via a slice decode instead of Region falling back to a byte loop.

func (m *modelBacking) ReadU16(addr uint64) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := m.offset(addr)
	return binary.LittleEndian.Uint16(m.bytes[off : off+2]), nil
}

func (m *modelBacking) WriteU16(addr uint64, v uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := m.offset(addr)
	binary.LittleEndian.PutUint16(m.bytes[off:off+2], v)
	return nil
}

func (m *modelBacking) ReadU32(addr uint64) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := m.offset(addr)
	return binary.LittleEndian.Uint32(m.bytes[off : off+4]), nil
}

func (m *modelBacking) WriteU32(addr uint64, v uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := m.offset(addr)
	binary.LittleEndian.PutUint32(m.bytes[off:off+4], v)
	return nil
}

func (m *modelBacking) ReadU64(addr uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := m.offset(addr)
	return binary.LittleEndian.Uint64(m.bytes[off : off+8]), nil
}

func (m *modelBacking) WriteU64(addr uint64, v uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := m.offset(addr)
	binary.LittleEndian.PutUint64(m.bytes[off:off+8], v)
	return nil
}

// lazyModelBacking is a sparse address->byte map; reads of untouched
// addresses return 0. Intended for huge, sparsely-used spaces where an
// eager byte buffer would be wasteful.
type lazyModelBacking struct {
	mu    sync.Mutex
	bytes map[uint64]byte
}

func newLazyModelBacking() *lazyModelBacking {
	return &lazyModelBacking{bytes: make(map[uint64]byte)}
}

func (m *lazyModelBacking) ReadU8(addr uint64) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes[addr], nil
}

func (m *lazyModelBacking) WriteU8(addr uint64, v uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes[addr] = v
	return nil
}

func (m *lazyModelBacking) ReadBytes(addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range data {
		data[i] = m.bytes[addr+uint64(i)]
	}
	return nil
}

func (m *lazyModelBacking) WriteBytes(addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range data {
		m.bytes[addr+uint64(i)] = b
	}
	return nil
}

func (m *lazyModelBacking) kind() string { return "LazyModel" }
