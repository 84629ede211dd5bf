package virtio

import "encoding/binary"

// Descriptor flags (spec.md 4.5.1).
const (
	DescFNext  uint16 = 0x1 // chained to another descriptor
	DescFWrite uint16 = 0x2 // device-writable
)

const (
	descMetaSize  = 16 // DescMeta: addr(8) + len(4) + flags(2) + next(2)
	ringHeaderSize = 4 // flags(2) + idx(2)
	availElemSize  = 2 // u16 descriptor index
	usedElemSize   = 8 // id(4) + len(4)
)

// DescMeta is one descriptor table entry, 16 bytes little-endian in
// memory: {addr, len, flags, next}.
type DescMeta struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

func (d DescMeta) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], d.Addr)
	binary.LittleEndian.PutUint32(buf[8:12], d.Len)
	binary.LittleEndian.PutUint16(buf[12:14], d.Flags)
	binary.LittleEndian.PutUint16(buf[14:16], d.Next)
}

func decodeDescMeta(buf []byte) DescMeta {
	return DescMeta{
		Addr:  binary.LittleEndian.Uint64(buf[0:8]),
		Len:   binary.LittleEndian.Uint32(buf[8:12]),
		Flags: binary.LittleEndian.Uint16(buf[12:14]),
		Next:  binary.LittleEndian.Uint16(buf[14:16]),
	}
}

// UsedElem is one used-ring entry, 8 bytes little-endian: {id, len}.
type UsedElem struct {
	ID  uint32
	Len uint32
}

func (u UsedElem) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], u.ID)
	binary.LittleEndian.PutUint32(buf[4:8], u.Len)
}

func decodeUsedElem(buf []byte) UsedElem {
	return UsedElem{
		ID:  binary.LittleEndian.Uint32(buf[0:4]),
		Len: binary.LittleEndian.Uint32(buf[4:8]),
	}
}
