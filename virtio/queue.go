package virtio

import (
	"log/slog"

	"github.com/shady831213/terminus-spaceport/mem"
)

// QueueClient is the device-side implementation bound to a Queue. Receive
// is invoked once per newly-available descriptor chain head; returning
// (true, nil) tells the queue to advance past this entry and keep
// iterating, (false, nil) tells it to stop and leave the entry to be
// resumed later, and a non-nil error aborts the notification loop.
type QueueClient interface {
	Receive(q *Queue, head uint16) (cont bool, err error)
}

// Queue is a VirtIO split virtqueue: a descriptor table plus avail/used
// rings, all living in a shared guest-memory Region.
type Queue struct {
	maxQueueSize uint16
	memory       *mem.Region
	client       QueueClient
	log          *slog.Logger

	ready        bool
	queueSize    uint16
	lastAvailIdx uint16
	descAddr     uint64
	availAddr    uint64
	usedAddr     uint64
}

// NewQueue creates a Queue of at most maxQueueSize descriptors, backed by
// memory, notifying client as the driver makes buffers available.
func NewQueue(memory *mem.Region, maxQueueSize uint16, client QueueClient) *Queue {
	return &Queue{
		maxQueueSize: maxQueueSize,
		memory:       memory,
		client:       client,
		queueSize:    maxQueueSize,
		log:          slog.Default(),
	}
}

// SetLogger overrides the queue's logger (default slog.Default()).
func (q *Queue) SetLogger(l *slog.Logger) {
	q.log = l
}

// Reset clears all mutable queue state and restores queue_size to
// max_queue_size.
func (q *Queue) Reset() {
	q.ready = false
	q.queueSize = q.maxQueueSize
	q.lastAvailIdx = 0
	q.descAddr = 0
	q.availAddr = 0
	q.usedAddr = 0
}

// Memory returns the shared guest-memory Region backing this queue's
// descriptor table and rings, for a QueueClient to write WRITE buffers
// into directly (spec.md 4.5.5).
func (q *Queue) Memory() *mem.Region { return q.memory }

// MaxQueueSize returns the configured maximum descriptor count.
func (q *Queue) MaxQueueSize() uint16 { return q.maxQueueSize }

// Ready reports whether the queue has been initialized and marked ready.
func (q *Queue) Ready() bool { return q.ready }

// QueueSize returns the queue size clamped to max_queue_size.
func (q *Queue) QueueSize() uint16 {
	if q.queueSize > q.maxQueueSize || q.queueSize == 0 {
		return q.maxQueueSize
	}
	return q.queueSize
}

// SetQueueSize sets the (pre-clamp) queue size.
func (q *Queue) SetQueueSize(size uint16) { q.queueSize = size }

// SetAddresses configures the descriptor/avail/used table addresses.
func (q *Queue) SetAddresses(descAddr, availAddr, usedAddr uint64) {
	q.descAddr, q.availAddr, q.usedAddr = descAddr, availAddr, usedAddr
}

// Addresses returns the descriptor/avail/used table addresses.
func (q *Queue) Addresses() (descAddr, availAddr, usedAddr uint64) {
	return q.descAddr, q.availAddr, q.usedAddr
}

// DescAddr, AvailAddr and UsedAddr return the individual table addresses,
// for the MMIO register file's low/high split (spec.md 4.5.6).
func (q *Queue) DescAddr() uint64  { return q.descAddr }
func (q *Queue) AvailAddr() uint64 { return q.availAddr }
func (q *Queue) UsedAddr() uint64  { return q.usedAddr }

// SetDescAddrLow/SetDescAddrHigh set the low/high 32 bits of the
// descriptor table address, leaving the other half untouched — this is
// how the QueueDescLow/QueueDescHigh MMIO registers are wired.
func (q *Queue) SetDescAddrLow(v uint32)  { q.descAddr = setLow32(q.descAddr, v) }
func (q *Queue) SetDescAddrHigh(v uint32) { q.descAddr = setHigh32(q.descAddr, v) }

// SetAvailAddrLow/SetAvailAddrHigh are the avail-ring equivalents.
func (q *Queue) SetAvailAddrLow(v uint32)  { q.availAddr = setLow32(q.availAddr, v) }
func (q *Queue) SetAvailAddrHigh(v uint32) { q.availAddr = setHigh32(q.availAddr, v) }

// SetUsedAddrLow/SetUsedAddrHigh are the used-ring equivalents.
func (q *Queue) SetUsedAddrLow(v uint32)  { q.usedAddr = setLow32(q.usedAddr, v) }
func (q *Queue) SetUsedAddrHigh(v uint32) { q.usedAddr = setHigh32(q.usedAddr, v) }

func setLow32(cur uint64, v uint32) uint64 {
	return (cur &^ 0xffffffff) | uint64(v)
}

func setHigh32(cur uint64, v uint32) uint64 {
	return (cur & 0xffffffff) | (uint64(v) << 32)
}

// SetReady marks the queue ready (or not).
func (q *Queue) SetReady(ready bool) { q.ready = ready }

func (q *Queue) availRingSize() uint64 {
	return ringHeaderSize + uint64(q.QueueSize())*availElemSize
}

func (q *Queue) usedRingSize() uint64 {
	return ringHeaderSize + uint64(q.QueueSize())*usedElemSize
}

func (q *Queue) descTableSize() uint64 {
	return uint64(q.QueueSize()) * descMetaSize
}

// CheckInit validates that the queue is not already ready and that the
// desc table, avail ring (with header) and used ring (with header) each
// lie entirely inside the backing memory Region.
func (q *Queue) CheckInit() error {
	if q.ready {
		return &InvalidInitError{Msg: "queue is already ready"}
	}
	fit := func(base, size uint64) bool {
		return base >= q.memory.Info.Base && base+size <= q.memory.Info.End()
	}
	if !fit(q.descAddr, q.descTableSize()) {
		return &InvalidInitError{Msg: "descriptor table does not fit in memory"}
	}
	if !fit(q.availAddr, q.availRingSize()) {
		return &InvalidInitError{Msg: "avail ring does not fit in memory"}
	}
	if !fit(q.usedAddr, q.usedRingSize()) {
		return &InvalidInitError{Msg: "used ring does not fit in memory"}
	}
	return nil
}

func (q *Queue) descOffset(idx uint16) uint64 {
	return q.descAddr + uint64(idx)*descMetaSize
}

// ReadDesc reads descriptor idx from the descriptor table.
func (q *Queue) ReadDesc(idx uint16) (DescMeta, error) {
	var buf [descMetaSize]byte
	if err := q.memory.ReadBytes(q.descOffset(idx), buf[:]); err != nil {
		return DescMeta{}, &MemError{Err: err}
	}
	return decodeDescMeta(buf[:]), nil
}

// WriteDesc writes descriptor idx into the descriptor table.
func (q *Queue) WriteDesc(idx uint16, d DescMeta) error {
	var buf [descMetaSize]byte
	d.encode(buf[:])
	if err := q.memory.WriteBytes(q.descOffset(idx), buf[:]); err != nil {
		return &MemError{Err: err}
	}
	return nil
}

// ReadAvailHeader reads the avail ring's {flags, idx} header.
func (q *Queue) ReadAvailHeader() (flags, idx uint16, err error) {
	var buf [ringHeaderSize]byte
	if err := q.memory.ReadBytes(q.availAddr, buf[:]); err != nil {
		return 0, 0, &MemError{Err: err}
	}
	return leU16(buf[0:2]), leU16(buf[2:4]), nil
}

// ReadAvailEntry reads avail.ring[slot % queue_size].
func (q *Queue) ReadAvailEntry(slot uint16) (uint16, error) {
	off := q.availAddr + ringHeaderSize + uint64(slot%q.QueueSize())*availElemSize
	var buf [availElemSize]byte
	if err := q.memory.ReadBytes(off, buf[:]); err != nil {
		return 0, &MemError{Err: err}
	}
	return leU16(buf[:]), nil
}

// WriteAvailEntry writes head into avail.ring[slot % queue_size].
func (q *Queue) WriteAvailEntry(slot uint16, head uint16) error {
	off := q.availAddr + ringHeaderSize + uint64(slot%q.QueueSize())*availElemSize
	var buf [availElemSize]byte
	putLeU16(buf[:], head)
	if err := q.memory.WriteBytes(off, buf[:]); err != nil {
		return &MemError{Err: err}
	}
	return nil
}

// WriteAvailIdx writes the avail ring's idx header field.
func (q *Queue) WriteAvailIdx(idx uint16) error {
	var buf [2]byte
	putLeU16(buf[:], idx)
	if err := q.memory.WriteBytes(q.availAddr+2, buf[:]); err != nil {
		return &MemError{Err: err}
	}
	return nil
}

// ReadUsedIdx reads the used ring's idx header field.
func (q *Queue) ReadUsedIdx() (uint16, error) {
	var buf [2]byte
	if err := q.memory.ReadBytes(q.usedAddr+2, buf[:]); err != nil {
		return 0, &MemError{Err: err}
	}
	return leU16(buf[:]), nil
}

// ReadUsedEntry reads used.ring[slot % queue_size].
func (q *Queue) ReadUsedEntry(slot uint16) (UsedElem, error) {
	off := q.usedAddr + ringHeaderSize + uint64(slot%q.QueueSize())*usedElemSize
	var buf [usedElemSize]byte
	if err := q.memory.ReadBytes(off, buf[:]); err != nil {
		return UsedElem{}, &MemError{Err: err}
	}
	return decodeUsedElem(buf[:]), nil
}

// SetUsed writes a used element for descHead with the given total byte
// count, at the current used.idx slot, then increments used.idx. This is
// what a QueueClient calls from Receive once it has written all WRITE
// buffers in the chain.
func (q *Queue) SetUsed(descHead uint16, totalLen uint32) error {
	idx, err := q.ReadUsedIdx()
	if err != nil {
		return err
	}
	off := q.usedAddr + ringHeaderSize + uint64(idx%q.QueueSize())*usedElemSize
	var buf [usedElemSize]byte
	UsedElem{ID: uint32(descHead), Len: totalLen}.encode(buf[:])
	if err := q.memory.WriteBytes(off, buf[:]); err != nil {
		return &MemError{Err: err}
	}
	var idxBuf [2]byte
	putLeU16(idxBuf[:], idx+1)
	if err := q.memory.WriteBytes(q.usedAddr+2, idxBuf[:]); err != nil {
		return &MemError{Err: err}
	}
	return nil
}

// WalkChain walks the descriptor chain starting at head, following `next`
// links while DescFNext is set. It aborts after queue_size steps with
// *InvalidDescError to defeat a driver-induced cycle (spec.md 4.5.3).
func (q *Queue) WalkChain(head uint16) ([]DescMeta, error) {
	limit := int(q.QueueSize())
	chain := make([]DescMeta, 0, 4)
	idx := head
	for step := 0; ; step++ {
		if step >= limit {
			return nil, &InvalidDescError{Msg: "infinity descriptor chain"}
		}
		d, err := q.ReadDesc(idx)
		if err != nil {
			return nil, err
		}
		chain = append(chain, d)
		if d.Flags&DescFNext == 0 {
			break
		}
		idx = d.Next
	}
	return chain, nil
}

// NotifyClient drains newly-available descriptor chains from
// last_avail_idx up to the avail ring's current idx, invoking
// client.Receive for each. It requires the queue be Ready.
func (q *Queue) NotifyClient() error {
	if !q.ready {
		return ErrNotReady
	}
	_, availIdx, err := q.ReadAvailHeader()
	if err != nil {
		return err
	}
	for q.lastAvailIdx != availIdx {
		head, err := q.ReadAvailEntry(q.lastAvailIdx)
		if err != nil {
			return err
		}
		cont, err := q.client.Receive(q, head)
		if err != nil {
			return &ClientError{Msg: "receive failed", Err: err}
		}
		if !cont {
			q.log.Debug("virtio: client paused notification loop", "head", head)
			break
		}
		q.lastAvailIdx++
	}
	return nil
}

func leU16(b []byte) uint16       { return uint16(b[0]) | uint16(b[1])<<8 }
func putLeU16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
