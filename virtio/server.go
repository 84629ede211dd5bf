package virtio

import (
	"fmt"
	"sync"

	"github.com/shady831213/terminus-spaceport/mem"
)

// serverQueueState is the driver-side bookkeeping DefaultQueueServer keeps
// per queue: the free-descriptor chain head and how many descriptors are
// currently checked out to in-flight chains.
type serverQueueState struct {
	freeHead uint16
	numUsed  uint16
	lastUsed uint16
}

// DefaultQueueServer plays the driver side of the split-ring protocol: it
// allocates the desc/avail/used tables, hands descriptor chains to a
// device via add_to_queue/notify_queue, and reclaims them once the device
// reports them used. It is the Go-API stand-in for a real guest driver —
// an actual MMIO-programmed driver instead goes through Device's register
// file and manages its own free list on the other side of the queue.
type DefaultQueueServer struct {
	heap *mem.Heap

	mu    sync.Mutex
	state map[*Queue]*serverQueueState
}

// NewDefaultQueueServer creates a server that allocates the desc/avail/used
// tables for every queue it initializes from heap. heap must allocate
// within the same memory Region the queues are backed by.
func NewDefaultQueueServer(heap *mem.Heap) *DefaultQueueServer {
	return &DefaultQueueServer{heap: heap, state: make(map[*Queue]*serverQueueState)}
}

// InitQueue allocates the descriptor/avail/used tables for q from the
// server's heap (alignments 8/2/4 per spec.md 4.5.1/6), wires them into q,
// validates with CheckInit, marks q ready, and threads every descriptor
// into a free chain 0->1->...->N-1->0.
func (s *DefaultQueueServer) InitQueue(q *Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := q.QueueSize()
	descTable, err := s.heap.Alloc(uint64(qs)*descMetaSize, 8)
	if err != nil {
		return err
	}
	availRing, err := s.heap.Alloc(ringHeaderSize+uint64(qs)*availElemSize, 2)
	if err != nil {
		return err
	}
	usedRing, err := s.heap.Alloc(ringHeaderSize+uint64(qs)*usedElemSize, 4)
	if err != nil {
		return err
	}

	q.SetAddresses(descTable.Info.Base, availRing.Info.Base, usedRing.Info.Base)
	if err := q.CheckInit(); err != nil {
		return err
	}

	for i := uint16(0); i < qs; i++ {
		next := (i + 1) % qs
		if err := q.WriteDesc(i, DescMeta{Flags: DescFNext, Next: next}); err != nil {
			return err
		}
	}

	q.SetReady(true)
	s.state[q] = &serverQueueState{}
	return nil
}

// AddToQueue pops len(inputs)+len(outputs) descriptors off q's free list,
// one per input (device-readable, DescFNext) then one per output
// (device-writable, DescFNext|DescFWrite), clears DescFNext on the chain's
// last descriptor, and returns the chain's head index. It fails with
// *ServerError if both inputs and outputs are empty, the queue hasn't been
// initialized, or the chain would exceed the queue's current size.
func (s *DefaultQueueServer) AddToQueue(q *Queue, inputs, outputs []mem.MemInfo) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state[q]
	if st == nil {
		return 0, &ServerError{Msg: "add_to_queue: queue not initialized"}
	}
	total := len(inputs) + len(outputs)
	if total == 0 {
		return 0, &ServerError{Msg: "add_to_queue: inputs and outputs are both empty"}
	}
	qs := q.QueueSize()
	if uint16(total)+st.numUsed > qs {
		return 0, &ServerError{Msg: fmt.Sprintf("add_to_queue: %d new + %d in flight exceeds queue size %d", total, st.numUsed, qs)}
	}

	descs := make([]uint16, 0, total)
	cur := st.freeHead
	for i := 0; i < total; i++ {
		d, err := q.ReadDesc(cur)
		if err != nil {
			return 0, err
		}
		descs = append(descs, cur)
		cur = d.Next
	}
	st.freeHead = cur

	for i, idx := range descs {
		var info mem.MemInfo
		var flags uint16 = DescFNext
		if i < len(inputs) {
			info = inputs[i]
		} else {
			info = outputs[i-len(inputs)]
			flags |= DescFWrite
		}
		next := uint16(0)
		if i < len(descs)-1 {
			next = descs[i+1]
		} else {
			flags &^= DescFNext
		}
		if err := q.WriteDesc(idx, DescMeta{Addr: info.Base, Len: uint32(info.Size), Flags: flags, Next: next}); err != nil {
			return 0, err
		}
	}

	st.numUsed += uint16(total)
	return descs[0], nil
}

// NotifyQueue publishes head as newly available — avail.ring[idx %
// queue_size] = head, idx++ — then drives the queue's notification path
// (spec.md 4.5.4/4.5.5), invoking the bound QueueClient.
func (s *DefaultQueueServer) NotifyQueue(q *Queue, head uint16) error {
	_, idx, err := q.ReadAvailHeader()
	if err != nil {
		return err
	}
	if err := q.WriteAvailEntry(idx, head); err != nil {
		return err
	}
	if err := q.WriteAvailIdx(idx + 1); err != nil {
		return err
	}
	return q.NotifyClient()
}

// PopUsed returns the next unconsumed used-ring element, if any. ok is
// false when last_used_idx == used.idx (nothing new).
func (s *DefaultQueueServer) PopUsed(q *Queue) (elem UsedElem, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state[q]
	if st == nil {
		return UsedElem{}, false, &ServerError{Msg: "pop_used: queue not initialized"}
	}
	usedIdx, err := q.ReadUsedIdx()
	if err != nil {
		return UsedElem{}, false, err
	}
	if st.lastUsed == usedIdx {
		return UsedElem{}, false, nil
	}
	elem, err = q.ReadUsedEntry(st.lastUsed)
	if err != nil {
		return UsedElem{}, false, err
	}
	return elem, true, nil
}

// FreeUsed advances past the used element returned by PopUsed. Unless
// keepDesc is set, it walks the chain starting at used.ID and pushes every
// descriptor back onto the free-head, re-setting DescFNext on each as it
// goes.
func (s *DefaultQueueServer) FreeUsed(q *Queue, used UsedElem, keepDesc bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state[q]
	if st == nil {
		return &ServerError{Msg: "free_used: queue not initialized"}
	}
	if !keepDesc {
		idx := uint16(used.ID)
		for {
			d, err := q.ReadDesc(idx)
			if err != nil {
				return err
			}
			hasNext := d.Flags&DescFNext != 0
			next := d.Next
			if err := q.WriteDesc(idx, DescMeta{Flags: DescFNext, Next: st.freeHead}); err != nil {
				return err
			}
			st.freeHead = idx
			st.numUsed--
			if !hasNext {
				break
			}
			idx = next
		}
	}
	st.lastUsed++
	return nil
}
