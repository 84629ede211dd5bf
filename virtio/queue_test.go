package virtio

import (
	"testing"

	"github.com/shady831213/terminus-spaceport/mem"
)

type nopClient struct{}

func (nopClient) Receive(q *Queue, head uint16) (bool, error) { return true, nil }

func newTestQueueMemory(t *testing.T, size uint64) *mem.Region {
	t.Helper()
	r, err := mem.Alloc(size, 8)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Release)
	return r
}

func TestWalkChainDetectsCycle(t *testing.T) {
	memory := newTestQueueMemory(t, 0x1000)
	q := NewQueue(memory, 4, nopClient{})
	q.SetAddresses(memory.Info.Base, memory.Info.Base+0x100, memory.Info.Base+0x200)

	// Build a cycle: 0 -> 1 -> 0, both flagged NEXT.
	if err := q.WriteDesc(0, DescMeta{Flags: DescFNext, Next: 1}); err != nil {
		t.Fatal(err)
	}
	if err := q.WriteDesc(1, DescMeta{Flags: DescFNext, Next: 0}); err != nil {
		t.Fatal(err)
	}

	_, err := q.WalkChain(0)
	if err == nil {
		t.Fatalf("expected a cycle to be reported")
	}
	if _, ok := err.(*InvalidDescError); !ok {
		t.Fatalf("expected *InvalidDescError, got %T", err)
	}
}

func TestWalkChainStopsAtLastDescriptor(t *testing.T) {
	memory := newTestQueueMemory(t, 0x1000)
	q := NewQueue(memory, 4, nopClient{})
	q.SetAddresses(memory.Info.Base, memory.Info.Base+0x100, memory.Info.Base+0x200)

	if err := q.WriteDesc(0, DescMeta{Addr: 0x10, Len: 4, Flags: DescFNext, Next: 1}); err != nil {
		t.Fatal(err)
	}
	if err := q.WriteDesc(1, DescMeta{Addr: 0x20, Len: 8, Flags: DescFWrite}); err != nil {
		t.Fatal(err)
	}

	chain, err := q.WalkChain(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain length = %d, want 2", len(chain))
	}
	if chain[1].Flags&DescFNext != 0 {
		t.Fatalf("last descriptor should not carry DescFNext")
	}
}

func TestCheckInitRequiresTablesInsideMemory(t *testing.T) {
	memory := newTestQueueMemory(t, 0x100)
	q := NewQueue(memory, 4, nopClient{})
	q.SetAddresses(memory.Info.Base, memory.Info.Base+0x100, memory.Info.Base+0x200) // well past the 0x100-byte region

	if err := q.CheckInit(); err == nil {
		t.Fatalf("expected CheckInit to reject out-of-bounds tables")
	}
}
