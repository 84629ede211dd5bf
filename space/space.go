// Package space implements the bus's address map: an address-keyed
// collection of non-overlapping Regions with name-based lookup, plus a
// process-wide named registry of Spaces.
package space

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shady831213/terminus-spaceport/mem"
)

// RenamedError is returned by AddRegion when the requested name is already
// in use.
type RenamedError struct {
	Name string
}

func (e *RenamedError) Error() string {
	return fmt.Sprintf("space: region name %q already exists", e.Name)
}

// OverlapError is returned by AddRegion when the new region's interval
// intersects an existing region's interval.
type OverlapError struct {
	Name      string
	Other     string
	Info      mem.MemInfo
	OtherInfo mem.MemInfo
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("space: region %q %s overlaps %q %s", e.Name, e.Info, e.Other, e.OtherInfo)
}

// NotMappedError is returned when an address isn't covered by any region
// in the Space.
type NotMappedError struct {
	Addr uint64
}

func (e *NotMappedError) Error() string {
	return fmt.Sprintf("space: address %#x is not mapped", e.Addr)
}

type entry struct {
	name   string
	region *mem.Region
}

// Space is an address-keyed map of non-overlapping, uniquely-named Regions:
// the bus's address map. It is safe for concurrent use: region-table
// mutation (AddRegion/DeleteRegion) takes an exclusive lock; lookups take a
// shared lock just long enough to find the target Region, then release it
// before touching memory (the Region itself handles concurrent access).
type Space struct {
	mu      sync.RWMutex
	byBase  []entry // kept sorted by region.Info.Base
	byName  map[string]*mem.Region
}

// New creates an empty Space.
func New() *Space {
	return &Space{byName: make(map[string]*mem.Region)}
}

func (s *Space) indexOf(base uint64) int {
	return sort.Search(len(s.byBase), func(i int) bool { return s.byBase[i].region.Info.Base >= base })
}

// AddRegion inserts region under name. It fails with *RenamedError if the
// name is already taken, or *OverlapError if region's interval intersects
// any existing region's interval. On success it returns region back to
// the caller for convenience chaining.
func (s *Space) AddRegion(name string, region *mem.Region) (*mem.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[name]; ok {
		return nil, &RenamedError{Name: name}
	}
	for _, e := range s.byBase {
		if e.region.Info.Overlaps(region.Info) {
			return nil, &OverlapError{Name: name, Other: e.name, Info: region.Info, OtherInfo: e.region.Info}
		}
	}

	i := s.indexOf(region.Info.Base)
	s.byBase = append(s.byBase, entry{})
	copy(s.byBase[i+1:], s.byBase[i:])
	s.byBase[i] = entry{name: name, region: region}
	s.byName[name] = region
	return region, nil
}

// DeleteRegion removes the region registered under name, if any, and
// releases Space's hold on it — a Block/RootBlock releases its heap
// allocation and a Remap releases its target once nothing else retains
// them (spec.md 4.1.4).
func (s *Space) DeleteRegion(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	region, ok := s.byName[name]
	if !ok {
		return
	}
	delete(s.byName, name)
	defer region.Release()
	for i, e := range s.byBase {
		if e.name == name {
			s.byBase = append(s.byBase[:i], s.byBase[i+1:]...)
			break
		}
	}
}

// GetRegion looks up a region by name.
func (s *Space) GetRegion(name string) (*mem.Region, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byName[name]
	return r, ok
}

// GetRegionByAddr returns the unique region whose presented interval
// contains addr, or *NotMappedError if none does. The region table is
// kept sorted by base, so this is a binary search ("largest base <= addr,
// then check the interval") rather than a linear scan.
func (s *Space) GetRegionByAddr(addr uint64) (*mem.Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(addr + 1)
	if i == 0 {
		return nil, &NotMappedError{Addr: addr}
	}
	e := s.byBase[i-1]
	if e.region.Info.Contains(addr) {
		return e.region, nil
	}
	return nil, &NotMappedError{Addr: addr}
}

// ReadU8 looks up the region containing addr and delegates.
func (s *Space) ReadU8(addr uint64) (uint8, error) {
	r, err := s.GetRegionByAddr(addr)
	if err != nil {
		return 0, err
	}
	return r.ReadU8(addr)
}

// WriteU8 looks up the region containing addr and delegates.
func (s *Space) WriteU8(addr uint64, v uint8) error {
	r, err := s.GetRegionByAddr(addr)
	if err != nil {
		return err
	}
	return r.WriteU8(addr, v)
}

// ReadU16 looks up the region containing addr and delegates.
func (s *Space) ReadU16(addr uint64) (uint16, error) {
	r, err := s.GetRegionByAddr(addr)
	if err != nil {
		return 0, err
	}
	return r.ReadU16(addr)
}

// WriteU16 looks up the region containing addr and delegates.
func (s *Space) WriteU16(addr uint64, v uint16) error {
	r, err := s.GetRegionByAddr(addr)
	if err != nil {
		return err
	}
	return r.WriteU16(addr, v)
}

// ReadU32 looks up the region containing addr and delegates.
func (s *Space) ReadU32(addr uint64) (uint32, error) {
	r, err := s.GetRegionByAddr(addr)
	if err != nil {
		return 0, err
	}
	return r.ReadU32(addr)
}

// WriteU32 looks up the region containing addr and delegates.
func (s *Space) WriteU32(addr uint64, v uint32) error {
	r, err := s.GetRegionByAddr(addr)
	if err != nil {
		return err
	}
	return r.WriteU32(addr, v)
}

// ReadU64 looks up the region containing addr and delegates.
func (s *Space) ReadU64(addr uint64) (uint64, error) {
	r, err := s.GetRegionByAddr(addr)
	if err != nil {
		return 0, err
	}
	return r.ReadU64(addr)
}

// WriteU64 looks up the region containing addr and delegates.
func (s *Space) WriteU64(addr uint64, v uint64) error {
	r, err := s.GetRegionByAddr(addr)
	if err != nil {
		return err
	}
	return r.WriteU64(addr, v)
}

// ReadBytes looks up the region containing addr and delegates.
func (s *Space) ReadBytes(addr uint64, data []byte) error {
	r, err := s.GetRegionByAddr(addr)
	if err != nil {
		return err
	}
	return r.ReadBytes(addr, data)
}

// WriteBytes looks up the region containing addr and delegates.
func (s *Space) WriteBytes(addr uint64, data []byte) error {
	r, err := s.GetRegionByAddr(addr)
	if err != nil {
		return err
	}
	return r.WriteBytes(addr, data)
}

// String renders the region table, base-ordered, for diagnostics.
func (s *Space) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := "regions:\n"
	for _, e := range s.byBase {
		out += fmt.Sprintf("   %-10s(%-13s)  : %#016x -> %#016x\n", e.name, e.region.Kind(), e.region.Info.Base, e.region.Info.End()-1)
	}
	return out
}
