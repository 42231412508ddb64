// Package memory implements demand-paged virtual memory for CSOPESY's
// simulated processes: per-process page tables, a shared physical frame
// table, FIFO-by-sweep-pointer replacement, and a file-backed store for
// evicted pages.
//
// None of the exported methods here take a lock. The scheduler owns the
// single coarse mutex the spec calls for (see internal/scheduler) and is
// expected to hold it across every call into this package — that is what
// keeps the FIFO sweep pointer, the frame table, and the paging counters
// consistent.
package memory

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/loscuervos/csopesy/internal/process"
)

// StatsSink lets the scheduler observe paging traffic without this
// package importing the scheduler — the back-reference the spec calls
// "statsSink" is this interface, installed once via SetStatsSink.
type StatsSink interface {
	PagedIn()
	PagedOut()
}

type pageTableEntry struct {
	frameNumber int
	valid       bool
	dirty       bool
	referenced  bool
}

type pageTable struct {
	entries []pageTableEntry
}

type frame struct {
	id       int
	owner    *process.PCB
	vpn      int
	occupied bool
	dirty    bool
}

// FrameInfo is a read-only snapshot of one physical frame, for
// process-smi/vmstat style reporting.
type FrameInfo struct {
	ID          int
	OwnerName   string
	Occupied    bool
	VirtualPage int
}

// Manager is the memory manager: physical frame table, per-process page
// tables, the FIFO sweep pointer, and the backing store.
type Manager struct {
	frameSize int
	totalMem  int

	physical []byte
	frames   []frame
	tables   map[uint64]*pageTable
	sweep    int

	backing *backingStore
	sink    StatsSink
}

// New builds a memory manager over totalMem bytes of physical memory
// split into frameSize-byte frames, with pages evicted to backingPath.
func New(totalMem, frameSize int, backingPath string) (*Manager, error) {
	if frameSize <= 0 || totalMem <= 0 || totalMem%frameSize != 0 {
		return nil, fmt.Errorf("memory: frameSize (%d) must evenly divide totalMem (%d)", frameSize, totalMem)
	}

	totalFrames := totalMem / frameSize
	frames := make([]frame, totalFrames)
	for i := range frames {
		frames[i].id = i
	}

	backing, err := openBackingStore(backingPath, frameSize)
	if err != nil {
		return nil, fmt.Errorf("memory: opening backing store: %w", err)
	}

	return &Manager{
		frameSize: frameSize,
		totalMem:  totalMem,
		physical:  make([]byte, totalMem),
		frames:    frames,
		tables:    make(map[uint64]*pageTable),
		backing:   backing,
	}, nil
}

// Close releases the backing store file handle.
func (m *Manager) Close() error {
	return m.backing.Close()
}

// SetStatsSink installs the scheduler's paging counters.
func (m *Manager) SetStatsSink(s StatsSink) {
	m.sink = s
}

func (m *Manager) FrameSize() int   { return m.frameSize }
func (m *Manager) TotalMem() int    { return m.totalMem }
func (m *Manager) TotalFrames() int { return len(m.frames) }

func (m *Manager) FreeFrames() int {
	free := 0
	for _, f := range m.frames {
		if !f.occupied {
			free++
		}
	}
	return free
}

// Snapshot returns every frame's state, frame 0 first.
func (m *Manager) Snapshot() []FrameInfo {
	out := make([]FrameInfo, len(m.frames))
	for i, f := range m.frames {
		info := FrameInfo{ID: f.id, Occupied: f.occupied, VirtualPage: f.vpn}
		if f.occupied && f.owner != nil {
			info.OwnerName = f.owner.Name
		}
		out[i] = info
	}
	return out
}

// Allocate installs an all-invalid page table sized to the process's
// memRequired and marks it resident. Allocation is about page tables,
// not frames, so it always succeeds.
func (m *Manager) Allocate(p *process.PCB) {
	pagesNeeded := ceilDiv(p.MemRequired, m.frameSize)
	m.tables[p.ID] = &pageTable{entries: make([]pageTableEntry, pagesNeeded)}
	p.HasResidency = true
}

// Deallocate frees every frame owned by p and drops its page table.
func (m *Manager) Deallocate(p *process.PCB) {
	for i := range m.frames {
		if m.frames[i].occupied && m.frames[i].owner == p {
			m.frames[i] = frame{id: i}
		}
	}
	delete(m.tables, p.ID)
	p.HasResidency = false
}

// Translate resolves a virtual address to a physical one, faulting the
// page in on a miss.
func (m *Manager) Translate(p *process.PCB, vAddr int) (int, error) {
	table, ok := m.tables[p.ID]
	if !ok {
		return 0, fmt.Errorf("%w: process %s has no page table", ErrInvalidAddress, p.Name)
	}

	page := vAddr / m.frameSize
	offset := vAddr % m.frameSize
	if page < 0 || page >= len(table.entries) {
		return 0, fmt.Errorf("%w: virtual address %d out of range for %s", ErrInvalidAddress, vAddr, p.Name)
	}

	entry := &table.entries[page]
	if !entry.valid {
		if err := m.handlePageFault(p, page); err != nil {
			return 0, err
		}
	}
	entry.referenced = true
	return entry.frameNumber*m.frameSize + offset, nil
}

// AccessMemory models an implicit access: translate and discard the
// result, tolerating a fault but not surfacing it.
func (m *Manager) AccessMemory(p *process.PCB, vAddr int) {
	_, _ = m.Translate(p, vAddr)
}

// ReadWord/WriteWord perform little-endian 16-bit I/O against physical
// memory.
func (m *Manager) ReadWord(pAddr int) (uint16, error) {
	if pAddr < 0 || pAddr+2 > m.totalMem {
		return 0, fmt.Errorf("%w: physical address %d out of range", ErrInvalidAddress, pAddr)
	}
	return binary.LittleEndian.Uint16(m.physical[pAddr : pAddr+2]), nil
}

func (m *Manager) WriteWord(pAddr int, v uint16) error {
	if pAddr < 0 || pAddr+2 > m.totalMem {
		return fmt.Errorf("%w: physical address %d out of range", ErrInvalidAddress, pAddr)
	}
	binary.LittleEndian.PutUint16(m.physical[pAddr:pAddr+2], v)
	return nil
}

// handlePageFault implements the five-step algorithm from the spec:
// find a free frame or evict a FIFO victim, load the page, wire up the
// page table entry and the frame.
func (m *Manager) handlePageFault(p *process.PCB, page int) error {
	frameIdx, ok := m.findFreeFrame()
	if !ok {
		frameIdx = m.selectVictim()
		if err := m.evict(frameIdx); err != nil {
			return err
		}
	}

	if err := m.load(p, page, frameIdx); err != nil {
		return err
	}
	if m.sink != nil {
		m.sink.PagedIn()
	}

	table := m.tables[p.ID]
	table.entries[page] = pageTableEntry{frameNumber: frameIdx, valid: true, referenced: true}
	m.frames[frameIdx] = frame{id: frameIdx, owner: p, vpn: page, occupied: true}
	return nil
}

func (m *Manager) findFreeFrame() (int, bool) {
	for i, f := range m.frames {
		if !f.occupied {
			return i, true
		}
	}
	return -1, false
}

// selectVictim advances the FIFO sweep pointer to the next occupied
// frame, by index order rather than allocation time — this tie-break is
// observable in snapshots and must be preserved verbatim.
func (m *Manager) selectVictim() int {
	n := len(m.frames)
	for i := 0; i < n; i++ {
		idx := m.sweep
		m.sweep = (m.sweep + 1) % n
		if m.frames[idx].occupied {
			return idx
		}
	}
	return 0
}

func (m *Manager) evict(frameIdx int) error {
	f := &m.frames[frameIdx]
	if !f.occupied {
		return nil
	}

	owner := f.owner
	victimPage := f.vpn
	start := frameIdx * m.frameSize
	data := m.physical[start : start+m.frameSize]

	if err := m.backing.write(victimPage, data); err != nil {
		return fmt.Errorf("%w: evicting page %d: %v", ErrInvalidAddress, victimPage, err)
	}
	if m.sink != nil {
		m.sink.PagedOut()
	}

	if table, ok := m.tables[owner.ID]; ok && victimPage < len(table.entries) {
		table.entries[victimPage].valid = false
		table.entries[victimPage].frameNumber = -1

		anyValid := false
		for _, e := range table.entries {
			if e.valid {
				anyValid = true
				break
			}
		}
		if !anyValid {
			owner.HasResidency = false
		}
	}

	*f = frame{id: frameIdx}
	return nil
}

func (m *Manager) load(p *process.PCB, page, frameIdx int) error {
	data, err := m.backing.read(page)
	if err != nil {
		return fmt.Errorf("%w: loading page %d: %v", ErrInvalidAddress, page, err)
	}

	if allZero(data) {
		data = coldFill(p.Name, page, m.frameSize)
	}

	start := frameIdx * m.frameSize
	copy(m.physical[start:start+m.frameSize], data)
	return nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// coldFill deterministically synthesizes a page that has never been
// written, so a cold READ is distinguishable from a zero-page bug:
// hash(pcb.name) + page + offset mod 256.
func coldFill(name string, page, size int) []byte {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	base := int(h.Sum32() % 256)

	out := make([]byte, size)
	for i := range out {
		out[i] = byte((base + page + i) % 256)
	}
	return out
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
