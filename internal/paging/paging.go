// Package paging implements the IA-32 classic two-level paging scheme of
// spec §4.4: a per-process page directory (1024 PDEs -> 1024-entry page
// tables -> 4 KiB frames), a shared idle directory for the kernel half,
// and the map/unmap/copy/get_pdbr operations.
//
// The directory and page-table structures here are logical Go values
// rather than raw bytes walked by the CPU's MMU — the hardware-facing
// half (installing CR3, invalidating the TLB) is delegated to hal.CPU, the
// same separation the teacher draws between its Page/heapSegment
// metadata and the asm package's real MMU instructions.
package paging

import (
	"fmt"
	"sync"

	"github.com/mastermochi/mochi/internal/hal"
	"github.com/mastermochi/mochi/internal/mkerr"
	"github.com/mastermochi/mochi/internal/physalloc"
)

const (
	PageSize      = 4096
	PTEsPerTable  = 1024
	PDEsPerDir    = 1024
	pageTableSpan = PTEsPerTable * PageSize // bytes one page table covers
)

// IdleDirID is the reserved directory id for the idle/kernel directory,
// which is never freed and whose upper (kernel) half is shared into every
// other process directory (spec §3).
const IdleDirID uint32 = 0

// Global marks whether a mapping is tagged global (persists across CR3
// reload; used only for the kernel half per spec §4.4).
type Global uint8

const (
	NoGlobal Global = iota
	YesGlobal
)

// Ring is the privilege level of a mapping.
type Ring uint8

const (
	Supervisor Ring = iota
	User
)

// RW is the writability of a mapping.
type RW uint8

const (
	ReadOnly RW = iota
	ReadWrite
)

// Attrs are the page attributes taken by Map, per spec §6: Global ∈
// {No, Yes}, US ∈ {Supervisor, User}, RW ∈ {R, RW}; P, PWT, PCD are
// implicit.
type Attrs struct {
	AllocatePhys bool
	Global       Global
	Ring         Ring
	RW           RW
}

type pte struct {
	present bool
	frame   hal.Frame
	attrs   Attrs
}

type pageTable struct {
	frame   hal.Frame // physical frame backing this table's own storage
	entries [PTEsPerTable]pte
}

type pde struct {
	present bool
	table   *pageTable
	global  Global
}

// Directory is one process's (or the idle directory's) page directory.
type Directory struct {
	id    uint32
	frame hal.Frame
	pdes  [PDEsPerDir]pde
}

// ID returns the directory's id.
func (d *Directory) ID() uint32 { return d.id }

// KernelHalfBoundary is the first PDE index the shared kernel half owns
// (vaddr 0xC0000000 and above, the classic split); everything below it is
// per-process user half.
const KernelHalfBoundary = 768 // vaddr 0xC0000000, the classic split

// Manager owns every directory and the physical allocator backing frames.
type Manager struct {
	mu    sync.Mutex
	hal   *hal.HAL
	phys  *physalloc.Allocator
	idle  *Directory
	dirs  map[uint32]*Directory
	next  uint32
	aperture [2]bool // ch1, ch2 in-use flags, see WithDirectory
}

// NewManager creates the paging subsystem with a fresh idle directory.
func NewManager(h *hal.HAL, phys *physalloc.Allocator) (*Manager, error) {
	m := &Manager{hal: h, phys: phys, dirs: map[uint32]*Directory{}, next: 1}
	frame, err := phys.Alloc(PageSize)
	if err != mkerr.None {
		return nil, fmt.Errorf("paging: allocate idle directory frame: %v", err)
	}
	m.idle = &Directory{id: IdleDirID, frame: hal.Frame(frame)}
	m.dirs[IdleDirID] = m.idle
	return m, nil
}

// Idle returns the idle/kernel directory.
func (m *Manager) Idle() *Directory { return m.idle }

func (m *Manager) dir(id uint32) (*Directory, bool) {
	d, ok := m.dirs[id]
	return d, ok
}

// AllocDir allocates a fresh page directory, copying the kernel half from
// the idle directory by sharing its PageTable pointers — not deep-copying
// them — so a later mutation of the idle directory's kernel half is
// observed by every process directory automatically (spec §4.4's
// "cleaner invariant" from §9, adopted here instead of the original's
// re-copy-after-every-mutation policy; see DESIGN.md).
func (m *Manager) AllocDir() (uint32, mkerr.Err) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameBase, err := m.phys.Alloc(PageSize)
	if err != mkerr.None {
		return 0, mkerr.NoMemory
	}
	id := m.next
	m.next++
	d := &Directory{id: id, frame: hal.Frame(frameBase)}
	for i := KernelHalfBoundary; i < PDEsPerDir; i++ {
		d.pdes[i] = m.idle.pdes[i]
	}
	m.dirs[id] = d
	return id, mkerr.None
}

// SyncKernelHalf re-installs the idle directory's kernel-half PDEs into
// every process directory. AllocDir's pointer sharing only captures the
// PDEs that are already present in the idle directory at allocation time;
// a later Map against IdleDirID that installs a *new* PDE (a fresh kernel
// stack, say) must call this so directories allocated earlier pick up the
// addition — see threadtab.Table.allocKernelStack.
func (m *Manager) SyncKernelHalf() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, d := range m.dirs {
		if id == IdleDirID {
			continue
		}
		for i := KernelHalfBoundary; i < PDEsPerDir; i++ {
			d.pdes[i] = m.idle.pdes[i]
		}
	}
}

// FreeDir iterates all user-half PDEs, frees each present page table and
// its frame, zeros the directory, and releases the directory's own frame.
func (m *Manager) FreeDir(id uint32) mkerr.Err {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == IdleDirID {
		return mkerr.Param
	}
	d, ok := m.dir(id)
	if !ok {
		return mkerr.NoExist
	}
	for i := 0; i < KernelHalfBoundary; i++ {
		p := &d.pdes[i]
		if !p.present {
			continue
		}
		for _, e := range p.table.entries {
			if e.present {
				_ = m.phys.Free(uint64(e.frame))
			}
		}
		_ = m.phys.Free(uint64(p.table.frame))
		*p = pde{}
	}
	_ = m.phys.Free(uint64(d.frame))
	delete(m.dirs, id)
	return mkerr.None
}

// GetPDBR returns the hardware CR3 value for dirID: here, the physical
// frame address backing the directory itself.
func (m *Manager) GetPDBR(id uint32) (uint32, mkerr.Err) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dir(id)
	if !ok {
		return 0, mkerr.NoExist
	}
	return uint32(d.frame), mkerr.None
}

func splitAddr(vaddr uintptr) (pdIdx, ptIdx int) {
	pdIdx = int(vaddr>>22) & (PDEsPerDir - 1)
	ptIdx = int(vaddr>>12) & (PTEsPerTable - 1)
	return
}

func aligned(v uintptr) bool { return v%PageSize == 0 }

func ringOf(a Attrs) uint8 {
	if a.Ring == User {
		return 1
	}
	return 0
}

// Map installs mappings for every 4 KiB page in [vaddr, vaddr+size).
// vaddr, paddr, and size must be page-aligned. On a sub-failure the
// caller is expected to Unmap the pages already installed — Map is not
// transactional (spec §4.4).
func (m *Manager) Map(dirID uint32, vaddr uintptr, paddr hal.Frame, size uintptr, attrs Attrs) mkerr.Err {
	if !aligned(vaddr) || !aligned(uintptr(paddr)) || !aligned(size) {
		return mkerr.Param
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.dir(dirID)
	if !ok {
		return mkerr.NoExist
	}

	for off := uintptr(0); off < size; off += PageSize {
		pdIdx, ptIdx := splitAddr(vaddr + off)
		p := &d.pdes[pdIdx]
		if !p.present {
			tFrame, err := m.phys.Alloc(PageSize)
			if err != mkerr.None {
				return mkerr.PageSet
			}
			m.hal.Mem.ZeroFrame(hal.Frame(tFrame))
			p.table = &pageTable{frame: hal.Frame(tFrame)}
			p.present = true
			p.global = attrs.Global
		}

		frame := paddr + hal.Frame(off)
		if attrs.AllocatePhys {
			base, err := m.phys.Alloc(PageSize)
			if err != mkerr.None {
				return mkerr.PageSet
			}
			frame = hal.Frame(base)
			m.hal.Mem.ZeroFrame(frame)
		}
		p.table.entries[ptIdx] = pte{present: true, frame: frame, attrs: attrs}
		m.hal.CPU.Invlpg(vaddr + off)
	}
	return mkerr.None
}

// Unmap is the inverse of Map: it clears every PTE in [vaddr,
// vaddr+size), optionally freeing the underlying physical frame, and
// frees a page table once its last live PTE is cleared.
func (m *Manager) Unmap(dirID uint32, vaddr uintptr, size uintptr, freePhys bool) mkerr.Err {
	if !aligned(vaddr) || !aligned(size) {
		return mkerr.Param
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.dir(dirID)
	if !ok {
		return mkerr.NoExist
	}

	for off := uintptr(0); off < size; off += PageSize {
		pdIdx, ptIdx := splitAddr(vaddr + off)
		p := &d.pdes[pdIdx]
		if !p.present {
			continue
		}
		e := &p.table.entries[ptIdx]
		if !e.present {
			continue
		}
		if freePhys {
			_ = m.phys.Free(uint64(e.frame))
		}
		*e = pte{}
		m.hal.CPU.Invlpg(vaddr + off)

		stillLive := false
		for _, e := range p.table.entries {
			if e.present {
				stillLive = true
				break
			}
		}
		if !stillLive {
			_ = m.phys.Free(uint64(p.table.frame))
			*p = pde{}
		}
	}
	return mkerr.None
}

// Copy deep-copies the physical content of each present page from src to
// dst within [vaddr, vaddr+size), allocating new frames in dst where
// absent. PTE attributes are copied; this rewrite's resolved semantics for
// an already-present destination PTE is to overwrite its frame content and
// attributes (see DESIGN.md's Open Question resolution). Used by
// ProcessTable.Fork.
func (m *Manager) Copy(dstID, srcID uint32, vaddr uintptr, size uintptr) mkerr.Err {
	if !aligned(vaddr) || !aligned(size) {
		return mkerr.Param
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	dst, ok := m.dir(dstID)
	if !ok {
		return mkerr.NoExist
	}
	src, ok := m.dir(srcID)
	if !ok {
		return mkerr.NoExist
	}

	for off := uintptr(0); off < size; off += PageSize {
		pdIdx, ptIdx := splitAddr(vaddr + off)
		sp := &src.pdes[pdIdx]
		if !sp.present {
			continue
		}
		se := sp.table.entries[ptIdx]
		if !se.present {
			continue
		}

		dp := &dst.pdes[pdIdx]
		if !dp.present {
			tFrame, err := m.phys.Alloc(PageSize)
			if err != mkerr.None {
				return mkerr.NoMemory
			}
			m.hal.Mem.ZeroFrame(hal.Frame(tFrame))
			dp.table = &pageTable{frame: hal.Frame(tFrame)}
			dp.present = true
			dp.global = sp.global
		}

		de := &dp.table.entries[ptIdx]
		newFrame := de.frame
		if !de.present {
			base, err := m.phys.Alloc(PageSize)
			if err != mkerr.None {
				return mkerr.NoMemory
			}
			newFrame = hal.Frame(base)
		}
		m.hal.Mem.CopyFrame(newFrame, se.frame)
		*de = pte{present: true, frame: newFrame, attrs: se.attrs}
		m.hal.CPU.Invlpg(vaddr + off)
	}
	return mkerr.None
}

// IsMapped reports whether vaddr has a present PTE in dirID, and if so its
// backing frame — used by tests validating invariant 6 (map-then-unmap
// restores the directory exactly) and invariant 1 (kernel-half
// uniformity).
func (m *Manager) IsMapped(dirID uint32, vaddr uintptr) (hal.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dir(dirID)
	if !ok {
		return 0, false
	}
	pdIdx, ptIdx := splitAddr(vaddr)
	p := &d.pdes[pdIdx]
	if !p.present {
		return 0, false
	}
	e := p.table.entries[ptIdx]
	if !e.present {
		return 0, false
	}
	return e.frame, true
}

// WithDirectory is the Go-idiomatic stand-in for the original's ch1/ch2
// kernel-half aperture windows (spec §9): since directories here are
// logical values rather than raw memory the CPU must temporarily map to
// edit, no real VA aperture is needed, but the two-channel exclusivity
// discipline is preserved so at most two directories are "held open" for
// editing at once, matching copy()'s need to hold both src and dst
// simultaneously.
func (m *Manager) WithDirectory(id uint32, fn func(*Directory)) error {
	ch, err := m.acquireAperture()
	if err != nil {
		return err
	}
	defer m.releaseAperture(ch)

	m.mu.Lock()
	d, ok := m.dir(id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("paging: no such directory %d", id)
	}
	fn(d)
	return nil
}

func (m *Manager) acquireAperture() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, inUse := range m.aperture {
		if !inUse {
			m.aperture[i] = true
			return i, nil
		}
	}
	return -1, fmt.Errorf("paging: both editing apertures in use")
}

func (m *Manager) releaseAperture(ch int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aperture[ch] = false
}
