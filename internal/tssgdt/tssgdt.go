// Package tssgdt is the TSS+GDT glue of spec §2's component table: a
// fixed GDT layout with one code/data selector pair per privilege band,
// and a single hardware TSS whose ESP0 is rewritten on every context
// switch so a ring transition from user mode lands on the new thread's
// kernel stack.
package tssgdt

import "github.com/mastermochi/mochi/internal/proctab"

// Selector is a GDT segment selector, already shifted and RPL-tagged
// (index<<3 | RPL).
type Selector uint16

// ring maps a privilege band to its CPU ring, which in turn fixes the
// RPL bits of every selector handed out for that band.
func ring(k proctab.Kind) uint8 {
	switch k {
	case proctab.KernelKind:
		return 0
	case proctab.DriverKind:
		return 1
	case proctab.ServerKind:
		return 2
	default:
		return 3
	}
}

// descriptor is one GDT code/data pair for a ring.
type descriptor struct {
	code Selector
	data Selector
}

const (
	gdtNull = iota
	gdtKernelCode
	gdtKernelData
	gdtDriverCode
	gdtDriverData
	gdtServerCode
	gdtServerData
	gdtUserCode
	gdtUserData
	gdtTSS
	gdtEntries
)

// GDT is the fixed segment-selector table: one code/data descriptor per
// band, plus the single TSS descriptor.
type GDT struct {
	byBand [4]descriptor
	tss    Selector
}

// New builds the fixed GDT layout. Every selector's RPL matches its
// band's ring.
func New() *GDT {
	g := &GDT{}
	bands := []struct {
		kind       proctab.Kind
		codeIdx    int
		dataIdx    int
	}{
		{proctab.KernelKind, gdtKernelCode, gdtKernelData},
		{proctab.DriverKind, gdtDriverCode, gdtDriverData},
		{proctab.ServerKind, gdtServerCode, gdtServerData},
		{proctab.UserKind, gdtUserCode, gdtUserData},
	}
	for _, b := range bands {
		rpl := Selector(ring(b.kind))
		g.byBand[b.kind] = descriptor{
			code: Selector(b.codeIdx<<3) | rpl,
			data: Selector(b.dataIdx<<3) | rpl,
		}
	}
	g.tss = Selector(gdtTSS << 3)
	return g
}

// CodeSelector returns the code segment selector for kind.
func (g *GDT) CodeSelector(kind proctab.Kind) Selector { return g.byBand[kind].code }

// DataSelector returns the data segment selector for kind.
func (g *GDT) DataSelector(kind proctab.Kind) Selector { return g.byBand[kind].data }

// TSSSelector returns the single hardware TSS's selector.
func (g *GDT) TSSSelector() Selector { return g.tss }

// TSS is the single hardware task-state segment. Only ESP0/SS0 are used
// by this kernel (software task switching, not hardware task gates); the
// rest of the structure is left to the hal layer that would install it.
type TSS struct {
	ESP0 uintptr
	SS0  Selector
}

// SetKernelStack points ESP0 at the newly scheduled thread's kernel-stack
// top, so the next ring3→ring0 transition (syscall or interrupt) lands on
// the right stack. Called once per context switch (spec §4.7).
func (t *TSS) SetKernelStack(esp0 uintptr, ss0 Selector) {
	t.ESP0 = esp0
	t.SS0 = ss0
}
