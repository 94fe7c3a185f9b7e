// Package hal declares the hardware-abstraction surface the kernel core
// consumes but never implements directly, the same role mazboot/asm plays
// for the teacher: cli/sti, invlpg, set_cr0/set_cr3, port I/O, PIC
// programming, and the ELF loader are all out of scope per spec §1 and
// are expressed here as interfaces. internal/testhal provides a
// hosted implementation for running the core under `go test`; a real
// ring-0 backend implements the same interfaces against actual
// instructions and firmware tables.
package hal

// CPU is the set of privileged instruction wrappers spec §1 lists as
// out-of-scope collaborators.
type CPU interface {
	// Cli disables maskable interrupts.
	Cli()
	// Sti enables maskable interrupts.
	Sti()
	// Invlpg invalidates the TLB entry for vaddr.
	Invlpg(vaddr uintptr)
	// SetCR0 writes the CR0 control register.
	SetCR0(value uint32)
	// SetCR3 writes the CR3 (PDBR) register, switching the active page
	// directory.
	SetCR3(pdbr uint32)
	// InB/InW/InDW/OutB/OutW/OutDW are the port I/O primitives backing
	// the 0x31 kernel-call category (out of scope for logic, in scope as
	// a dispatch target, see SPEC_FULL §4).
	InB(port uint16) uint8
	InW(port uint16) uint16
	InDW(port uint16) uint32
	OutB(port uint16, v uint8)
	OutW(port uint16, v uint16)
	OutDW(port uint16, v uint32)
}

// PIC is the programmable interrupt controller programming surface
// consumed by internal/irqmon, per spec §4.9.
type PIC interface {
	AllowIRQ(irq uint8)
	DenyIRQ(irq uint8)
	EOI(irq uint8)
}

// LoadedImage is the ELF loader's result: the entry point and the address
// just past the last statically loaded segment (spec §4.5).
type LoadedImage struct {
	EntryPoint uintptr
	End        uintptr
}

// ImageLoader is the single "load an image into a directory and return
// entry+end" contract spec §1 says this core consumes and nothing more.
type ImageLoader interface {
	Load(image []byte, dirID uint32) (LoadedImage, error)
}

// Frame allocation/mapping hooks a HAL must provide so internal/paging can
// install real frame contents without owning physical-memory access
// itself. Frame is a physical page address.
type Frame uintptr

// Memory is raw physical-memory access used by paging to read/write frame
// contents (for Paging.Copy's deep frame copy and for zeroing freshly
// mapped pages).
type Memory interface {
	ZeroFrame(f Frame)
	CopyFrame(dst, src Frame)
}

// HAL bundles every hardware surface the kernel core depends on.
type HAL struct {
	CPU    CPU
	PIC    PIC
	Loader ImageLoader
	Mem    Memory
}
