// Package testhal is the hosted implementation of internal/hal used by
// every other package's tests and by cmd/mochisim. It backs simulated
// physical RAM with a real anonymous mmap (so frame reads/writes exercise
// an actual page-granular OS mapping, not just a Go slice) and records CPU
// primitive calls for assertions instead of touching real hardware state.
package testhal

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/mastermochi/mochi/internal/hal"
)

// RAM is a flat simulated physical address space backed by an anonymous
// mmap region.
type RAM struct {
	mu   sync.Mutex
	buf  []byte
	size uintptr
}

const frameSize = 4096

// NewRAM mmaps size bytes (rounded up to a 4 KiB multiple) to stand in for
// physical DRAM.
func NewRAM(size uintptr) (*RAM, error) {
	size = (size + frameSize - 1) &^ (frameSize - 1)
	buf, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("testhal: mmap %d bytes: %w", size, err)
	}
	return &RAM{buf: buf, size: size}, nil
}

// Close unmaps the backing region.
func (r *RAM) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf == nil {
		return nil
	}
	err := unix.Munmap(r.buf)
	r.buf = nil
	return err
}

// Size reports the RAM's total size in bytes.
func (r *RAM) Size() uintptr { return r.size }

func (r *RAM) frameSlice(f hal.Frame) []byte {
	off := uintptr(f)
	if off+frameSize > r.size {
		panic(fmt.Sprintf("testhal: frame %#x out of range (size %#x)", off, r.size))
	}
	return r.buf[off : off+frameSize]
}

// ZeroFrame implements hal.Memory.
func (r *RAM) ZeroFrame(f hal.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.frameSlice(f)
	for i := range s {
		s[i] = 0
	}
}

// CopyFrame implements hal.Memory.
func (r *RAM) CopyFrame(dst, src hal.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy(r.frameSlice(dst), r.frameSlice(src))
}

// ReadByte/WriteByte give tests direct inspection of frame contents
// without exposing the raw backing slice.
func (r *RAM) ReadByte(f hal.Frame, off uintptr) byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frameSlice(f)[off]
}

func (r *RAM) WriteByte(f hal.Frame, off uintptr, v byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frameSlice(f)[off] = v
}

// CPU is a recording implementation of hal.CPU: every call is remembered
// so tests can assert on interrupt-masking discipline and port I/O
// traffic without real privileged instructions.
type CPU struct {
	mu sync.Mutex

	InterruptsEnabled bool
	CliCount          int
	StiCount          int
	LastInvlpg        uintptr
	InvlpgCount       int
	CR0               uint32
	CR3               uint32

	ports [65536]uint32
}

func NewCPU() *CPU {
	return &CPU{InterruptsEnabled: true}
}

func (c *CPU) Cli() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InterruptsEnabled = false
	c.CliCount++
}

func (c *CPU) Sti() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InterruptsEnabled = true
	c.StiCount++
}

func (c *CPU) Invlpg(vaddr uintptr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastInvlpg = vaddr
	c.InvlpgCount++
}

func (c *CPU) SetCR0(v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CR0 = v
}

func (c *CPU) SetCR3(v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CR3 = v
}

func (c *CPU) InB(port uint16) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint8(c.ports[port])
}

func (c *CPU) InW(port uint16) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint16(c.ports[port])
}

func (c *CPU) InDW(port uint16) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ports[port]
}

func (c *CPU) OutB(port uint16, v uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ports[port] = uint32(v)
}

func (c *CPU) OutW(port uint16, v uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ports[port] = uint32(v)
}

func (c *CPU) OutDW(port uint16, v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ports[port] = v
}

var _ hal.CPU = (*CPU)(nil)
var _ hal.Memory = (*RAM)(nil)

// PIC is a recording implementation of hal.PIC.
type PIC struct {
	mu       sync.Mutex
	Allowed  map[uint8]bool
	EOICount map[uint8]int
}

func NewPIC() *PIC {
	return &PIC{Allowed: map[uint8]bool{}, EOICount: map[uint8]int{}}
}

func (p *PIC) AllowIRQ(irq uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Allowed[irq] = true
}

func (p *PIC) DenyIRQ(irq uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Allowed[irq] = false
}

func (p *PIC) EOI(irq uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EOICount[irq]++
}

var _ hal.PIC = (*PIC)(nil)

// Loader is a stub ELF loader: it treats image as already-relocated bytes
// and reports a caller-supplied entry/end, matching the single contract
// spec §1 says the real loader exposes.
type Loader struct {
	EntryPoint uintptr
	ImageSize  uintptr
}

func (l *Loader) Load(image []byte, dirID uint32) (hal.LoadedImage, error) {
	return hal.LoadedImage{EntryPoint: l.EntryPoint, End: l.EntryPoint + l.ImageSize}, nil
}

var _ hal.ImageLoader = (*Loader)(nil)

// New builds a complete hosted hal.HAL with a RAM-backed Memory, a
// recording CPU and PIC, and a stub loader, ready for tests and
// cmd/mochisim to drive a full boot simulation.
func New(ramSize uintptr) (*hal.HAL, *RAM, error) {
	ram, err := NewRAM(ramSize)
	if err != nil {
		return nil, nil, err
	}
	h := &hal.HAL{
		CPU:    NewCPU(),
		PIC:    NewPIC(),
		Loader: &Loader{EntryPoint: 0x08048000, ImageSize: frameSize},
		Mem:    ram,
	}
	return h, ram, nil
}
