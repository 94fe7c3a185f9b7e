// Package memmap folds the raw firmware memory map into the canonical,
// immutable MemoryRegion list described in spec §4.1: Available regions
// shrink to full-page boundaries, everything else grows; adjacent regions
// of the same kind coalesce; gaps are filled with Reserved; a final
// Reserved region is appended up to the 4 GiB wrap point.
package memmap

import (
	"sort"

	"github.com/mastermochi/mochi/internal/bootinfo"
)

// Kind classifies a consolidated MemoryRegion.
type Kind uint8

const (
	Available Kind = iota
	Reserved
	BootData
	Kernel
	ProcImage
)

func (k Kind) String() string {
	switch k {
	case Available:
		return "available"
	case Reserved:
		return "reserved"
	case BootData:
		return "boot-data"
	case Kernel:
		return "kernel"
	case ProcImage:
		return "proc-image"
	default:
		return "unknown"
	}
}

// Region is one entry of the canonical, ordered-by-base memory map.
type Region struct {
	Base uint64
	Size uint64
	Kind Kind
}

const (
	pageSize  = 4096
	wrapPoint = 1 << 32 // 4 GiB
)

func alignAvailable(base, size uint64) (uint64, uint64) {
	end := base + size
	newBase := (base + pageSize - 1) &^ (pageSize - 1)
	newEnd := end &^ (pageSize - 1)
	if newEnd < newBase {
		return newBase, 0
	}
	return newBase, newEnd - newBase
}

func alignOutward(base, size uint64) (uint64, uint64) {
	end := base + size
	newBase := base &^ (pageSize - 1)
	newEnd := (end + pageSize - 1) &^ (pageSize - 1)
	return newBase, newEnd - newBase
}

type rawRegion struct {
	base, size uint64
	kind       Kind
}

// Consolidate builds the canonical MemoryRegion list from a bootinfo.Config:
// firmware regions plus the kernel image, boot-data, and proc-image windows
// the bootloader already carved out, per spec §4.1.
func Consolidate(cfg bootinfo.Config) []Region {
	raw := make([]rawRegion, 0, len(cfg.Firmware)+3)

	for _, fw := range cfg.Firmware {
		kind := Reserved
		base, size := fw.Base, fw.Length
		if fw.Type == bootinfo.TypeAvailable {
			kind = Available
			base, size = alignAvailable(base, size)
		} else {
			base, size = alignOutward(base, size)
		}
		if size == 0 {
			continue
		}
		raw = append(raw, rawRegion{base, size, kind})
	}

	addFixed := func(base, size uint64, kind Kind) {
		if size == 0 {
			return
		}
		b, s := alignOutward(base, size)
		raw = append(raw, rawRegion{b, s, kind})
	}
	addFixed(cfg.KernelImageBase, cfg.KernelImageSize, Kernel)
	addFixed(cfg.BootDataBase, cfg.BootDataSize, BootData)
	addFixed(cfg.ProcImageBase, cfg.ProcImageSize, ProcImage)

	sort.Slice(raw, func(i, j int) bool { return raw[i].base < raw[j].base })

	var out []Region
	var cursor uint64
	for _, r := range raw {
		if r.base > cursor {
			out = appendMerged(out, Region{Base: cursor, Size: r.base - cursor, Kind: Reserved})
		}
		if r.base+r.size > cursor {
			start := r.base
			if start < cursor {
				start = cursor
			}
			out = appendMerged(out, Region{Base: start, Size: r.base + r.size - start, Kind: r.kind})
			cursor = r.base + r.size
		}
	}
	if cursor < wrapPoint {
		out = appendMerged(out, Region{Base: cursor, Size: wrapPoint - cursor, Kind: Reserved})
	}
	return out
}

// appendMerged appends next, merging it into the last region when they
// are adjacent and of the same kind (spec §4.1).
func appendMerged(regions []Region, next Region) []Region {
	if next.Size == 0 {
		return regions
	}
	if n := len(regions); n > 0 {
		last := &regions[n-1]
		if last.Kind == next.Kind && last.Base+last.Size == next.Base {
			last.Size += next.Size
			return regions
		}
	}
	return append(regions, next)
}
