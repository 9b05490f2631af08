package elfload

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"github.com/zerovm-go/loader/internal/sandbox"
)

// Result holds everything the ELF loader computes about the loaded
// image, corresponding to the NaClApp fields spec.md §4.C names.
type Result struct {
	StaticTextStart  uintptr
	StaticTextEnd    uintptr
	DynamicTextStart uintptr
	DynamicTextEnd   uintptr
	RoDataStart      uintptr
	DataStart        uintptr
	DataEnd          uintptr
	InitialEntryPt   uintptr
	UserEntryPt      uintptr // reserved; always zero (spec.md §9 open question)
	BreakAddr        uintptr
	BundleSize       int
}

// loadSeg is one classified PT_LOAD program header.
type loadSeg struct {
	prog                 *elf.Prog
	vaddr, filesz, memsz uintptr
	writable, executable bool
}

// Load validates img against profile and the fixed program-header shape
// required by spec.md §4.C, copies its segments into as, and returns the
// resulting layout. bundleSize must be 16 or 32.
func Load(img []byte, as *sandbox.AddressSpace, profile Profile, bundleSize int) (*Result, error) {
	if bundleSize != 16 && bundleSize != 32 {
		return nil, fmt.Errorf("elfload: %w: bundle_size must be 16 or 32, got %d", ErrBadELF, bundleSize)
	}

	f, err := elf.NewFile(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("elfload: %w: %v", ErrBadELF, err)
	}
	defer f.Close()

	if f.Class != profile.Class || f.Data != profile.Data || f.Machine != profile.Machine {
		return nil, fmt.Errorf("elfload: %w: class/data/machine %v/%v/%v not accepted", ErrBadELF, f.Class, f.Data, f.Machine)
	}
	if f.Type != elf.ET_EXEC {
		return nil, fmt.Errorf("elfload: %w: type %v is not ET_EXEC", ErrBadELF, f.Type)
	}
	if f.Version != elf.EV_CURRENT {
		return nil, fmt.Errorf("elfload: %w: unsupported ELF version %v", ErrBadELF, f.Version)
	}
	if len(f.Progs) == 0 || len(f.Progs) > MaxProgramHeaders {
		return nil, fmt.Errorf("elfload: %w: %d program headers, expected 1..%d", ErrBadELF, len(f.Progs), MaxProgramHeaders)
	}

	var loads []loadSeg
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		loads = append(loads, loadSeg{
			prog:       p,
			vaddr:      uintptr(p.Vaddr),
			filesz:     uintptr(p.Filesz),
			memsz:      uintptr(p.Memsz),
			writable:   p.Flags&elf.PF_W != 0,
			executable: p.Flags&elf.PF_X != 0,
		})
	}
	if len(loads) == 0 || len(loads) > MaxProgramHeaders {
		return nil, fmt.Errorf("elfload: %w: %d PT_LOAD headers, expected 1..%d", ErrBadELF, len(loads), MaxProgramHeaders)
	}

	regionEnd := as.MemStart() + (uintptr(1) << uint(as.AddrBits()))
	var textSegs, roSegs, dataSegs []loadSeg
	for _, seg := range loads {
		if seg.prog.Align != sandbox.PageSize {
			return nil, fmt.Errorf("elfload: %w: segment align %d != page size %d", ErrBadELF, seg.prog.Align, sandbox.PageSize)
		}
		if seg.vaddr%sandbox.PageSize != 0 {
			return nil, fmt.Errorf("elfload: %w: vaddr %#x not page-aligned", ErrBadELF, seg.vaddr)
		}
		if seg.filesz > seg.memsz {
			return nil, fmt.Errorf("elfload: %w: filesz %d > memsz %d", ErrBadELF, seg.filesz, seg.memsz)
		}
		host := as.UserToHost(seg.vaddr)
		if host == sandbox.BadAddress || host+seg.memsz > regionEnd {
			return nil, fmt.Errorf("elfload: %w: segment at %#x size %d escapes the sandbox", ErrTooLarge, seg.vaddr, seg.memsz)
		}
		switch {
		case seg.executable:
			if seg.writable {
				return nil, fmt.Errorf("elfload: %w: text segment at %#x is writable", ErrBadELF, seg.vaddr)
			}
			textSegs = append(textSegs, seg)
		case seg.writable:
			dataSegs = append(dataSegs, seg)
		default:
			roSegs = append(roSegs, seg)
		}
	}

	if len(textSegs) == 0 || len(textSegs) > 2 {
		return nil, fmt.Errorf("elfload: %w: %d text segments, expected 1 or 2", ErrBadELF, len(textSegs))
	}
	if len(roSegs) > 1 {
		return nil, fmt.Errorf("elfload: %w: at most one rodata segment allowed", ErrBadELF)
	}
	if len(dataSegs) > 1 {
		return nil, fmt.Errorf("elfload: %w: at most one data segment allowed", ErrBadELF)
	}

	staticText := textSegs[0]
	var dynamicText *loadSeg
	if len(textSegs) == 2 {
		if textSegs[1].vaddr < staticText.vaddr {
			staticText, textSegs[1] = textSegs[1], staticText
		}
		if textSegs[1].vaddr < staticText.vaddr+staticText.memsz {
			return nil, fmt.Errorf("elfload: %w: static and dynamic text segments overlap", ErrOverlap)
		}
		dynamicText = &textSegs[1]
	}
	if staticText.vaddr != sandbox.StaticTextStart {
		return nil, fmt.Errorf("elfload: %w: static text starts at %#x, want %#x", ErrBadELF, staticText.vaddr, uintptr(sandbox.StaticTextStart))
	}

	result := &Result{
		StaticTextStart: staticText.vaddr,
		BundleSize:      bundleSize,
	}

	if err := copySegment(as, staticText); err != nil {
		return nil, err
	}
	result.StaticTextEnd = alignUp(staticText.vaddr+staticText.filesz, uintptr(bundleSize))
	fillHalt(as, staticText.vaddr+staticText.filesz, result.StaticTextEnd)

	if dynamicText != nil {
		if err := copySegment(as, *dynamicText); err != nil {
			return nil, err
		}
		result.DynamicTextStart = dynamicText.vaddr
		result.DynamicTextEnd = dynamicText.vaddr + dynamicText.memsz
	} else {
		result.DynamicTextStart = result.StaticTextEnd
		result.DynamicTextEnd = result.StaticTextEnd
	}

	if len(roSegs) == 1 {
		if err := copySegment(as, roSegs[0]); err != nil {
			return nil, err
		}
		result.RoDataStart = roSegs[0].vaddr
	}

	if len(dataSegs) == 1 {
		d := dataSegs[0]
		if err := copySegment(as, d); err != nil {
			return nil, err
		}
		result.DataStart = d.vaddr
		result.DataEnd = alignUp(d.vaddr+d.memsz, sandbox.PageSize)
	}
	result.BreakAddr = result.DataEnd

	entry := uintptr(f.Entry)
	if entry < result.StaticTextStart || entry >= result.StaticTextEnd {
		return nil, fmt.Errorf("elfload: %w: entry point %#x outside static text [%#x, %#x)", ErrBadELF, entry, result.StaticTextStart, result.StaticTextEnd)
	}
	result.InitialEntryPt = entry

	return result, nil
}

// copySegment copies seg.filesz bytes from the ELF file into the sandbox
// at seg.vaddr and zero-fills the remainder up to seg.memsz (the bss tail).
func copySegment(as *sandbox.AddressSpace, seg loadSeg) error {
	host := as.UserToHost(seg.vaddr)
	dst := as.SliceAt(host, seg.memsz)
	n, err := io.ReadFull(seg.prog.Open(), dst[:seg.filesz])
	if err != nil && err != io.EOF {
		return fmt.Errorf("elfload: reading segment at %#x: %w", seg.vaddr, err)
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// fillHalt fills the sandbox host range corresponding to guest addresses
// [start, end) with the architecture's safe-halt pattern.
func fillHalt(as *sandbox.AddressSpace, start, end uintptr) {
	dst := as.SliceAt(as.UserToHost(start), end-start)
	for i := range dst {
		dst[i] = sandbox.SafeHalt[i%len(sandbox.SafeHalt)]
	}
}
