// Package elfload validates an ELF image against the loader's accepted
// profile — a statically linked, position-dependent single-architecture
// executable with a fixed program-header shape — and copies its segments
// into a sandbox.AddressSpace.
//
// ELF identification and header decoding itself is delegated to the
// standard library's debug/elf package, the same choice the one example
// in the retrieval pack that loads ELF images (db47h/mirv's elf package)
// makes; everything profile-specific (segment count, alignment, the
// static/dynamic text split) is this package's own validation on top of
// debug/elf's parse.
package elfload

import "debug/elf"

// Profile describes the single accepted (class, data, machine) triple for
// a loader instance. zerovm-style loaders are built for one target
// architecture at a time; a loader binary does not multiplex profiles.
type Profile struct {
	Class   elf.Class
	Data    elf.Data
	Machine elf.Machine
}

// DefaultProfile is the profile this build accepts: 64-bit, little-endian,
// x86-64 — matching the architecture the teacher's own low-level memory
// code (golang.org/x/sys/unix usage throughout internal/vm) targets.
var DefaultProfile = Profile{
	Class:   elf.ELFCLASS64,
	Data:    elf.ELFDATA2LSB,
	Machine: elf.EM_X86_64,
}

// MaxProgramHeaders bounds the program-header table size accepted by
// Load, per spec.md §4.C ("missing or exceeds a small fixed bound").
const MaxProgramHeaders = 16
