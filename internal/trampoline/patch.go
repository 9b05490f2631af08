// Package trampoline fills the guest's trampoline page with aligned
// copies of the single syscall gate and installs the trusted dispatch
// thunk the gate transfers control to.
//
// The trampoline page and the thunk template are written with plain,
// non-atomic byte stores (see TileGates and Apply).
package trampoline

import (
	"encoding/binary"
	"fmt"
)

// Patch is one (target address, value) rewrite at a declared width.
type Patch struct {
	Target uintptr
	Value  uint64
}

// Info describes a template-copy-then-rewrite operation: copy NBytes from
// Src to Dst, then apply every patch entry by writing Value at
// (Target - Src) + Dst, at the entry's declared width. Overlapping
// patches are undefined, matching spec.md §4.D.
type Info struct {
	Src, Dst     uintptr
	NBytes       uintptr
	Abs16, Abs32, Abs64 []Patch
}

// Apply performs the copy-then-patch described by info. dst and src are
// the byte slices backing info.Dst and info.Src respectively, at whatever
// offset the caller chooses — dst[0] corresponds to host address info.Dst,
// src[0] to info.Src. Applying the same Info twice to the same dst
// produces the same bytes (patch idempotence, spec.md §8).
func Apply(dst, src []byte, info Info) error {
	if info.NBytes > uintptr(len(src)) {
		return fmt.Errorf("trampoline: patch nbytes %d exceeds source length %d", info.NBytes, len(src))
	}
	if info.NBytes > uintptr(len(dst)) {
		return fmt.Errorf("trampoline: patch nbytes %d exceeds destination length %d", info.NBytes, len(dst))
	}
	copy(dst[:info.NBytes], src[:info.NBytes])

	for _, p := range info.Abs16 {
		off := p.Target - info.Src
		if off+2 > uintptr(len(dst)) {
			return fmt.Errorf("trampoline: abs16 patch at offset %d out of range", off)
		}
		binary.LittleEndian.PutUint16(dst[off:], uint16(p.Value))
	}
	for _, p := range info.Abs32 {
		off := p.Target - info.Src
		if off+4 > uintptr(len(dst)) {
			return fmt.Errorf("trampoline: abs32 patch at offset %d out of range", off)
		}
		binary.LittleEndian.PutUint32(dst[off:], uint32(p.Value))
	}
	for _, p := range info.Abs64 {
		off := p.Target - info.Src
		if off+8 > uintptr(len(dst)) {
			return fmt.Errorf("trampoline: abs64 patch at offset %d out of range", off)
		}
		binary.LittleEndian.PutUint64(dst[off:], p.Value)
	}
	return nil
}
