package trampoline

import (
	"fmt"

	"github.com/zerovm-go/loader/internal/sandbox"
)

// OpAlignment is the jump/call alignment boundary untrusted code is
// confined to: OP_ALIGNEMENT in the reference implementation's trap.h,
// 32 bytes for this profile. Gate copies begin at every multiple of
// OpAlignment so that validated control transfers can only land on a
// gate or on ordinary guest code, never mid-instruction.
const OpAlignment = 32

// TileGates fills page with aligned copies of gate, one every OpAlignment
// bytes, and fills the space between the end of each gate and the next
// alignment boundary with sandbox.SafeHalt. len(gate) must not exceed
// OpAlignment.
//
// Slots are written in page order with ordinary byte stores, gate bytes
// first and halt padding after. The stores are not atomic and no
// instruction-cache flush is issued afterwards.
func TileGates(page []byte, gate []byte) error {
	if len(gate) > OpAlignment {
		return fmt.Errorf("trampoline: gate length %d exceeds alignment %d", len(gate), OpAlignment)
	}
	for base := 0; base+OpAlignment <= len(page); base += OpAlignment {
		slot := page[base : base+OpAlignment]
		for i := 0; i < len(gate); i++ {
			slot[i] = gate[i]
		}
		for i := len(gate); i < OpAlignment; i++ {
			slot[i] = sandbox.SafeHalt[i%len(sandbox.SafeHalt)]
		}
	}
	return nil
}
