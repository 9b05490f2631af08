package validator

import "fmt"

// BasicChecker is a conservative stand-in for the real instruction-decoding
// validator spec.md treats as an external oracle: it rejects a small
// blocklist of byte sequences (privileged/undefined instructions) rather
// than fully decoding the bundle stream. Production builds are expected to
// supply a real Checker; BasicChecker exists so the loader has a working
// default and so scenario 6 ("guest illegal instruction") is exercisable
// without one.
type BasicChecker struct{}

var disallowed = [][]byte{
	{0x0F, 0x0B}, // ud2
	{0xCD},       // int (software interrupt)
	{0x0F, 0x34}, // sysenter
	{0x0F, 0x35}, // sysexit
}

func (BasicChecker) Validate(slab []byte, entry uintptr) error {
	for i := range slab {
		for _, seq := range disallowed {
			if i+len(seq) > len(slab) {
				continue
			}
			match := true
			for j, b := range seq {
				if slab[i+j] != b {
					match = false
					break
				}
			}
			if match {
				return fmt.Errorf("validator: disallowed opcode %x at slab offset %d", seq, i)
			}
		}
	}
	return nil
}
