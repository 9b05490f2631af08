package elfload

import "errors"

// ErrBadELF is wrapped into errors returned for any header-level
// violation of the accepted profile (spec.md §4.C).
var ErrBadELF = errors.New("bad-elf")

// ErrOverlap is wrapped into errors returned when the static and dynamic
// text segments overlap. Other pairs of segments are not checked for
// overlap.
var ErrOverlap = errors.New("overlap")

// ErrTooLarge is wrapped into errors returned when a segment extends past
// the end of the sandbox region. Whether a segment fits inside its own
// block is not checked.
var ErrTooLarge = errors.New("too-large")
