// Package validator presents the loaded text slabs to an external code
// validator and records the resulting verdict on the app.
//
// The validator's instruction-decoding internals are out of scope — this
// package treats it purely as an oracle: given a contiguous code slab and
// its declared entry point, it returns pass or fail. Supplying that oracle
// is the Checker interface; production builds wire it to whatever decoder
// the target architecture uses, tests wire it to a stub.
package validator

import (
	"errors"
	"fmt"

	"github.com/zerovm-go/loader/internal/elfload"
	"github.com/zerovm-go/loader/internal/sandbox"
)

// Verdict is the three-state validation_state recorded on the app,
// numerically identical to the reference implementation's field.
type Verdict int

const (
	Pass Verdict = 0
	Fail Verdict = 1
	Skip Verdict = 2
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// ErrBadText is returned when any text slab fails validation.
var ErrBadText = errors.New("bad-text")

// Checker validates one contiguous code slab bound to a declared entry
// point, returning a non-nil error if the slab contains anything the
// guest must not be allowed to execute.
type Checker interface {
	Validate(slab []byte, entry uintptr) error
}

// Validate presents the static text slab and, if present, the dynamic
// text slab to check, in that order, and records the resulting verdict.
// If skip is true (the loader's -s flag), check is never consulted and
// Skip is recorded unconditionally. If either slab fails, Validate
// returns Fail along with an error wrapping ErrBadText; the caller must
// not start the session in that case.
func Validate(as *sandbox.AddressSpace, res *elfload.Result, check Checker, skip bool) (Verdict, error) {
	if skip {
		return Skip, nil
	}

	staticSlab := as.SliceAt(as.UserToHost(res.StaticTextStart), res.StaticTextEnd-res.StaticTextStart)
	if err := check.Validate(staticSlab, res.InitialEntryPt); err != nil {
		return Fail, fmt.Errorf("validator: static text: %w: %v", ErrBadText, err)
	}

	if res.DynamicTextEnd > res.DynamicTextStart {
		dynamicSlab := as.SliceAt(as.UserToHost(res.DynamicTextStart), res.DynamicTextEnd-res.DynamicTextStart)
		if err := check.Validate(dynamicSlab, res.InitialEntryPt); err != nil {
			return Fail, fmt.Errorf("validator: dynamic text: %w: %v", ErrBadText, err)
		}
	}

	return Pass, nil
}
