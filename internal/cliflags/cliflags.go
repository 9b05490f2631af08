// Package cliflags centralizes the loader's command-line flag shape and
// its exit-code table (spec.md §6), so cmd/loader stays a thin cobra
// wrapper around this package's validation and the component pipeline.
package cliflags

import (
	"fmt"

	"github.com/zerovm-go/loader/internal/account"
)

// Exit codes, unchanged from spec.md §6. The guest-supplied 32-bit
// return code is used directly and is not one of these constants.
const (
	ExitOK          = 0
	ExitInvalidArgs = 22 // EINVAL
	ExitSetupFault  = 14 // EFAULT
	ExitNoExec      = 8  // ENOEXEC
	ExitNoEntry     = 2  // ENOENT
	ExitTooBig      = 27 // EFBIG
)

// Flags mirrors the loader's getopt-style command line:
// loader [-PFQsSv: -M <manifest>] [-l <gib>].
type Flags struct {
	Manifest        string // -M, required
	SkipValidation  bool   // -s
	FuzzLoad        bool   // -F: load and validate but do not execute
	NoSignals       bool   // -S
	StorageCapGiB   int    // -l
	Verbosity       int    // -v
	SkipQualify     bool   // -Q
	NoPreallocation bool   // -P
}

// Validate checks that a manifest path was supplied. A repeated -M is
// not detected here: Flags holds a single path.
func (f Flags) Validate() error {
	if f.Manifest == "" {
		return fmt.Errorf("cliflags: -M <manifest> is required")
	}
	return nil
}

// ExitForError maps one of the fixed error kinds to its exit code.
func ExitForError(kind account.ErrorKind) int {
	switch kind {
	case account.BadCmdline:
		return ExitInvalidArgs
	case account.BadManifest, account.BadVersion, account.QualificationFailed, account.OOM:
		return ExitSetupFault
	case account.BadELF, account.Overlap, account.BadText:
		return ExitNoExec
	case account.MissingFile:
		return ExitNoEntry
	case account.TooLarge:
		return ExitTooBig
	case account.GuestFault:
		return ExitSetupFault
	default:
		return ExitSetupFault
	}
}
