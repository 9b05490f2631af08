package session

import "errors"

// ErrNoLauncher is returned by DefaultLauncher, the fallback used on
// platforms NewLauncher has no real arch-specific Launcher for:
// transferring control into the dispatch thunk means loading an
// arbitrary register file and jumping to machine code the Go compiler
// did not produce, which needs a small per-architecture assembly stub.
// linux/amd64 has one, AMD64Launcher (launch_amd64.go/.s); other
// platforms get this stub until they get their own.
var ErrNoLauncher = errors.New("session: no architecture-specific launcher registered")

// DefaultLauncher always fails with ErrNoLauncher. It exists so a loader
// binary links and runs end-to-end (manifest through validation) on any
// platform; only the final control transfer needs a real arch-specific
// Launcher swapped in.
type DefaultLauncher struct{}

func (DefaultLauncher) Launch(ThreadContext) (TerminationState, error) {
	return TerminationState{}, ErrNoLauncher
}
