package session

import (
	"fmt"

	"github.com/google/uuid"
)

// ThreadContext is the guest register file loaded by the dispatch thunk
// before transfer: program counter, stack pointer, and the TLS cookie.
// Created once per session.
type ThreadContext struct {
	PC  uintptr
	SP  uintptr
	TLS uintptr
}

// TerminationState is what the loader learns once the guest stops
// running: either it returned through the syscall gate with a guest exit
// code, or the fault reporter terminated it first.
type TerminationState struct {
	ExitCode int32
	Faulted  bool
	FaultTag string // set when Faulted; e.g. "segv", "illegal-instruction"
}

// Launcher performs the one-way transfer of control into the dispatch
// thunk for a given thread context, blocking until the guest returns
// through the syscall gate or a fault terminates it. The actual register
// load and jump are architecture-specific and live behind this
// interface so the rest of the loader — stack construction, session
// bookkeeping — stays portable. NewLauncher selects AMD64Launcher, a
// real implementation, on linux/amd64, and falls back to
// DefaultLauncher elsewhere until those platforms get their own.
type Launcher interface {
	Launch(ctx ThreadContext) (TerminationState, error)
}

// Session ties together the identity of one run with the thread context
// it was launched with. The identifier appears in the errors Run returns.
type Session struct {
	ID      string
	Context ThreadContext
}

// New creates a session with a fresh identifier and the given context.
func New(ctx ThreadContext) Session {
	return Session{ID: uuid.NewString(), Context: ctx}
}

// Run hands the session's context to launcher and returns the resulting
// termination state.
func (s Session) Run(launcher Launcher) (TerminationState, error) {
	state, err := launcher.Launch(s.Context)
	if err != nil {
		return state, fmt.Errorf("session %s: %w", s.ID, err)
	}
	return state, nil
}
