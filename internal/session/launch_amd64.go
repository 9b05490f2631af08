//go:build amd64 && linux

package session

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zerovm-go/loader/internal/fault"
)

// trustedStackSize is the size of the dedicated stack AMD64Launcher
// switches onto before calling into the guest. This is the trusted
// side's own call stack, independent of the sandbox's Stack block
// (spec.md §3), which the guest runs on.
const trustedStackSize = 64 * 1024

// AMD64Launcher performs the one-way control transfer into the
// dispatch thunk on linux/amd64: it locks the calling goroutine to its
// OS thread, switches onto a dedicated trusted stack, and calls the
// guest entry point with the guest's own stack pointer loaded into the
// register the dispatch thunk expects it in. Guest code returns here
// only by executing a plain ret against the call frame this
// establishes — the dispatch thunk's designated exit path ends in one —
// or by faulting, which internal/fault's signal chain handles on the
// same thread and may resume past rather than let unwind here.
type AMD64Launcher struct{}

func (AMD64Launcher) Launch(ctx ThreadContext) (TerminationState, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	stack, err := unix.Mmap(-1, 0, trustedStackSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_STACK)
	if err != nil {
		return TerminationState{}, fmt.Errorf("session: allocating trusted call stack: %w", err)
	}
	defer unix.Munmap(stack)

	// Top of the mapping, 16-byte aligned, growing down like any other
	// call stack.
	trustedSP := (uintptr(unsafe.Pointer(&stack[len(stack)-1])) + 1) &^ 0xF

	exitCode := callGuest(ctx.PC, ctx.SP, trustedSP)

	state := TerminationState{ExitCode: exitCode}
	if kind, ok := fault.TakeLastFault(); ok {
		state.Faulted = true
		state.FaultTag = kind.String()
	}
	return state, nil
}

// callGuest is implemented in launch_amd64.s: it switches RSP onto
// trustedSP, calls pc with guestSP loaded as the guest's own stack
// pointer, and restores the Go stack before returning pc's result.
func callGuest(pc, guestSP, trustedSP uintptr) int32
