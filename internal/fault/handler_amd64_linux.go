//go:build amd64 && linux

package fault

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zerovm-go/loader/internal/sandbox"
)

// sigTrampoline is the assembly entry point the kernel calls directly
// for SIGILL/SIGSEGV/SIGFPE/SIGBUS once Install has wired it in via
// handlerAddr; see sigtramp_amd64.s. It follows the SysV ABI the kernel
// uses for an SA_SIGINFO handler: RDI holds the signal number, RSI a
// *siginfo_t (unused here), RDX a *ucontext_t.
func sigTrampoline()

// trampolineAddr recovers sigTrampoline's raw code address. A Go func
// value for a plain, non-closure, ABI0-callable function is a pointer
// whose first word is that address — the same trick golang.org/x/sys/unix
// uses internally to hand the kernel its own sigreturn trampoline.
var trampolineAddr = func() uintptr {
	fn := sigTrampoline
	return **(**uintptr)(unsafe.Pointer(&fn))
}()

func handlerAddr() uintptr { return trampolineAddr }

// ucontextRipOffset is uc_mcontext.gregs[REG_RIP]'s byte offset inside
// ucontext_t on linux/amd64: uc_flags, uc_link and uc_stack occupy the
// first 40 bytes, then sigcontext's sixteen leading 64-bit registers
// (r8..r15, rdi, rsi, rbp, rbx, rdx, rax, rcx, rsp) precede rip.
const ucontextRipOffset = 40 + 16*8

func ripFromContext(ctx uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(ctx + ucontextRipOffset))
}

func setRipInContext(ctx uintptr, pc uintptr) {
	*(*uintptr)(unsafe.Pointer(ctx + ucontextRipOffset)) = pc
}

// skipLen is how far dispatchFault advances past a faulting instruction
// when a handler returns Return. ud2 (0x0F 0x0B), a fixed two-byte
// instruction, is the only one this package knows how to skip past, so
// only IllegalInstruction has an entry; any other kind falls back to the
// Skip path below.
var skipLen = map[Kind]uintptr{
	IllegalInstruction: 2,
}

// dispatchFault is called by sigTrampoline on the faulting thread, with
// whatever g the Go scheduler had already bound to it. That binding is
// still valid here because these are synchronous faults: they always
// arrive on the thread that caused them, typically the one
// session.AMD64Launcher locked via runtime.LockOSThread before handing
// control to the guest, not an arbitrary thread with no Go state.
func dispatchFault(sig int32, ctx uintptr) {
	kind := kindForSignal(sig)
	pc := ripFromContext(ctx)

	var inSandbox bool
	if installedSpace != nil {
		textBlock := installedSpace.Block(sandbox.Text)
		inSandbox = pc >= textBlock.Start && pc < textBlock.End
	}

	verdict := Skip
	if installedChain != nil {
		verdict = installedChain.Dispatch(Info{Kind: kind, PC: pc, InSandbox: inSandbox})
	}
	if installedLog != nil && installedSpace != nil {
		Classify(installedLog, kind, pc, installedSpace)
	}

	if verdict == Return {
		if n, ok := skipLen[kind]; ok {
			recordFault(kind)
			setRipInContext(ctx, pc+n)
			return
		}
	}

	// Skip, or a Return this package has no skip length for: restore
	// the default disposition and re-raise, so the kernel's own
	// handling — ordinarily process termination — takes over as soon
	// as this handler returns and the signal is unblocked.
	reset := unix.Sigaction{Handler: 0}
	unix.Sigaction(int(signalFor(kind)), &reset, nil)
	unix.Kill(unix.Getpid(), signalFor(kind))
}
