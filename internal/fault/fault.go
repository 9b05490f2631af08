// Package fault installs the process-wide synchronous-fault handler
// chain and classifies faults that occur during guest execution.
//
// Handlers are a tagged enumeration rather than dynamic dispatch across
// a shared base interface, matching spec.md §9's guidance for this
// component: the chain is small, closed, and traversed in registration
// order every time.
package fault

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/zerovm-go/loader/internal/sandbox"
)

// Verdict is what a handler in the chain returns.
type Verdict int

const (
	Search Verdict = iota // try the next handler
	Skip                  // let the OS default disposition apply
	Return                // suppress the fault and resume the guest
)

// Kind classifies a synchronous fault by its originating signal.
type Kind int

const (
	IllegalInstruction Kind = iota
	Segv
	FloatingPointError
	BusError
)

func (k Kind) String() string {
	switch k {
	case IllegalInstruction:
		return "illegal-instruction"
	case Segv:
		return "segv"
	case FloatingPointError:
		return "fpe"
	case BusError:
		return "bus-error"
	default:
		return "unknown"
	}
}

// Info is what the terminal handler learns about one fault.
type Info struct {
	Kind       Kind
	PC         uintptr // faulting program counter, host address
	InSandbox  bool    // whether PC fell inside the sandbox's text range
}

// Handler is one link in the fault chain.
type Handler interface {
	Handle(Info) Verdict
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Info) Verdict

func (f HandlerFunc) Handle(info Info) Verdict { return f(info) }

// Chain is an ordered list of handlers, traversed front to back. The
// first handler to return anything other than Search ends the walk.
type Chain struct {
	handlers []Handler
}

// NewChain builds a chain from handlers, evaluated in the given order.
func NewChain(handlers ...Handler) *Chain {
	return &Chain{handlers: handlers}
}

// Dispatch walks the chain and returns the terminal verdict, defaulting
// to Skip if every handler returns Search.
func (c *Chain) Dispatch(info Info) Verdict {
	for _, h := range c.handlers {
		switch v := h.Handle(info); v {
		case Search:
			continue
		default:
			return v
		}
	}
	return Skip
}

// ExitState is the final disposition recorded for a faulted session.
type ExitState struct {
	Kind      Kind
	InSandbox bool
}

// Classify determines whether pc (a host virtual address) lies inside
// the sandbox's text range and logs the classification line.
func Classify(log *logrus.Logger, kind Kind, pc uintptr, as *sandbox.AddressSpace) ExitState {
	textBlock := as.Block(sandbox.Text)
	inSandbox := pc >= textBlock.Start && pc < textBlock.End

	log.WithFields(logrus.Fields{
		"fault": kind.String(),
		"pc":    fmt.Sprintf("%#x", pc),
		"in_sandbox": inSandbox,
	}).Warn("guest fault")

	return ExitState{Kind: kind, InSandbox: inSandbox}
}

// signalHandlingEnabled gates installation; SetSignalHandling(false)
// disables it entirely, for benchmarking runs that don't want the
// handler's overhead.
var signalHandlingEnabled = true

// SetSignalHandling enables or disables installation of the process-wide
// signal handler chain.
func SetSignalHandling(enabled bool) {
	signalHandlingEnabled = enabled
}

// installedChain, installedSpace and installedLog back the signal
// trampoline's callback (dispatchFault, in the arch-specific handler
// file): a kernel-invoked signal handler can't be handed a closure, so
// Install stashes what it needs here instead. Never mutated while a
// handler could be live — Install sets them before installing any
// sigaction, and release (below) clears them only after every sigaction
// has been restored.
var (
	installedChain *Chain
	installedSpace *sandbox.AddressSpace
	installedLog   *logrus.Logger
)

// lastFault records the most recent fault a handler chain resolved with
// Return, for session.Launcher to pick up once the guest call returns.
var lastFault struct {
	mu   sync.Mutex
	kind Kind
	set  bool
}

func recordFault(kind Kind) {
	lastFault.mu.Lock()
	lastFault.kind = kind
	lastFault.set = true
	lastFault.mu.Unlock()
}

// TakeLastFault returns the most recent fault a handler chain resumed
// past (Return verdict) and clears it. A Launcher calls this right
// after a guest call returns to learn whether that return followed a
// recovered fault rather than a clean guest exit.
func TakeLastFault() (Kind, bool) {
	lastFault.mu.Lock()
	defer lastFault.mu.Unlock()
	k, ok := lastFault.kind, lastFault.set
	lastFault.set = false
	return k, ok
}

func kindForSignal(sig int32) Kind {
	switch unix.Signal(sig) {
	case unix.SIGSEGV:
		return Segv
	case unix.SIGFPE:
		return FloatingPointError
	case unix.SIGBUS:
		return BusError
	default:
		return IllegalInstruction
	}
}

func signalFor(kind Kind) unix.Signal {
	switch kind {
	case Segv:
		return unix.SIGSEGV
	case FloatingPointError:
		return unix.SIGFPE
	case BusError:
		return unix.SIGBUS
	default:
		return unix.SIGILL
	}
}

// Install reserves the process-wide disposition for the synchronous
// fault signals and routes them through chain, unless signal handling
// has been disabled via SetSignalHandling. as and log back Classify's
// in-sandbox check and its logging from inside the signal handler.
//
// Routing a real kernel signal into chain needs a handler matching the
// SysV ABI the kernel invokes it with — supplied, for linux/amd64, by a
// small assembly trampoline (sigtramp_amd64.s) wired in by
// handlerAddr (handler_amd64_linux.go). Other platforms fall back to
// handlerAddr returning 0 (SIG_DFL) until they get their own, the same
// scoping session.Launcher's DefaultLauncher accepts for guest control
// transfer.
func Install(chain *Chain, as *sandbox.AddressSpace, log *logrus.Logger) (func(), error) {
	if !signalHandlingEnabled {
		return func() {}, nil
	}

	installedChain = chain
	installedSpace = as
	installedLog = log

	sigs := []unix.Signal{unix.SIGILL, unix.SIGSEGV, unix.SIGFPE, unix.SIGBUS}
	prev := make(map[unix.Signal]unix.Sigaction, len(sigs))

	for _, sig := range sigs {
		var old unix.Sigaction
		act := unix.Sigaction{
			Flags:   unix.SA_SIGINFO | unix.SA_ONSTACK,
			Mask:    1 << (uint64(sig) - 1),
			Handler: handlerAddr(),
		}
		if err := unix.Sigaction(int(sig), &act, &old); err != nil {
			return nil, fmt.Errorf("fault: installing handler for %v: %w", sig, err)
		}
		prev[sig] = old
	}

	release := func() {
		for sig, old := range prev {
			old := old
			unix.Sigaction(int(sig), &old, nil)
		}
		installedChain = nil
		installedSpace = nil
		installedLog = nil
	}
	return release, nil
}
