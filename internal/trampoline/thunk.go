package trampoline

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zerovm-go/loader/internal/sandbox"
)

// Thunk is an installed dispatch thunk: a small trusted code fragment
// living outside the sandbox, allocated on its own executable mapping so
// its lifetime is independent of the sandbox's address space.
type Thunk struct {
	Addr uintptr // host virtual address the thunk was loaded at
	mem  []byte
}

// MakeDispatchThunk copies template into a freshly mapped read-write
// page, applies patch (rewriting the absolute-address placeholders in
// template to the thunk's actual load address and to the trap handler's
// address), then switches the mapping to read-exec. The returned Thunk's
// Addr is the value patch.Dst should have been computed against.
func MakeDispatchThunk(template []byte, patch Info) (*Thunk, error) {
	size := alignUp(len(template), sandbox.PageSize)
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("trampoline: mapping dispatch thunk: %w", err)
	}

	if err := Apply(mem, template, patch); err != nil {
		unix.Munmap(mem)
		return nil, err
	}

	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("trampoline: protecting dispatch thunk: %w", err)
	}

	return &Thunk{Addr: uintptr(unsafe.Pointer(&mem[0])), mem: mem}, nil
}

// FreeDispatchThunk unmaps the thunk's memory. Safe to call at most once.
func FreeDispatchThunk(t *Thunk) error {
	if t == nil || t.mem == nil {
		return nil
	}
	err := unix.Munmap(t.mem)
	t.mem = nil
	return err
}

func alignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}
