// Package session builds the guest's initial stack image and thread
// context and performs the one-way handoff into the dispatch thunk.
package session

import (
	"encoding/binary"
	"fmt"

	"github.com/zerovm-go/loader/internal/sandbox"
)

// Auxiliary-vector keys, numerically identical to the reference loader's
// sel_ldr.h (which in turn mirrors the Linux auxv numbering it needed).
const (
	AtNull    = 0  // terminating item in the auxv array
	AtEntry   = 9  // entry point of the executable
	AtSysinfo = 32 // system call entry point (trampoline gate address)
)

// stackAlign is the ABI stack-pointer alignment this profile requires.
const stackAlign = 16

// Stack is the constructed initial user stack, ready to be handed to the
// dispatch thunk as the guest's stack pointer.
type Stack struct {
	// SP is the guest-relative stack pointer to load before transfer:
	// the address of argc.
	SP uintptr
}

// BuildStack lays out, from high to low addresses within the stack
// block: the auxiliary vector (terminated by (AT_NULL, 0) and containing
// at minimum AT_ENTRY and AT_SYSINFO), the envp array (null-terminated),
// the argv array (null-terminated), then argc. Everything is written in
// guest-relative-address-sized words (8 bytes on this profile).
func BuildStack(as *sandbox.AddressSpace, stackBlock sandbox.Block, argv, envp []string, entryPt, sysinfoAddr uintptr) (*Stack, error) {
	const wordSize = 8

	// Compute the total size needed, then lay it out so the final stack
	// pointer (the address of argc) falls on a stackAlign boundary.
	auxvWords := 2*2 + 2 // AT_ENTRY pair, AT_SYSINFO pair, AT_NULL pair
	envWords := len(envp) + 1
	argWords := len(argv) + 1
	argcWords := 1

	totalWords := auxvWords + envWords + argWords + argcWords
	size := uintptr(totalWords * wordSize)

	stringsSize := uintptr(0)
	for _, s := range argv {
		stringsSize += uintptr(len(s)) + 1
	}
	for _, s := range envp {
		stringsSize += uintptr(len(s)) + 1
	}
	// +stackAlign-1 covers the padding introduced by aligning the word
	// region's start up from the end of the variable-length strings area.
	total := alignUp(size+stringsSize+(stackAlign-1), stackAlign)
	if total > stackBlock.Size() {
		return nil, fmt.Errorf("session: stack image %d bytes exceeds stack block of %d bytes", total, stackBlock.Size())
	}

	top := stackBlock.End
	base := top - total
	buf := as.SliceAt(base, total)
	for i := range buf {
		buf[i] = 0
	}

	// Strings area grows up from base; pointer/word area follows it.
	strOff := uintptr(0)
	writeString := func(s string) uintptr {
		addr := as.HostToUser(base) + strOff
		copy(buf[strOff:], s)
		buf[strOff+uintptr(len(s))] = 0
		strOff += uintptr(len(s)) + 1
		return addr
	}

	argvAddrs := make([]uintptr, len(argv))
	for i, s := range argv {
		argvAddrs[i] = writeString(s)
	}
	envpAddrs := make([]uintptr, len(envp))
	for i, s := range envp {
		envpAddrs[i] = writeString(s)
	}

	wordOff := alignUp(strOff, stackAlign)
	putWord := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[wordOff:], v)
		wordOff += wordSize
	}

	argcAddr := as.HostToUser(base) + wordOff
	putWord(uint64(len(argv)))
	for _, a := range argvAddrs {
		putWord(uint64(a))
	}
	putWord(0)
	for _, a := range envpAddrs {
		putWord(uint64(a))
	}
	putWord(0)
	putWord(AtEntry)
	putWord(uint64(entryPt))
	putWord(AtSysinfo)
	putWord(uint64(sysinfoAddr))
	putWord(AtNull)
	putWord(0)

	if wordOff > total {
		return nil, fmt.Errorf("session: stack layout overran its reservation by %d bytes", wordOff-total)
	}

	return &Stack{SP: argcAddr}, nil
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
