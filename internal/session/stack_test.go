package session

import (
	"encoding/binary"
	"testing"

	"github.com/zerovm-go/loader/internal/sandbox"
)

func testSpace(t *testing.T) (*sandbox.AddressSpace, sandbox.Block) {
	t.Helper()
	as, err := sandbox.Reserve(24, sandbox.Sizes{
		Text: sandbox.Quantum, RoData: sandbox.Quantum, Heap: sandbox.Quantum,
		SysData: sandbox.Quantum, Stack: sandbox.Quantum,
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	t.Cleanup(func() { as.Release() })
	return as, as.Block(sandbox.Stack)
}

func TestBuildStack_AuxvTerminatedAndContainsRequiredEntries(t *testing.T) {
	as, stackBlock := testSpace(t)

	st, err := BuildStack(as, stackBlock, []string{"prog", "arg1"}, []string{"HOME=/"}, 0x20000, 0x20100)
	if err != nil {
		t.Fatalf("BuildStack: %v", err)
	}
	if st.SP == 0 {
		t.Fatal("expected a non-zero stack pointer")
	}

	host := as.UserToHost(st.SP)
	if host == sandbox.BadAddress {
		t.Fatal("SP did not translate to a valid host address")
	}

	buf := as.SliceAt(host, stackBlock.End-host)
	argc := binary.LittleEndian.Uint64(buf[0:8])
	if argc != 2 {
		t.Errorf("argc = %d, want 2", argc)
	}

	word := func(i int) uint64 { return binary.LittleEndian.Uint64(buf[i*8:]) }
	i := 1 + int(argc) + 1 // past argc, the argv pointers and argv's null
	for word(i) != 0 {     // envp pointers
		i++
	}
	i++ // envp's null
	auxv := map[uint64]uint64{}
	terminated := false
	for ; (i+2)*8 <= len(buf); i += 2 {
		key, val := word(i), word(i+1)
		if key == AtNull {
			terminated = val == 0
			break
		}
		auxv[key] = val
	}
	if !terminated {
		t.Error("auxv is not terminated by (AT_NULL, 0)")
	}
	if auxv[AtEntry] != 0x20000 {
		t.Errorf("AT_ENTRY = %#x, want 0x20000", auxv[AtEntry])
	}
	if auxv[AtSysinfo] != 0x20100 {
		t.Errorf("AT_SYSINFO = %#x, want 0x20100", auxv[AtSysinfo])
	}
}

func TestBuildStack_RejectsOversizedImage(t *testing.T) {
	as, stackBlock := testSpace(t)

	hugeArgv := make([]string, 0, 10000)
	for i := 0; i < 10000; i++ {
		hugeArgv = append(hugeArgv, "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx")
	}
	if _, err := BuildStack(as, stackBlock, hugeArgv, nil, 0x20000, 0x20100); err == nil {
		t.Fatal("expected error for a stack image too large for the block")
	}
}

func TestBuildStack_EmptyArgvAndEnvp(t *testing.T) {
	as, stackBlock := testSpace(t)

	st, err := BuildStack(as, stackBlock, nil, nil, 0x20000, 0x20100)
	if err != nil {
		t.Fatalf("BuildStack: %v", err)
	}
	host := as.UserToHost(st.SP)
	argc := binary.LittleEndian.Uint64(as.SliceAt(host, 8))
	if argc != 0 {
		t.Errorf("argc = %d, want 0", argc)
	}
}
