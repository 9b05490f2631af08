package elfload

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/zerovm-go/loader/internal/sandbox"
)

// buildMinimalELF constructs a minimal well-formed ELF64/LE/x86-64 ET_EXEC
// image with a single text PT_LOAD segment at sandbox.StaticTextStart,
// entry pointing at the first instruction byte. Good enough to exercise
// Load without needing a real toolchain-produced nexe.
func buildMinimalELF(t *testing.T, text []byte) []byte {
	t.Helper()
	const (
		ehsize = 64
		phsize = 56
	)
	offset := uint64(sandbox.StaticTextStart)

	buf := make([]byte, offset+uint64(len(text)))

	// e_ident
	copy(buf[0:4], "\x7fELF")
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	// rest of e_ident left zero (ELFOSABI_NONE)

	le := binary.LittleEndian
	le.PutUint16(buf[16:], uint16(elf.ET_EXEC))
	le.PutUint16(buf[18:], uint16(elf.EM_X86_64))
	le.PutUint32(buf[20:], 1) // e_version
	le.PutUint64(buf[24:], offset)   // e_entry: first byte of text
	le.PutUint64(buf[32:], ehsize)   // e_phoff
	le.PutUint64(buf[40:], 0)        // e_shoff
	le.PutUint32(buf[48:], 0)        // e_flags
	le.PutUint16(buf[52:], ehsize)   // e_ehsize
	le.PutUint16(buf[54:], phsize)   // e_phentsize
	le.PutUint16(buf[56:], 1)        // e_phnum
	le.PutUint16(buf[58:], 0)        // e_shentsize
	le.PutUint16(buf[60:], 0)        // e_shnum
	le.PutUint16(buf[62:], 0)        // e_shstrndx

	ph := buf[ehsize : ehsize+phsize]
	le.PutUint32(ph[0:], uint32(elf.PT_LOAD))
	le.PutUint32(ph[4:], uint32(elf.PF_X|elf.PF_R))
	le.PutUint64(ph[8:], offset)               // p_offset
	le.PutUint64(ph[16:], offset)              // p_vaddr
	le.PutUint64(ph[24:], offset)              // p_paddr
	le.PutUint64(ph[32:], uint64(len(text)))   // p_filesz
	le.PutUint64(ph[40:], uint64(len(text)))   // p_memsz
	le.PutUint64(ph[48:], sandbox.PageSize)    // p_align

	copy(buf[offset:], text)

	if _, err := elf.NewFile(bytes.NewReader(buf)); err != nil {
		t.Fatalf("buildMinimalELF produced an unparsable image: %v", err)
	}
	return buf
}

func testSizes() sandbox.Sizes {
	return sandbox.Sizes{
		Text:    sandbox.Quantum,
		RoData:  sandbox.Quantum,
		Heap:    sandbox.Quantum,
		SysData: sandbox.Quantum,
		Stack:   sandbox.Quantum,
	}
}

func TestLoad_HappyPath(t *testing.T) {
	as, err := sandbox.Reserve(24, testSizes())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer as.Release()

	img := buildMinimalELF(t, []byte{0x90, 0x90, 0xC3}) // nop; nop; ret
	res, err := Load(img, as, DefaultProfile, 32)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if res.StaticTextStart != sandbox.StaticTextStart {
		t.Errorf("StaticTextStart = %#x", res.StaticTextStart)
	}
	if res.StaticTextEnd%32 != 0 {
		t.Errorf("StaticTextEnd %#x not bundle-aligned", res.StaticTextEnd)
	}
	if res.DynamicTextStart != res.DynamicTextEnd || res.DynamicTextStart != res.StaticTextEnd {
		t.Errorf("expected degenerate dynamic text range, got [%#x, %#x) vs static end %#x", res.DynamicTextStart, res.DynamicTextEnd, res.StaticTextEnd)
	}
	if res.InitialEntryPt != sandbox.StaticTextStart {
		t.Errorf("InitialEntryPt = %#x, want %#x", res.InitialEntryPt, uintptr(sandbox.StaticTextStart))
	}
	if res.UserEntryPt != 0 {
		t.Errorf("UserEntryPt should stay reserved at zero, got %#x", res.UserEntryPt)
	}

	// Verify the copied bytes and halt-fill padding landed correctly.
	host := as.UserToHost(sandbox.StaticTextStart)
	gotText := as.SliceAt(host, 3)
	if !bytes.Equal(gotText, []byte{0x90, 0x90, 0xC3}) {
		t.Errorf("copied text = %v, want nop;nop;ret", gotText)
	}
	padStart := as.UserToHost(sandbox.StaticTextStart + 3)
	pad := as.SliceAt(padStart, res.StaticTextEnd-(sandbox.StaticTextStart+3))
	for i, b := range pad {
		if b != sandbox.SafeHalt[0] {
			t.Fatalf("padding byte %d = %#x, want safe-halt %#x", i, b, sandbox.SafeHalt[0])
		}
	}
}

func TestLoad_RejectsBadBundleSize(t *testing.T) {
	as, err := sandbox.Reserve(24, testSizes())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer as.Release()

	img := buildMinimalELF(t, []byte{0xC3})
	if _, err := Load(img, as, DefaultProfile, 24); err == nil {
		t.Fatal("expected error for non-16/32 bundle size")
	}
}

func TestLoad_RejectsEntryOutsideText(t *testing.T) {
	as, err := sandbox.Reserve(24, testSizes())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer as.Release()

	img := buildMinimalELF(t, []byte{0xC3})
	// Corrupt e_entry to point well past the text segment.
	binary.LittleEndian.PutUint64(img[24:], uint64(sandbox.StaticTextStart)+0x10000)

	if _, err := Load(img, as, DefaultProfile, 32); err == nil {
		t.Fatal("expected error for out-of-range entry point")
	}
}
