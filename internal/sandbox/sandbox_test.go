package sandbox

import "testing"

func smallSizes() Sizes {
	return Sizes{
		Text:    Quantum,
		RoData:  Quantum,
		Heap:    Quantum,
		SysData: Quantum,
		Stack:   Quantum,
	}
}

func TestReserve_BlocksOrderedAndContiguous(t *testing.T) {
	as, err := Reserve(24, smallSizes()) // small region for a fast test
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer as.Release()

	var prevEnd uintptr
	for i := LeftBumper; i <= RightBumper; i++ {
		b := as.Block(i)
		if i == LeftBumper {
			if b.Start != as.MemStart() {
				t.Errorf("first block does not start at mem_start")
			}
		} else if b.Start != prevEnd {
			t.Errorf("block %s starts at %#x, want %#x (non-contiguous)", i, b.Start, prevEnd)
		}
		if b.Size()%Quantum != 0 {
			t.Errorf("block %s size %d is not a quantum multiple", i, b.Size())
		}
		prevEnd = b.End
	}
	regionSize := uintptr(1) << 24
	if prevEnd != as.MemStart()+regionSize {
		t.Errorf("blocks cover %#x, want region size %#x", prevEnd-as.MemStart(), regionSize)
	}
}

func TestReserve_RejectsNonQuantumSize(t *testing.T) {
	sizes := smallSizes()
	sizes.Heap = 100 // not a multiple of Quantum
	if _, err := Reserve(24, sizes); err == nil {
		t.Fatal("expected error for non-quantum heap size")
	}
}

func TestUserToHostRoundTrip(t *testing.T) {
	as, err := Reserve(24, smallSizes())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer as.Release()

	for _, u := range []uintptr{0, 1, Quantum, (1 << 24) - 1} {
		h := as.UserToHost(u)
		if h == BadAddress {
			t.Fatalf("UserToHost(%#x) returned BadAddress", u)
		}
		if got := as.HostToUser(h); got != u {
			t.Errorf("HostToUser(UserToHost(%#x)) = %#x, want %#x", u, got, u)
		}
	}
}

func TestUserToHost_OutOfRangeIsBadAddress(t *testing.T) {
	as, err := Reserve(24, smallSizes())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer as.Release()

	if got := as.UserToHost(1 << 24); got != BadAddress {
		t.Errorf("UserToHost(out of range) = %#x, want BadAddress", got)
	}
}

func TestHostToUser_OutsideRegionIsBadAddress(t *testing.T) {
	as, err := Reserve(24, smallSizes())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer as.Release()

	if got := as.HostToUser(0); got != BadAddress {
		t.Errorf("HostToUser(0) = %#x, want BadAddress", got)
	}
}

func TestFinalize_AppliesProtectionAndLocksLayout(t *testing.T) {
	as, err := Reserve(24, smallSizes())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer as.Release()

	if err := as.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic calling Finalize twice")
		}
	}()
	as.Finalize()
}
