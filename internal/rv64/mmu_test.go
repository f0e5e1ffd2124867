package rv64

import (
	"bytes"
	"testing"
)

// writePTE stores a page table entry at a physical address.
func writePTE(m *MMU, paddr uint64, ppn uint64, flags uint64) {
	m.RAM().Write(paddr-m.RAMBase(), 8, ppn<<10|flags)
}

func readPTE(m *MMU, paddr uint64) uint64 {
	v, _ := m.RAM().Read(paddr-m.RAMBase(), 8)
	return v
}

func newSv39Machine() *Machine {
	var console bytes.Buffer
	m := NewMachine(8<<20, &console)

	// Three-level table mapping vaddr 0x1000 to paddr RAMBase+0x2000:
	// root at +0x1000, level-1 at +0x3000, level-0 at +0x4000.
	mm := m.MMU
	writePTE(mm, RAMBase+0x1000, (RAMBase+0x3000)>>12, PteV)
	writePTE(mm, RAMBase+0x3000, (RAMBase+0x4000)>>12, PteV)
	writePTE(mm, RAMBase+0x4000+1*8, (RAMBase+0x2000)>>12, PteV|PteR|PteW|PteX|PteA|PteD)

	mm.SetSATP(uint64(SatpModeSv39)<<60 | (RAMBase+0x1000)>>12)
	mm.SetPrivilege(PrivSupervisor)
	mm.SetMstatus(0)
	return m
}

func TestSv39Translation(t *testing.T) {
	m := newSv39Machine()
	mm := m.MMU

	mm.RAM().Write(0x2000+0x10, 4, 0xcafebabe)

	v, trap := mm.Read32(0x1000 + 0x10)
	if trap != nil {
		t.Fatalf("read faulted: %v", trap)
	}
	if v != 0xcafebabe {
		t.Errorf("read through sv39: got %#x, want 0xcafebabe", v)
	}

	if trap := mm.Write32(0x1000+0x20, 0x12345678); trap != nil {
		t.Fatalf("write faulted: %v", trap)
	}
	raw, _ := mm.RAM().Read(0x2000+0x20, 4)
	if raw != 0x12345678 {
		t.Errorf("write through sv39: got %#x", raw)
	}
}

func TestSv39InvalidPTE(t *testing.T) {
	m := newSv39Machine()
	mm := m.MMU

	// vaddr 0x2000 walks to level-0 entry 2, which is all zero (V=0).
	_, trap := mm.Read32(0x2000)
	if trap == nil {
		t.Fatal("read of unmapped page did not fault")
	}
	if trap.Cause != CauseLoadPageFault {
		t.Errorf("cause: got %d, want LoadPageFault", trap.Cause)
	}
	if trap.Tval != 0x2000 {
		t.Errorf("tval: got %#x, want the virtual address", trap.Tval)
	}

	if trap := mm.Write32(0x2000, 0); trap == nil || trap.Cause != CauseStorePageFault {
		t.Errorf("store fault: got %v", trap)
	}
	if _, _, trap := mm.Fetch(0x2000); trap == nil || trap.Cause != CauseInsnPageFault {
		t.Errorf("fetch fault: got %v", trap)
	}
}

func TestSv39WriteOnlyPTEFaults(t *testing.T) {
	m := newSv39Machine()
	mm := m.MMU

	// R=0, W=1 is a malformed PTE.
	writePTE(mm, RAMBase+0x4000+1*8, (RAMBase+0x2000)>>12, PteV|PteW|PteA|PteD)
	if _, trap := mm.Read32(0x1000); trap == nil {
		t.Error("malformed PTE did not fault")
	}
}

func TestSv39AccessedDirtyUpdate(t *testing.T) {
	m := newSv39Machine()
	mm := m.MMU
	leaf := RAMBase + 0x4000 + 1*8

	// Clear A and D; a read must set A, a write must set D.
	writePTE(mm, leaf, (RAMBase+0x2000)>>12, PteV|PteR|PteW)

	if _, trap := mm.Read32(0x1000); trap != nil {
		t.Fatalf("read faulted: %v", trap)
	}
	if pte := readPTE(mm, leaf); pte&PteA == 0 {
		t.Error("A bit not set by read")
	} else if pte&PteD != 0 {
		t.Error("D bit set by read")
	}

	if trap := mm.Write32(0x1000, 1); trap != nil {
		t.Fatalf("write faulted: %v", trap)
	}
	if pte := readPTE(mm, leaf); pte&PteD == 0 {
		t.Error("D bit not set by write")
	}
}

func TestSv39Superpage(t *testing.T) {
	var console bytes.Buffer
	m := NewMachine(8<<20, &console)
	mm := m.MMU

	// Root at +0x1000 points at a level-1 table whose entry 0 is a 2MB
	// leaf at RAMBase+0x200000.
	writePTE(mm, RAMBase+0x1000, (RAMBase+0x3000)>>12, PteV)
	writePTE(mm, RAMBase+0x3000, (RAMBase+0x200000)>>12, PteV|PteR|PteW|PteA|PteD)

	mm.SetSATP(uint64(SatpModeSv39)<<60 | (RAMBase+0x1000)>>12)
	mm.SetPrivilege(PrivSupervisor)

	mm.RAM().Write(0x302345, 1, 0xab)

	v, trap := mm.Read8(0x102345)
	if trap != nil {
		t.Fatalf("superpage read faulted: %v", trap)
	}
	if v != 0xab {
		t.Errorf("superpage read: got %#x, want 0xab", v)
	}
}

func TestSv39MisalignedSuperpageFaults(t *testing.T) {
	var console bytes.Buffer
	m := NewMachine(8<<20, &console)
	mm := m.MMU

	// A level-1 leaf whose low PPN bits are nonzero is misaligned.
	writePTE(mm, RAMBase+0x1000, (RAMBase+0x3000)>>12, PteV)
	writePTE(mm, RAMBase+0x3000, (RAMBase+0x201000)>>12, PteV|PteR|PteA)

	mm.SetSATP(uint64(SatpModeSv39)<<60 | (RAMBase+0x1000)>>12)
	mm.SetPrivilege(PrivSupervisor)

	if _, trap := mm.Read8(0x0); trap == nil {
		t.Error("misaligned superpage did not fault")
	}
}

func TestSv39UserPagePermissions(t *testing.T) {
	m := newSv39Machine()
	mm := m.MMU
	leaf := RAMBase + 0x4000 + 1*8

	writePTE(mm, leaf, (RAMBase+0x2000)>>12, PteV|PteR|PteW|PteX|PteU|PteA|PteD)

	// Supervisor load of a user page requires SUM.
	mm.SetMstatus(0)
	if _, trap := mm.Read32(0x1000); trap == nil {
		t.Error("supervisor read of user page without SUM did not fault")
	}
	mm.SetMstatus(MstatusSUM)
	if _, trap := mm.Read32(0x1000); trap != nil {
		t.Errorf("supervisor read with SUM faulted: %v", trap)
	}

	// Supervisor never executes user pages.
	if _, _, trap := mm.Fetch(0x1000); trap == nil {
		t.Error("supervisor execute of user page did not fault")
	}

	// User access to a supervisor-only page faults.
	writePTE(mm, leaf, (RAMBase+0x2000)>>12, PteV|PteR|PteA|PteD)
	mm.SetPrivilege(PrivUser)
	if _, trap := mm.Read32(0x1000); trap == nil {
		t.Error("user read of supervisor page did not fault")
	}
}

func TestMachineModeIdentity(t *testing.T) {
	m, _ := newTestMachine()
	mm := m.MMU

	// Even with SV39 programmed, machine mode bypasses translation.
	mm.SetSATP(uint64(SatpModeSv39) << 60)
	mm.SetPrivilege(PrivMachine)

	mm.RAM().Write(0x100, 4, 0x11223344)
	v, trap := mm.Read32(RAMBase + 0x100)
	if trap != nil || v != 0x11223344 {
		t.Errorf("identity read: got %#x trap=%v", v, trap)
	}
}

func TestAccessFaultOutsideDevices(t *testing.T) {
	m, _ := newTestMachine()

	_, trap := m.MMU.Read32(0x10)
	if trap == nil {
		t.Fatal("read of unmapped address did not fault")
	}
	if trap.Cause != CauseLoadAccessFault {
		t.Errorf("cause: got %d, want LoadAccessFault", trap.Cause)
	}
	if trap.Tval != 0x10 {
		t.Errorf("tval: got %#x, want the address", trap.Tval)
	}

	if trap := m.MMU.Write32(0x10, 0); trap == nil || trap.Cause != CauseStoreAccessFault {
		t.Errorf("store access fault: got %v", trap)
	}
}

func TestFetchCompressedDetection(t *testing.T) {
	m, _ := newTestMachine()
	m.MMU.LoadBytes(RAMBase, []byte{0x15, 0x45})                   // c.li a0, 5
	m.MMU.LoadBytes(RAMBase+2, []byte{0x93, 0x02, 0xa0, 0x02})     // addi x5, x0, 42

	word, compressed, trap := m.MMU.Fetch(RAMBase)
	if trap != nil || !compressed || word != 0x4515 {
		t.Errorf("compressed fetch: word=%#x compressed=%v trap=%v", word, compressed, trap)
	}

	word, compressed, trap = m.MMU.Fetch(RAMBase + 2)
	if trap != nil || compressed || word != 0x02a00293 {
		t.Errorf("full fetch: word=%#x compressed=%v trap=%v", word, compressed, trap)
	}
}

func TestDeviceRouting(t *testing.T) {
	m, _ := newTestMachine()

	// A store to the UART THR lands in the device, not RAM.
	if trap := m.MMU.Write8(UARTBase, 'A'); trap != nil {
		t.Fatalf("uart write faulted: %v", trap)
	}
	// CLINT mtimecmp readback.
	if trap := m.MMU.Write64(CLINTBase+0x4000, 1234); trap != nil {
		t.Fatalf("clint write faulted: %v", trap)
	}
	v, trap := m.MMU.Read64(CLINTBase + 0x4000)
	if trap != nil || v != 1234 {
		t.Errorf("clint mtimecmp: got %d trap=%v", v, trap)
	}
}
