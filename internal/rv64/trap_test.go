package rv64

import "testing"

func TestTrapEntryMachine(t *testing.T) {
	h := NewHart(0)
	h.Reset(0x80000000)
	h.PrevPC = 0x80000000
	h.PC = 0x80000004
	h.CSR.WriteRaw(CSRMtvec, 0x80002000)
	h.CSR.WriteRaw(CSRMstatus, MstatusMIE)

	h.EnterTrap(Trap{Cause: CauseIllegalInsn, Tval: 0xdead})

	if got := h.CSR.ReadRaw(CSRMepc); got != 0x80000000 {
		t.Errorf("mepc: got %#x, want prev_pc", got)
	}
	if got := h.CSR.ReadRaw(CSRMcause); got != CauseIllegalInsn {
		t.Errorf("mcause: got %d", got)
	}
	if got := h.CSR.ReadRaw(CSRMtval); got != 0xdead {
		t.Errorf("mtval: got %#x", got)
	}
	if h.PC != 0x80002000 {
		t.Errorf("pc: got %#x, want mtvec", h.PC)
	}
	if h.Priv != PrivMachine {
		t.Errorf("priv: got %d", h.Priv)
	}

	mstatus := h.CSR.ReadRaw(CSRMstatus)
	if mstatus&MstatusMIE != 0 {
		t.Error("MIE not cleared on trap entry")
	}
	if mstatus&MstatusMPIE == 0 {
		t.Error("MPIE did not capture the old MIE")
	}
	if mpp := (mstatus >> MstatusMPPShift) & 3; mpp != uint64(PrivMachine) {
		t.Errorf("MPP: got %d, want machine", mpp)
	}
}

func TestTrapDelegationToSupervisor(t *testing.T) {
	h := NewHart(0)
	h.Reset(0x80000000)
	h.Priv = PrivUser
	h.PrevPC = 0x1000
	h.CSR.WriteRaw(CSRMedeleg, 1<<CauseEcallFromU)
	h.CSR.WriteRaw(CSRStvec, 0x80003000)

	h.EnterTrap(Trap{Cause: CauseEcallFromU})

	if h.Priv != PrivSupervisor {
		t.Fatalf("priv: got %d, want supervisor", h.Priv)
	}
	if got := h.CSR.ReadRaw(CSRSepc); got != 0x1000 {
		t.Errorf("sepc: got %#x, want 0x1000", got)
	}
	if got := h.CSR.ReadRaw(CSRScause); got != CauseEcallFromU {
		t.Errorf("scause: got %d", got)
	}
	if h.PC != 0x80003000 {
		t.Errorf("pc: got %#x, want stvec", h.PC)
	}
	if h.CSR.ReadRaw(CSRMstatus)&MstatusSPP != 0 {
		t.Error("SPP should record user mode (0)")
	}
}

func TestTrapNotDelegatedFromMachine(t *testing.T) {
	// Delegation applies only when trapping from S or U.
	h := NewHart(0)
	h.Reset(0x80000000)
	h.Priv = PrivMachine
	h.CSR.WriteRaw(CSRMedeleg, 1<<CauseIllegalInsn)
	h.CSR.WriteRaw(CSRMtvec, 0x80002000)

	h.EnterTrap(Trap{Cause: CauseIllegalInsn})

	if h.Priv != PrivMachine || h.PC != 0x80002000 {
		t.Errorf("trap from M was delegated: priv=%d pc=%#x", h.Priv, h.PC)
	}
}

func TestInterruptCauseEncoding(t *testing.T) {
	h := NewHart(0)
	h.Reset(0x80000000)
	h.PC = 0x80000010
	h.CSR.WriteRaw(CSRMtvec, 0x80002000)

	h.EnterTrap(Trap{Cause: CauseMTimerInt})

	if got := h.CSR.ReadRaw(CSRMcause); got != (InterruptBit | 7) {
		t.Errorf("mcause: got %#x, want interrupt bit | 7", got)
	}
	// Interrupts record the next instruction, not prev_pc.
	if got := h.CSR.ReadRaw(CSRMepc); got != 0x80000010 {
		t.Errorf("mepc: got %#x, want pc", got)
	}
}

func TestMretRestoresMIE(t *testing.T) {
	h := NewHart(0)
	h.Reset(0x80000000)
	h.CSR.WriteRaw(CSRMtvec, 0x80002000)
	h.CSR.WriteRaw(CSRMstatus, MstatusMIE)
	h.EnterTrap(Trap{Cause: CauseEcallFromM})

	mpieBefore := h.CSR.ReadRaw(CSRMstatus) & MstatusMPIE
	h.CSR.WriteRaw(CSRMepc, 0x80000042&^uint64(1))

	h.mret()

	mstatus := h.CSR.ReadRaw(CSRMstatus)
	if (mstatus&MstatusMIE != 0) != (mpieBefore != 0) {
		t.Error("MIE does not equal the prior MPIE")
	}
	if mstatus&MstatusMPIE == 0 {
		t.Error("MPIE not set after mret")
	}
	if mstatus&MstatusMPP != 0 {
		t.Error("MPP not reset to user")
	}
	if h.PC != 0x80000042 {
		t.Errorf("pc: got %#x, want mepc", h.PC)
	}
}

func TestSretRestoresPrivilege(t *testing.T) {
	h := NewHart(0)
	h.Reset(0x80000000)
	h.Priv = PrivSupervisor
	h.CSR.WriteRaw(CSRMstatus, MstatusSPP|MstatusSPIE)
	h.CSR.WriteRaw(CSRSepc, 0x4000)

	h.sret()

	if h.Priv != PrivSupervisor {
		t.Errorf("priv: got %d, want supervisor (SPP was 1)", h.Priv)
	}
	if h.CSR.ReadRaw(CSRMstatus)&MstatusSIE == 0 {
		t.Error("SIE not restored from SPIE")
	}
	if h.PC != 0x4000 {
		t.Errorf("pc: got %#x, want sepc", h.PC)
	}
}

func TestSretFromUserIsIllegal(t *testing.T) {
	h := NewHart(0)
	h.Reset(0x80000000)
	h.Priv = PrivUser

	st := h.sret()
	if st.Kind != StageTrap || st.Trap.Cause != CauseIllegalInsn {
		t.Errorf("sret from U: got %+v", st)
	}
}

func TestInterruptPriorityOrder(t *testing.T) {
	h := NewHart(0)
	h.Reset(0x80000000)
	h.CSR.WriteRaw(CSRMstatus, MstatusMIE)
	h.CSR.WriteRaw(CSRMie, MipMEIP|MipMTIP|MipMSIP|MipSEIP)

	// Everything pending at once: SEIP wins.
	h.CSR.WriteRaw(CSRMip, MipMEIP|MipMTIP|MipMSIP|MipSEIP)
	if cause, ok := h.PendingInterrupt(); !ok || cause != CauseSExternalInt {
		t.Errorf("priority: got %#x ok=%v, want SEIP", cause, ok)
	}

	h.CSR.WriteRaw(CSRMip, MipMEIP|MipMTIP|MipMSIP)
	if cause, _ := h.PendingInterrupt(); cause != CauseMExternalInt {
		t.Errorf("priority: got %#x, want MEIP", cause)
	}

	h.CSR.WriteRaw(CSRMip, MipMTIP|MipMSIP)
	if cause, _ := h.PendingInterrupt(); cause != CauseMSoftwareInt {
		t.Errorf("priority: got %#x, want MSIP", cause)
	}

	h.CSR.WriteRaw(CSRMip, MipMTIP)
	if cause, _ := h.PendingInterrupt(); cause != CauseMTimerInt {
		t.Errorf("priority: got %#x, want MTIP", cause)
	}
}

func TestInterruptGlobalEnable(t *testing.T) {
	h := NewHart(0)
	h.Reset(0x80000000)
	h.CSR.WriteRaw(CSRMie, MipMTIP)
	h.CSR.WriteRaw(CSRMip, MipMTIP)

	// Machine mode with MIE clear: masked.
	if _, ok := h.PendingInterrupt(); ok {
		t.Error("interrupt taken with MIE clear in M-mode")
	}

	h.CSR.WriteRaw(CSRMstatus, MstatusMIE)
	if _, ok := h.PendingInterrupt(); !ok {
		t.Error("interrupt not taken with MIE set")
	}

	// Lower privilege takes M-mode interrupts regardless of MIE.
	h.CSR.WriteRaw(CSRMstatus, 0)
	h.Priv = PrivUser
	if _, ok := h.PendingInterrupt(); !ok {
		t.Error("M interrupt not taken from U-mode")
	}
}

func TestDelegatedInterruptEnable(t *testing.T) {
	h := NewHart(0)
	h.Reset(0x80000000)
	h.CSR.WriteRaw(CSRMideleg, MipSTIP)
	h.CSR.WriteRaw(CSRMie, MipSTIP)
	h.CSR.WriteRaw(CSRMip, MipSTIP)

	// Delegated interrupts are invisible to M-mode.
	h.Priv = PrivMachine
	h.CSR.WriteRaw(CSRMstatus, MstatusMIE)
	if _, ok := h.PendingInterrupt(); ok {
		t.Error("delegated interrupt taken in M-mode")
	}

	// In S-mode they honor SIE.
	h.Priv = PrivSupervisor
	h.CSR.WriteRaw(CSRMstatus, 0)
	if _, ok := h.PendingInterrupt(); ok {
		t.Error("delegated interrupt taken with SIE clear")
	}
	h.CSR.WriteRaw(CSRMstatus, MstatusSIE)
	if cause, ok := h.PendingInterrupt(); !ok || cause != CauseSTimerInt {
		t.Errorf("delegated interrupt: got %#x ok=%v", cause, ok)
	}
}
