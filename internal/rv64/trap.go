package rv64

// interrupt arbitration order, highest priority first.
var interruptPriority = [6]struct {
	bit   uint64
	cause uint64
}{
	{MipSEIP, CauseSExternalInt},
	{MipMEIP, CauseMExternalInt},
	{MipMSIP, CauseMSoftwareInt},
	{MipMTIP, CauseMTimerInt},
	{MipSSIP, CauseSSoftwareInt},
	{MipSTIP, CauseSTimerInt},
}

// PendingInterrupt returns the highest-priority interrupt that should be
// taken now. An interrupt fires iff its mip&mie bit is set and the target
// privilege's global enable permits it, with the target chosen by
// mideleg.
func (h *Hart) PendingInterrupt() (uint64, bool) {
	pending := h.CSR.ReadRaw(CSRMip) & h.CSR.ReadRaw(CSRMie)
	if pending == 0 {
		return 0, false
	}

	mideleg := h.CSR.ReadRaw(CSRMideleg)
	mstatus := h.CSR.ReadRaw(CSRMstatus)

	for _, p := range interruptPriority {
		if pending&p.bit == 0 {
			continue
		}
		if mideleg&p.bit != 0 {
			// Delegated: taken in S-mode.
			if h.Priv < PrivSupervisor ||
				(h.Priv == PrivSupervisor && mstatus&MstatusSIE != 0) {
				return p.cause, true
			}
		} else {
			// Taken in M-mode.
			if h.Priv < PrivMachine || mstatus&MstatusMIE != 0 {
				return p.cause, true
			}
		}
	}
	return 0, false
}

// EnterTrap performs architectural trap entry: privilege selection by
// delegation, interrupt-enable stacking, epc/cause/tval bookkeeping and
// the redirect to the trap vector (direct mode).
func (h *Hart) EnterTrap(t Trap) {
	isInterrupt := t.Cause&InterruptBit != 0
	code := t.Cause &^ InterruptBit

	// For synchronous traps epc is the faulting instruction; for
	// interrupts it is the instruction that would execute next.
	epc := h.PrevPC
	if isInterrupt {
		epc = h.PC
	}

	deleg := h.CSR.ReadRaw(CSRMedeleg)
	if isInterrupt {
		deleg = h.CSR.ReadRaw(CSRMideleg)
	}
	toSupervisor := h.Priv <= PrivSupervisor && deleg&(1<<code) != 0

	mstatus := h.CSR.ReadRaw(CSRMstatus)

	if toSupervisor {
		h.CSR.WriteRaw(CSRSepc, epc)
		h.CSR.WriteRaw(CSRScause, t.Cause)
		h.CSR.WriteRaw(CSRStval, t.Tval)

		if mstatus&MstatusSIE != 0 {
			mstatus |= MstatusSPIE
		} else {
			mstatus &^= MstatusSPIE
		}
		mstatus &^= MstatusSIE

		if h.Priv == PrivSupervisor {
			mstatus |= MstatusSPP
		} else {
			mstatus &^= MstatusSPP
		}
		h.CSR.WriteRaw(CSRMstatus, mstatus)

		h.Priv = PrivSupervisor
		h.SetPC(h.CSR.ReadRaw(CSRStvec) &^ 3)
		return
	}

	h.CSR.WriteRaw(CSRMepc, epc)
	h.CSR.WriteRaw(CSRMcause, t.Cause)
	h.CSR.WriteRaw(CSRMtval, t.Tval)

	if mstatus&MstatusMIE != 0 {
		mstatus |= MstatusMPIE
	} else {
		mstatus &^= MstatusMPIE
	}
	mstatus &^= MstatusMIE

	mstatus &^= MstatusMPP
	mstatus |= uint64(h.Priv) << MstatusMPPShift
	h.CSR.WriteRaw(CSRMstatus, mstatus)

	h.Priv = PrivMachine
	h.SetPC(h.CSR.ReadRaw(CSRMtvec) &^ 3)
}

// mret returns from a machine-mode trap handler.
func (h *Hart) mret() Stage {
	if h.Priv < PrivMachine {
		return trapStage(CauseIllegalInsn, 0)
	}

	mstatus := h.CSR.ReadRaw(CSRMstatus)
	mpp := uint8((mstatus >> MstatusMPPShift) & 3)

	if mstatus&MstatusMPIE != 0 {
		mstatus |= MstatusMIE
	} else {
		mstatus &^= MstatusMIE
	}
	mstatus |= MstatusMPIE
	mstatus &^= MstatusMPP
	h.CSR.WriteRaw(CSRMstatus, mstatus)

	h.Priv = mpp
	h.SetPC(h.CSR.ReadRaw(CSRMepc))
	return noWriteback()
}

// sret returns from a supervisor-mode trap handler.
func (h *Hart) sret() Stage {
	if h.Priv < PrivSupervisor {
		return trapStage(CauseIllegalInsn, 0)
	}

	mstatus := h.CSR.ReadRaw(CSRMstatus)
	spp := uint8((mstatus >> MstatusSPPShift) & 1)

	if mstatus&MstatusSPIE != 0 {
		mstatus |= MstatusSIE
	} else {
		mstatus &^= MstatusSIE
	}
	mstatus |= MstatusSPIE
	mstatus &^= MstatusSPP
	h.CSR.WriteRaw(CSRMstatus, mstatus)

	h.Priv = spp
	h.SetPC(h.CSR.ReadRaw(CSRSepc))
	return noWriteback()
}
