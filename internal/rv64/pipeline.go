package rv64

// StageKind identifies the hart's current pipeline stage.
type StageKind uint8

const (
	StageFetch StageKind = iota
	StageDecode
	StageExecute
	StageMemory
	StageWriteback
	StageTrap
	StageInterrupt
)

// Writeback is a pending register commit. A writeback without a target is
// the explicit no-op used by stores, branches and fences.
type Writeback struct {
	HasTarget bool
	Target    uint32
	Value     uint64
}

// AccessKind identifies a pending memory effect.
type AccessKind uint8

const (
	AccessRead AccessKind = iota
	AccessWrite
	AccessAmoSwapW
	AccessAmoSwapD
)

// MemoryAccess describes a memory effect enqueued by the executor and
// resolved by the memory stage. Width is in bits (8, 16, 32 or 64).
type MemoryAccess struct {
	Kind       AccessKind
	Width      uint8
	Addr       uint64
	Dest       uint32
	SignExtend bool
	Value      uint64
}

// Stage is the pipeline stage variant. Kind selects which payload field is
// meaningful.
type Stage struct {
	Kind      StageKind
	Raw       RawInstruction // Decode
	Decoded   Decoded        // Execute
	Access    MemoryAccess   // Memory
	Writeback Writeback      // Writeback
	Trap      Trap           // Trap
}

func fetchStage() Stage {
	return Stage{Kind: StageFetch}
}

func trapStage(cause, tval uint64) Stage {
	return Stage{Kind: StageTrap, Trap: Trap{Cause: cause, Tval: tval}}
}

// writebackStage routes rd=0 to a no-op writeback: x0 is never written.
func writebackStage(rd uint32, value uint64) Stage {
	if rd == 0 {
		return noWriteback()
	}
	return Stage{Kind: StageWriteback, Writeback: Writeback{HasTarget: true, Target: rd, Value: value}}
}

func noWriteback() Stage {
	return Stage{Kind: StageWriteback}
}

// Cycle advances the hart by one pipeline stage, then synchronizes the
// MMU's cached privilege mode, SATP and MSTATUS with the hart's.
func (h *Hart) Cycle(m *MMU) {
	if h.stepCycles > 0 {
		h.stepCycles--
		if h.stepCycles == 0 {
			h.debugBreak(Trap{Cause: CauseBreakpoint}, m)
		}
	}
	if h.breakSet && h.Stage.Kind == StageFetch && h.PC == h.breakAddr {
		h.breakSet = false
		h.debugBreak(Trap{Cause: CauseBreakpoint}, m)
	}

	switch h.Stage.Kind {
	case StageFetch:
		h.Stage = h.fetch(m)
	case StageDecode:
		h.Stage = Stage{Kind: StageExecute, Decoded: Decode(h.Stage.Raw)}
	case StageExecute:
		h.Stage = h.Execute(h.Stage.Decoded)
	case StageMemory:
		h.Stage = h.memory(m, h.Stage.Access)
	case StageWriteback:
		h.Stage = h.writeback(h.Stage.Writeback)
	case StageTrap:
		h.EnterTrap(h.Stage.Trap)
		h.Stage = fetchStage()
	case StageInterrupt:
		if cause, ok := h.PendingInterrupt(); ok {
			h.Stage = Stage{Kind: StageTrap, Trap: Trap{Cause: cause}}
		} else {
			h.Stage = fetchStage()
		}
	}

	h.Cycles++
	h.CSR.WriteRaw(CSRMcycle, h.Cycles)

	m.SetPrivilege(h.Priv)
	m.SetSATP(h.CSR.ReadRaw(CSRSatp))
	m.SetMstatus(h.CSR.ReadRaw(CSRMstatus))
}

// fetch polls for interrupts, then reads the next encoding through the
// MMU's execute path. PC is advanced past the instruction here; PrevPC
// keeps the instruction's own address for the rest of the pipeline.
func (h *Hart) fetch(m *MMU) Stage {
	if h.Interrupt != nil && h.Interrupt() {
		h.debugBreak(Trap{Cause: CauseBreakpoint}, m)
	}

	if cause, ok := h.PendingInterrupt(); ok {
		return Stage{Kind: StageTrap, Trap: Trap{Cause: cause}}
	}

	// A fetch fault is charged to the instruction being fetched, so PrevPC
	// takes its address before the fetch can fault.
	h.PrevPC = h.PC
	if h.PC&1 != 0 {
		return trapStage(CauseInsnAddrMisaligned, h.PC)
	}

	word, compressed, t := m.Fetch(h.PC)
	if t != nil {
		return Stage{Kind: StageTrap, Trap: *t}
	}

	pc := h.PC
	if compressed {
		h.PC += 2
	} else {
		h.PC += 4
	}

	return Stage{Kind: StageDecode, Raw: RawInstruction{Word: word, Compressed: compressed, PC: pc}}
}

// memory resolves a pending memory access through the MMU. Faults divert
// to the trap stage; the MMU already tagged them with the faulting
// address.
func (h *Hart) memory(m *MMU, a MemoryAccess) Stage {
	switch a.Kind {
	case AccessRead:
		var val uint64
		var t *Trap
		switch a.Width {
		case 8:
			var v uint8
			v, t = m.Read8(a.Addr)
			val = uint64(v)
			if a.SignExtend {
				val = uint64(int64(int8(v)))
			}
		case 16:
			var v uint16
			v, t = m.Read16(a.Addr)
			val = uint64(v)
			if a.SignExtend {
				val = uint64(int64(int16(v)))
			}
		case 32:
			var v uint32
			v, t = m.Read32(a.Addr)
			val = uint64(v)
			if a.SignExtend {
				val = uint64(int64(int32(v)))
			}
		case 64:
			val, t = m.Read64(a.Addr)
		}
		if t != nil {
			return Stage{Kind: StageTrap, Trap: *t}
		}
		return writebackStage(a.Dest, val)

	case AccessWrite:
		var t *Trap
		switch a.Width {
		case 8:
			t = m.Write8(a.Addr, uint8(a.Value))
		case 16:
			t = m.Write16(a.Addr, uint16(a.Value))
		case 32:
			t = m.Write32(a.Addr, uint32(a.Value))
		case 64:
			t = m.Write64(a.Addr, a.Value)
		}
		if t != nil {
			return Stage{Kind: StageTrap, Trap: *t}
		}
		return noWriteback()

	case AccessAmoSwapW:
		old, t := m.Read32(a.Addr)
		if t != nil {
			return Stage{Kind: StageTrap, Trap: *t}
		}
		if t := m.Write32(a.Addr, uint32(a.Value)); t != nil {
			return Stage{Kind: StageTrap, Trap: *t}
		}
		return writebackStage(a.Dest, uint64(int64(int32(old))))

	case AccessAmoSwapD:
		old, t := m.Read64(a.Addr)
		if t != nil {
			return Stage{Kind: StageTrap, Trap: *t}
		}
		if t := m.Write64(a.Addr, a.Value); t != nil {
			return Stage{Kind: StageTrap, Trap: *t}
		}
		return writebackStage(a.Dest, old)
	}

	panic("rv64: unknown memory access kind")
}

// writeback commits the pending register write and retires the
// instruction, updating the instret counter for the current privilege.
func (h *Hart) writeback(wb Writeback) Stage {
	if wb.HasTarget {
		h.SetReg(wb.Target, wb.Value)
	}

	instret, instreth := CSRInstret, CSRInstreth
	if h.Priv == PrivMachine {
		instret, instreth = CSRMinstret, CSRMinstreth
	}
	n := h.CSR.ReadRaw(instret)
	if n+1 < n {
		h.CSR.WriteRaw(instreth, h.CSR.ReadRaw(instreth)+1)
	}
	h.CSR.WriteRaw(instret, n+1)

	return fetchStage()
}

// debugBreak hands control to the host-side debugger hook, if installed.
func (h *Hart) debugBreak(cause Trap, m *MMU) {
	if h.Hook == nil {
		return
	}
	cmd := h.Hook.OnBreak(h, m, cause)
	switch cmd.Kind {
	case DebugContinue:
	case DebugContinueUntil:
		h.SetBreakpoint(cmd.Addr)
	case DebugStep:
		h.stepCycles = cmd.Steps
	case DebugQuit:
		h.halted = true
	}
}
