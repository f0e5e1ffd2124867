// Package rv64 implements an interpreted RV64IMC hart with SV39 paging,
// sufficient to run the riscv-tests suite and boot a small kernel.
package rv64

import (
	"encoding/binary"
	"fmt"
)

// Privilege levels
const (
	PrivUser       uint8 = 0
	PrivSupervisor uint8 = 1
	PrivMachine    uint8 = 3
)

// mstatus bits
const (
	MstatusSIE  uint64 = 1 << 1
	MstatusMIE  uint64 = 1 << 3
	MstatusSPIE uint64 = 1 << 5
	MstatusMPIE uint64 = 1 << 7
	MstatusSPP  uint64 = 1 << 8
	MstatusMPP  uint64 = 3 << 11
	MstatusMPRV uint64 = 1 << 17
	MstatusSUM  uint64 = 1 << 18
	MstatusMXR  uint64 = 1 << 19
)

// mstatus bit positions
const (
	MstatusSPPShift = 8
	MstatusMPPShift = 11
)

// mip/mie bits
const (
	MipSSIP uint64 = 1 << 1  // Supervisor software interrupt pending
	MipMSIP uint64 = 1 << 3  // Machine software interrupt pending
	MipSTIP uint64 = 1 << 5  // Supervisor timer interrupt pending
	MipMTIP uint64 = 1 << 7  // Machine timer interrupt pending
	MipSEIP uint64 = 1 << 9  // Supervisor external interrupt pending
	MipMEIP uint64 = 1 << 11 // Machine external interrupt pending
)

// Exception causes
const (
	CauseInsnAddrMisaligned  uint64 = 0
	CauseInsnAccessFault     uint64 = 1
	CauseIllegalInsn         uint64 = 2
	CauseBreakpoint          uint64 = 3
	CauseLoadAddrMisaligned  uint64 = 4
	CauseLoadAccessFault     uint64 = 5
	CauseStoreAddrMisaligned uint64 = 6
	CauseStoreAccessFault    uint64 = 7
	CauseEcallFromU          uint64 = 8
	CauseEcallFromS          uint64 = 9
	CauseEcallFromM          uint64 = 11
	CauseInsnPageFault       uint64 = 12
	CauseLoadPageFault       uint64 = 13
	CauseStorePageFault      uint64 = 15
)

// Interrupt causes (with bit 63 set, matching the mcause encoding)
const (
	InterruptBit      uint64 = 1 << 63
	CauseSSoftwareInt uint64 = InterruptBit | 1
	CauseMSoftwareInt uint64 = InterruptBit | 3
	CauseSTimerInt    uint64 = InterruptBit | 5
	CauseMTimerInt    uint64 = InterruptBit | 7
	CauseSExternalInt uint64 = InterruptBit | 9
	CauseMExternalInt uint64 = InterruptBit | 11
)

// Trap is a pending architectural trap: a synchronous exception or an
// interrupt (bit 63 of Cause set). Tval carries the faulting address or
// instruction word where the cause defines one.
type Trap struct {
	Cause uint64
	Tval  uint64
}

func (t *Trap) Error() string {
	return fmt.Sprintf("trap: cause=%#x tval=%#x", t.Cause, t.Tval)
}

// IsInterrupt reports whether the trap is an asynchronous interrupt.
func (t *Trap) IsInterrupt() bool {
	return t.Cause&InterruptBit != 0
}

// trap builds a synchronous exception.
func trap(cause, tval uint64) *Trap {
	return &Trap{Cause: cause, Tval: tval}
}

// symbolTraceDepth bounds the symbol trace ring.
const symbolTraceDepth = 20

// SymbolRef is one entry of the hart's symbol trace.
type SymbolRef struct {
	Addr uint64
	Name string
}

// DebugHook is the optional host-side breakpoint surface. It is invoked
// outside the pipeline stages only: at the top of Fetch when the interrupt
// flag is raised, when a watched address is reached, or when a step count
// runs out. It must not be installed on timing-sensitive runs.
type DebugHook interface {
	OnBreak(h *Hart, m *MMU, cause Trap) DebugCommand
}

// DebugCommandKind selects what the hart does after a debugger entry.
type DebugCommandKind uint8

const (
	DebugContinue DebugCommandKind = iota
	DebugContinueUntil
	DebugStep
	DebugQuit
)

// DebugCommand is the debugger's answer to a breakpoint.
type DebugCommand struct {
	Kind   DebugCommandKind
	Addr   uint64 // ContinueUntil
	Steps  int    // Step
	Reason string // Quit
}

// Hart is a single hardware thread: thirty-two integer registers, the CSR
// file, the program counter pair and the current pipeline stage.
type Hart struct {
	ID uint64

	regs [32]uint64
	CSR  CSRFile

	// PC points at the next instruction to fetch. During execute it has
	// already been advanced past the current instruction, whose address is
	// PrevPC.
	PC     uint64
	PrevPC uint64

	Priv   uint8
	Cycles uint64

	Stage  Stage
	halted bool

	symbols  map[uint64]string
	symtrace []SymbolRef

	// Debug surface
	Hook       DebugHook
	Interrupt  func() bool // host interrupt flag (Ctrl-C), polled at Fetch
	breakAddr  uint64
	breakSet   bool
	stepCycles int
}

// NewHart creates a hart. CSRs are zero except mhartid.
func NewHart(id uint64) *Hart {
	h := &Hart{
		ID:      id,
		Priv:    PrivMachine,
		Stage:   Stage{Kind: StageFetch},
		symbols: make(map[uint64]string),
	}
	h.CSR.WriteRaw(CSRMhartid, id)
	return h
}

// Reset places the hart at the given entry point in Machine mode.
func (h *Hart) Reset(pc uint64) {
	h.PC = pc
	h.PrevPC = pc
	h.Priv = PrivMachine
	h.Stage = Stage{Kind: StageFetch}
	h.halted = false
}

// Halted reports whether the debugger asked the hart to stop.
func (h *Hart) Halted() bool {
	return h.halted
}

// Reg reads an integer register. x0 always reads as zero.
func (h *Hart) Reg(reg uint32) uint64 {
	if reg == 0 {
		return 0
	}
	return h.regs[reg]
}

// SetReg writes an integer register. Writing x0 is a programming error:
// valid encodings route rd=0 to a no-op writeback before reaching here.
func (h *Hart) SetReg(reg uint32, val uint64) {
	if reg == 0 {
		panic("rv64: write to register x0")
	}
	h.regs[reg] = val
}

// AddSymbol registers a symbol for tracing and test classification.
func (h *Hart) AddSymbol(addr uint64, name string) {
	h.symbols[addr] = name
}

// Symbol returns the symbol at addr, if any.
func (h *Hart) Symbol(addr uint64) (string, bool) {
	name, ok := h.symbols[addr]
	return name, ok
}

// Symbols returns the registered symbol table.
func (h *Hart) Symbols() map[uint64]string {
	return h.symbols
}

// SymbolTrace returns the most recent symbol crossings, oldest first.
func (h *Hart) SymbolTrace() []SymbolRef {
	return h.symtrace
}

// SetPC redirects control flow. Jumps, branches and traps come through
// here so the symbol trace sees every control transfer.
func (h *Hart) SetPC(pc uint64) {
	if len(h.symbols) > 0 {
		if name, ok := h.symbols[pc]; ok {
			n := len(h.symtrace)
			if n == 0 || h.symtrace[n-1].Name != name {
				h.symtrace = append(h.symtrace, SymbolRef{Addr: pc, Name: name})
				if len(h.symtrace) > symbolTraceDepth {
					h.symtrace = h.symtrace[1:]
				}
			}
		}
	}
	h.PC = pc
}

// SetBreakpoint arms a single address breakpoint.
func (h *Hart) SetBreakpoint(addr uint64) {
	h.breakAddr = addr
	h.breakSet = true
}

// ClearBreakpoint disarms the address breakpoint.
func (h *Hart) ClearBreakpoint() {
	h.breakSet = false
}

var hartEndian = binary.LittleEndian

// signExtend sign-extends the low bits of val to 64 bits.
func signExtend(val uint64, bits int) int64 {
	shift := 64 - bits
	return int64(val<<uint(shift)) >> uint(shift)
}
