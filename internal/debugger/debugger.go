// Package debugger is the interactive REPL behind the hart's breakpoint
// hook: registers, memory, disassembly, stepping.
package debugger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"rv64sim/internal/rv64"
)

// cyclesPerInstr is the length of a load or store (fetch, decode, execute,
// memory, writeback), so "step 1" arms five cycles. Instructions without a
// memory stage retire in four cycles, so a step can run into the next one.
const cyclesPerInstr = 5

// Debugger implements rv64.DebugHook with a readline-style console.
type Debugger struct {
	line *liner.State
}

// New creates a debugger. Close releases the terminal.
func New() *Debugger {
	l := liner.NewLiner()
	l.SetCtrlCAborts(true)
	l.SetCompleter(func(line string) []string {
		var out []string
		for _, cmd := range []string{"regs", "csrs", "mem ", "dis", "step ", "continue", "until ", "symbols", "trace", "quit"} {
			if strings.HasPrefix(cmd, line) {
				out = append(out, cmd)
			}
		}
		return out
	})
	return &Debugger{line: l}
}

// Close releases the terminal state.
func (d *Debugger) Close() {
	d.line.Close()
}

// OnBreak implements rv64.DebugHook.
func (d *Debugger) OnBreak(h *rv64.Hart, m *rv64.MMU, cause rv64.Trap) rv64.DebugCommand {
	fmt.Printf("----- breakpoint: cause=%#x pc=%#x cycles=%d\n", cause.Cause, h.PC, h.Cycles)
	d.dumpRegs(h)

	for {
		input, err := d.line.Prompt(">> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			return rv64.DebugCommand{Kind: rv64.DebugQuit, Reason: err.Error()}
		}
		d.line.AppendHistory(input)

		fields := strings.Fields(input)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "q":
			return rv64.DebugCommand{Kind: rv64.DebugQuit, Reason: "quit"}

		case "continue", "c":
			return rv64.DebugCommand{Kind: rv64.DebugContinue}

		case "step", "s":
			n := 1
			if len(fields) > 1 {
				if v, err := strconv.Atoi(fields[1]); err == nil && v > 0 {
					n = v
				}
			}
			return rv64.DebugCommand{Kind: rv64.DebugStep, Steps: n * cyclesPerInstr}

		case "until", "u":
			if len(fields) < 2 {
				fmt.Println("until: address required")
				continue
			}
			addr, err := d.resolveAddr(h, fields[1])
			if err != nil {
				fmt.Printf("until: %v\n", err)
				continue
			}
			return rv64.DebugCommand{Kind: rv64.DebugContinueUntil, Addr: addr}

		case "regs", "r":
			d.dumpRegs(h)

		case "csrs":
			d.dumpCSRs(h)

		case "mem", "m":
			if len(fields) < 2 {
				fmt.Println("mem: address required")
				continue
			}
			addr, err := d.resolveAddr(h, fields[1])
			if err != nil {
				fmt.Printf("mem: %v\n", err)
				continue
			}
			d.dumpMemory(m, addr)

		case "dis", "d":
			d.disassemble(h, m)

		case "symbols":
			shown := 0
			for addr, name := range h.Symbols() {
				fmt.Printf("  %#016x  %s\n", addr, name)
				if shown++; shown >= 40 {
					fmt.Printf("  ... (%d total)\n", len(h.Symbols()))
					break
				}
			}

		case "trace", "bt":
			for _, ref := range h.SymbolTrace() {
				fmt.Printf("  %#016x  %s\n", ref.Addr, ref.Name)
			}

		default:
			fmt.Println("commands: regs csrs mem dis step continue until symbols trace quit")
		}
	}
}

// resolveAddr accepts a hex address or one of the well-known names.
func (d *Debugger) resolveAddr(h *rv64.Hart, s string) (uint64, error) {
	switch s {
	case "pc":
		return h.PC, nil
	case "sp":
		return h.Reg(2), nil
	case "mepc":
		return h.CSR.Read(rv64.CSRMepc), nil
	case "sepc":
		return h.CSR.Read(rv64.CSRSepc), nil
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}

func (d *Debugger) dumpRegs(h *rv64.Hart) {
	for i := uint32(0); i < 32; i += 4 {
		for j := i; j < i+4; j++ {
			fmt.Printf("x%-2d %016x  ", j, h.Reg(j))
		}
		fmt.Println()
	}
	fmt.Printf("pc  %016x  prev %016x  priv %d\n", h.PC, h.PrevPC, h.Priv)
}

func (d *Debugger) dumpCSRs(h *rv64.Hart) {
	named := []struct {
		name string
		addr uint16
	}{
		{"mstatus", rv64.CSRMstatus}, {"mtvec", rv64.CSRMtvec},
		{"mepc", rv64.CSRMepc}, {"mcause", rv64.CSRMcause},
		{"mtval", rv64.CSRMtval}, {"mie", rv64.CSRMie},
		{"mip", rv64.CSRMip}, {"mideleg", rv64.CSRMideleg},
		{"medeleg", rv64.CSRMedeleg}, {"satp", rv64.CSRSatp},
		{"stvec", rv64.CSRStvec}, {"sepc", rv64.CSRSepc},
		{"scause", rv64.CSRScause}, {"stval", rv64.CSRStval},
	}
	for _, c := range named {
		fmt.Printf("  %-8s %016x\n", c.name, h.CSR.Read(c.addr))
	}
}

func (d *Debugger) dumpMemory(m *rv64.MMU, addr uint64) {
	for row := uint64(0); row < 4; row++ {
		base := addr + row*16
		fmt.Printf("%016x: ", base)
		for i := uint64(0); i < 16; i++ {
			b, t := m.Read8(base + i)
			if t != nil {
				fmt.Print("?? ")
				continue
			}
			fmt.Printf("%02x ", b)
		}
		fmt.Println()
	}
}

func (d *Debugger) disassemble(h *rv64.Hart, m *rv64.MMU) {
	pc := h.PC
	for i := 0; i < 8; i++ {
		word, compressed, t := m.Fetch(pc)
		if t != nil {
			fmt.Printf("%016x: <fault>\n", pc)
			return
		}
		dec := rv64.Decode(rv64.RawInstruction{Word: word, Compressed: compressed, PC: pc})
		marker := " "
		if pc == h.PC {
			marker = ">"
		}
		fmt.Printf("%s %016x: %s\n", marker, pc, rv64.Disassemble(dec))
		if compressed {
			pc += 2
		} else {
			pc += 4
		}
	}
}

var _ rv64.DebugHook = (*Debugger)(nil)
