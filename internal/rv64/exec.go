package rv64

import "math/bits"

// Execute runs a decoded instruction against the register file and returns
// the next pipeline stage: a Memory stage for loads, stores and AMOs, a
// Writeback stage for everything else, or a Trap stage when the instruction
// raises an exception. Jumps, branches and trap returns redirect PC
// directly through SetPC.
func (h *Hart) Execute(d Decoded) Stage {
	if d.Compressed {
		return h.executeCompressed(d)
	}

	switch d.Format {
	case FormatR:
		return h.execR(d)
	case FormatI:
		return h.execI(d)
	case FormatS:
		return h.execS(d)
	case FormatB:
		return h.execB(d)
	case FormatU:
		return h.execU(d)
	case FormatJ:
		return h.execJ(d)
	default:
		return trapStage(CauseIllegalInsn, uint64(d.Word))
	}
}

func (h *Hart) execU(d Decoded) Stage {
	switch d.Opcode {
	case OpLui:
		return writebackStage(d.Rd, uint64(d.Imm))
	case OpAuipc:
		return writebackStage(d.Rd, uint64(int64(d.PC)+d.Imm))
	}
	return trapStage(CauseIllegalInsn, uint64(d.Word))
}

func (h *Hart) execJ(d Decoded) Stage {
	// JAL: the link register receives the address of the next sequential
	// instruction.
	link := d.PC + 4
	h.SetPC(uint64(int64(d.PC) + d.Imm))
	return writebackStage(d.Rd, link)
}

func (h *Hart) execB(d Decoded) Stage {
	r1 := h.Reg(d.Rs1)
	r2 := h.Reg(d.Rs2)

	var taken bool
	switch d.Funct3 {
	case 0b000: // BEQ
		taken = r1 == r2
	case 0b001: // BNE
		taken = r1 != r2
	case 0b100: // BLT
		taken = int64(r1) < int64(r2)
	case 0b101: // BGE
		taken = int64(r1) >= int64(r2)
	case 0b110: // BLTU
		taken = r1 < r2
	case 0b111: // BGEU
		taken = r1 >= r2
	default:
		return trapStage(CauseIllegalInsn, uint64(d.Word))
	}

	if taken {
		h.SetPC(uint64(int64(d.PC) + d.Imm))
	}
	return noWriteback()
}

func (h *Hart) execS(d Decoded) Stage {
	addr := uint64(int64(h.Reg(d.Rs1)) + d.Imm)
	val := h.Reg(d.Rs2)

	var width uint8
	switch d.Funct3 {
	case 0b000:
		width = 8
	case 0b001:
		width = 16
	case 0b010:
		width = 32
	case 0b011:
		width = 64
	default:
		return trapStage(CauseIllegalInsn, uint64(d.Word))
	}

	return Stage{Kind: StageMemory, Access: MemoryAccess{
		Kind:  AccessWrite,
		Width: width,
		Addr:  addr,
		Value: val,
	}}
}

func (h *Hart) execI(d Decoded) Stage {
	switch d.Opcode {
	case OpLoad:
		return h.execLoad(d)
	case OpOpImm:
		return h.execOpImm(d)
	case OpOpImm32:
		return h.execOpImm32(d)
	case OpJalr:
		target := uint64(int64(h.Reg(d.Rs1))+d.Imm) &^ 1
		link := d.PC + 4
		h.SetPC(target)
		return writebackStage(d.Rd, link)
	case OpMiscMem:
		// FENCE / FENCE.I are no-ops on a single hart.
		return noWriteback()
	case OpSystem:
		return h.execSystem(d)
	}
	return trapStage(CauseIllegalInsn, uint64(d.Word))
}

func (h *Hart) execLoad(d Decoded) Stage {
	addr := uint64(int64(h.Reg(d.Rs1)) + d.Imm)

	var width uint8
	var signExt bool
	switch d.Funct3 {
	case 0b000: // LB
		width, signExt = 8, true
	case 0b001: // LH
		width, signExt = 16, true
	case 0b010: // LW
		width, signExt = 32, true
	case 0b011: // LD
		width = 64
	case 0b100: // LBU
		width = 8
	case 0b101: // LHU
		width = 16
	case 0b110: // LWU
		width = 32
	default:
		return trapStage(CauseIllegalInsn, uint64(d.Word))
	}

	return Stage{Kind: StageMemory, Access: MemoryAccess{
		Kind:       AccessRead,
		Width:      width,
		Addr:       addr,
		Dest:       d.Rd,
		SignExtend: signExt,
	}}
}

func (h *Hart) execOpImm(d Decoded) Stage {
	r1 := h.Reg(d.Rs1)
	imm := d.Imm
	sh := (d.Word >> 20) & 0x3f

	var val uint64
	switch d.Funct3 {
	case 0b000: // ADDI
		val = uint64(int64(r1) + imm)
	case 0b001: // SLLI
		val = r1 << sh
	case 0b010: // SLTI
		if int64(r1) < imm {
			val = 1
		}
	case 0b011: // SLTIU
		if r1 < uint64(imm) {
			val = 1
		}
	case 0b100: // XORI
		val = r1 ^ uint64(imm)
	case 0b101: // SRLI / SRAI
		if (d.Word>>30)&1 == 1 {
			val = uint64(int64(r1) >> sh)
		} else {
			val = r1 >> sh
		}
	case 0b110: // ORI
		val = r1 | uint64(imm)
	case 0b111: // ANDI
		val = r1 & uint64(imm)
	}

	return writebackStage(d.Rd, val)
}

func (h *Hart) execOpImm32(d Decoded) Stage {
	r1 := uint32(h.Reg(d.Rs1))
	sh := (d.Word >> 20) & 0x1f

	var val int32
	switch d.Funct3 {
	case 0b000: // ADDIW
		val = int32(r1) + int32(d.Imm)
	case 0b001: // SLLIW
		val = int32(r1 << sh)
	case 0b101: // SRLIW / SRAIW
		if (d.Word>>30)&1 == 1 {
			val = int32(r1) >> sh
		} else {
			val = int32(r1 >> sh)
		}
	default:
		return trapStage(CauseIllegalInsn, uint64(d.Word))
	}

	return writebackStage(d.Rd, uint64(int64(val)))
}

func (h *Hart) execR(d Decoded) Stage {
	switch d.Opcode {
	case OpOp:
		return h.execOp(d)
	case OpOp32:
		return h.execOp32(d)
	case OpAMO:
		return h.execAMO(d)
	}
	return trapStage(CauseIllegalInsn, uint64(d.Word))
}

func (h *Hart) execOp(d Decoded) Stage {
	r1 := h.Reg(d.Rs1)
	r2 := h.Reg(d.Rs2)

	if d.Funct7 == 0b0000001 {
		return h.execOpM(d, r1, r2)
	}

	var val uint64
	switch d.Funct3 {
	case 0b000: // ADD / SUB
		if d.Funct7 == 0b0100000 {
			val = r1 - r2
		} else {
			val = r1 + r2
		}
	case 0b001: // SLL
		val = r1 << (r2 & 0x3f)
	case 0b010: // SLT
		if int64(r1) < int64(r2) {
			val = 1
		}
	case 0b011: // SLTU
		if r1 < r2 {
			val = 1
		}
	case 0b100: // XOR
		val = r1 ^ r2
	case 0b101: // SRL / SRA
		if d.Funct7 == 0b0100000 {
			val = uint64(int64(r1) >> (r2 & 0x3f))
		} else {
			val = r1 >> (r2 & 0x3f)
		}
	case 0b110: // OR
		val = r1 | r2
	case 0b111: // AND
		val = r1 & r2
	}

	return writebackStage(d.Rd, val)
}

// execOpM implements the M-extension register operations. MULH variants
// take the high half of the 128-bit product.
func (h *Hart) execOpM(d Decoded, r1, r2 uint64) Stage {
	var val uint64
	switch d.Funct3 {
	case 0b000: // MUL
		val = r1 * r2
	case 0b001: // MULH
		val = mulh(int64(r1), int64(r2))
	case 0b010: // MULHSU
		val = mulhsu(int64(r1), r2)
	case 0b011: // MULHU
		val, _ = bits.Mul64(r1, r2)
	case 0b100: // DIV
		switch {
		case r2 == 0:
			val = ^uint64(0)
		case r1 == 1<<63 && r2 == ^uint64(0):
			val = r1
		default:
			val = uint64(int64(r1) / int64(r2))
		}
	case 0b101: // DIVU
		if r2 == 0 {
			val = ^uint64(0)
		} else {
			val = r1 / r2
		}
	case 0b110: // REM
		switch {
		case r2 == 0:
			val = r1
		case r1 == 1<<63 && r2 == ^uint64(0):
			val = 0
		default:
			val = uint64(int64(r1) % int64(r2))
		}
	case 0b111: // REMU
		if r2 == 0 {
			val = r1
		} else {
			val = r1 % r2
		}
	}

	return writebackStage(d.Rd, val)
}

func (h *Hart) execOp32(d Decoded) Stage {
	r1 := uint32(h.Reg(d.Rs1))
	r2 := uint32(h.Reg(d.Rs2))

	if d.Funct7 == 0b0000001 {
		return h.execOp32M(d, r1, r2)
	}

	var val int32
	switch d.Funct3 {
	case 0b000: // ADDW / SUBW
		if d.Funct7 == 0b0100000 {
			val = int32(r1) - int32(r2)
		} else {
			val = int32(r1) + int32(r2)
		}
	case 0b001: // SLLW
		val = int32(r1 << (r2 & 0x1f))
	case 0b101: // SRLW / SRAW
		if d.Funct7 == 0b0100000 {
			val = int32(r1) >> (r2 & 0x1f)
		} else {
			val = int32(r1 >> (r2 & 0x1f))
		}
	default:
		return trapStage(CauseIllegalInsn, uint64(d.Word))
	}

	return writebackStage(d.Rd, uint64(int64(val)))
}

func (h *Hart) execOp32M(d Decoded, r1, r2 uint32) Stage {
	var val int32
	switch d.Funct3 {
	case 0b000: // MULW
		val = int32(r1) * int32(r2)
	case 0b100: // DIVW
		switch {
		case r2 == 0:
			val = -1
		case r1 == 1<<31 && r2 == ^uint32(0):
			val = int32(r1)
		default:
			val = int32(r1) / int32(r2)
		}
	case 0b101: // DIVUW
		if r2 == 0 {
			val = -1
		} else {
			val = int32(r1 / r2)
		}
	case 0b110: // REMW
		switch {
		case r2 == 0:
			val = int32(r1)
		case r1 == 1<<31 && r2 == ^uint32(0):
			val = 0
		default:
			val = int32(r1) % int32(r2)
		}
	case 0b111: // REMUW
		if r2 == 0 {
			val = int32(r1)
		} else {
			val = int32(r1 % r2)
		}
	default:
		return trapStage(CauseIllegalInsn, uint64(d.Word))
	}

	return writebackStage(d.Rd, uint64(int64(val)))
}

// execAMO implements AMOSWAP.W/D. Other AMOs and LR/SC are not modeled.
// Atomicity is trivial on a single hart.
func (h *Hart) execAMO(d Decoded) Stage {
	funct5 := d.Funct7 >> 2
	if funct5 != 0b00001 {
		return trapStage(CauseIllegalInsn, uint64(d.Word))
	}

	kind := AccessAmoSwapW
	var width uint8 = 32
	switch d.Funct3 {
	case 0b010:
	case 0b011:
		kind = AccessAmoSwapD
		width = 64
	default:
		return trapStage(CauseIllegalInsn, uint64(d.Word))
	}

	return Stage{Kind: StageMemory, Access: MemoryAccess{
		Kind:  kind,
		Width: width,
		Addr:  h.Reg(d.Rs1),
		Dest:  d.Rd,
		Value: h.Reg(d.Rs2),
	}}
}

func (h *Hart) execSystem(d Decoded) Stage {
	if d.Funct3 == 0 {
		switch d.Word {
		case 0x00000073: // ECALL
			switch h.Priv {
			case PrivUser:
				return trapStage(CauseEcallFromU, 0)
			case PrivSupervisor:
				return trapStage(CauseEcallFromS, 0)
			default:
				return trapStage(CauseEcallFromM, 0)
			}
		case 0x00100073: // EBREAK
			return trapStage(CauseBreakpoint, 0)
		case 0x30200073: // MRET
			return h.mret()
		case 0x10200073: // SRET
			return h.sret()
		case 0x10500073: // WFI
			// No-op in this model: the interrupt poll happens every fetch.
			return noWriteback()
		default:
			if (d.Word >> 25) == 0b0001001 {
				// SFENCE.VMA: no-op, translation is never cached.
				return noWriteback()
			}
			return trapStage(CauseIllegalInsn, uint64(d.Word))
		}
	}

	return h.execCSR(d)
}

// execCSR implements CSRRW/S/C and their immediate forms. All aliasing
// happens inside the CSR file; this only sequences read, combine, write.
func (h *Hart) execCSR(d Decoded) Stage {
	csr := uint16((d.Word >> 20) & 0xfff)

	src := h.Reg(d.Rs1)
	if d.Funct3 >= 5 {
		// Immediate forms use the rs1 field as a zero-extended immediate.
		src = uint64(d.Rs1)
	}

	write := d.Funct3&3 == 1 || d.Rs1 != 0
	if !csrPermitted(csr, h.Priv, write) {
		return trapStage(CauseIllegalInsn, uint64(d.Word))
	}
	switch csr {
	case CSRCycle, CSRTime, CSRInstret:
		if !h.CSR.counterPermitted(csr, h.Priv) {
			return trapStage(CauseIllegalInsn, uint64(d.Word))
		}
	}

	old := h.CSR.Read(csr)

	switch d.Funct3 & 3 {
	case 1: // CSRRW(I)
		h.CSR.Write(csr, src)
	case 2: // CSRRS(I)
		if d.Rs1 != 0 {
			h.CSR.Write(csr, old|src)
		}
	case 3: // CSRRC(I)
		if d.Rs1 != 0 {
			h.CSR.Write(csr, old&^src)
		}
	default:
		return trapStage(CauseIllegalInsn, uint64(d.Word))
	}

	return writebackStage(d.Rd, old)
}

// mulh returns the high 64 bits of the signed 128-bit product.
func mulh(a, b int64) uint64 {
	hi, _ := bits.Mul64(uint64(a), uint64(b))
	if a < 0 {
		hi -= uint64(b)
	}
	if b < 0 {
		hi -= uint64(a)
	}
	return hi
}

// mulhsu returns the high 64 bits of the signed×unsigned 128-bit product.
func mulhsu(a int64, b uint64) uint64 {
	hi, _ := bits.Mul64(uint64(a), b)
	if a < 0 {
		hi -= b
	}
	return hi
}
