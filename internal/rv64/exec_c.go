package rv64

// executeCompressed runs a compressed instruction. Each form has the
// semantics of its full-width expansion; the link register for C.JALR
// receives the address of the following 2-byte slot.
func (h *Hart) executeCompressed(d Decoded) Stage {
	if d.Format == FormatUnknown {
		return trapStage(CauseIllegalInsn, uint64(d.Word))
	}

	switch d.Opcode {
	case quadrant0:
		return h.execCQ0(d)
	case quadrant1:
		return h.execCQ1(d)
	case quadrant2:
		return h.execCQ2(d)
	}
	return trapStage(CauseIllegalInsn, uint64(d.Word))
}

func (h *Hart) execCQ0(d Decoded) Stage {
	switch d.Funct3 {
	case 0b000: // C.ADDI4SPN
		return writebackStage(d.Rd, h.Reg(2)+uint64(d.Imm))

	case 0b010: // C.LW
		return Stage{Kind: StageMemory, Access: MemoryAccess{
			Kind: AccessRead, Width: 32, SignExtend: true,
			Addr: h.Reg(d.Rs1) + uint64(d.Imm), Dest: d.Rd,
		}}

	case 0b011: // C.LD
		return Stage{Kind: StageMemory, Access: MemoryAccess{
			Kind: AccessRead, Width: 64,
			Addr: h.Reg(d.Rs1) + uint64(d.Imm), Dest: d.Rd,
		}}

	case 0b110: // C.SW
		return Stage{Kind: StageMemory, Access: MemoryAccess{
			Kind: AccessWrite, Width: 32,
			Addr: h.Reg(d.Rs1) + uint64(d.Imm), Value: h.Reg(d.Rs2),
		}}

	case 0b111: // C.SD
		return Stage{Kind: StageMemory, Access: MemoryAccess{
			Kind: AccessWrite, Width: 64,
			Addr: h.Reg(d.Rs1) + uint64(d.Imm), Value: h.Reg(d.Rs2),
		}}
	}
	return trapStage(CauseIllegalInsn, uint64(d.Word))
}

func (h *Hart) execCQ1(d Decoded) Stage {
	switch d.Funct3 {
	case 0b000: // C.NOP / C.ADDI
		return writebackStage(d.Rd, uint64(int64(h.Reg(d.Rs1))+d.Imm))

	case 0b001: // C.ADDIW
		return writebackStage(d.Rd, uint64(int64(int32(h.Reg(d.Rs1))+int32(d.Imm))))

	case 0b010: // C.LI
		return writebackStage(d.Rd, uint64(d.Imm))

	case 0b011: // C.ADDI16SP / C.LUI
		if d.Rd == 2 {
			return writebackStage(2, uint64(int64(h.Reg(2))+d.Imm))
		}
		return writebackStage(d.Rd, uint64(d.Imm))

	case 0b100:
		if d.Format == FormatCB {
			r1 := h.Reg(d.Rs1)
			switch d.Funct7 {
			case 0b00: // C.SRLI
				return writebackStage(d.Rd, r1>>uint(d.Imm))
			case 0b01: // C.SRAI
				return writebackStage(d.Rd, uint64(int64(r1)>>uint(d.Imm)))
			case 0b10: // C.ANDI
				return writebackStage(d.Rd, r1&uint64(d.Imm))
			}
			return trapStage(CauseIllegalInsn, uint64(d.Word))
		}
		// Register-register group (CS)
		r1 := h.Reg(d.Rs1)
		r2 := h.Reg(d.Rs2)
		switch d.Funct7 {
		case 0: // C.SUB
			return writebackStage(d.Rd, r1-r2)
		case 1: // C.XOR
			return writebackStage(d.Rd, r1^r2)
		case 2: // C.OR
			return writebackStage(d.Rd, r1|r2)
		case 3: // C.AND
			return writebackStage(d.Rd, r1&r2)
		case 4: // C.SUBW
			return writebackStage(d.Rd, uint64(int64(int32(r1)-int32(r2))))
		case 5: // C.ADDW
			return writebackStage(d.Rd, uint64(int64(int32(r1)+int32(r2))))
		}
		return trapStage(CauseIllegalInsn, uint64(d.Word))

	case 0b101: // C.J
		h.SetPC(uint64(int64(d.PC) + d.Imm))
		return noWriteback()

	case 0b110: // C.BEQZ
		if h.Reg(d.Rs1) == 0 {
			h.SetPC(uint64(int64(d.PC) + d.Imm))
		}
		return noWriteback()

	case 0b111: // C.BNEZ
		if h.Reg(d.Rs1) != 0 {
			h.SetPC(uint64(int64(d.PC) + d.Imm))
		}
		return noWriteback()
	}
	return trapStage(CauseIllegalInsn, uint64(d.Word))
}

func (h *Hart) execCQ2(d Decoded) Stage {
	switch d.Funct3 {
	case 0b000: // C.SLLI
		return writebackStage(d.Rd, h.Reg(d.Rs1)<<uint(d.Imm))

	case 0b010: // C.LWSP
		return Stage{Kind: StageMemory, Access: MemoryAccess{
			Kind: AccessRead, Width: 32, SignExtend: true,
			Addr: h.Reg(2) + uint64(d.Imm), Dest: d.Rd,
		}}

	case 0b011: // C.LDSP
		return Stage{Kind: StageMemory, Access: MemoryAccess{
			Kind: AccessRead, Width: 64,
			Addr: h.Reg(2) + uint64(d.Imm), Dest: d.Rd,
		}}

	case 0b100: // C.JR / C.MV / C.EBREAK / C.JALR / C.ADD
		if d.Funct7 == 0 {
			if d.Rs2 == 0 {
				if d.Rs1 == 0 {
					return trapStage(CauseIllegalInsn, uint64(d.Word))
				}
				h.SetPC(h.Reg(d.Rs1) &^ 1) // C.JR
				return noWriteback()
			}
			return writebackStage(d.Rd, h.Reg(d.Rs2)) // C.MV
		}
		if d.Rs2 == 0 {
			if d.Rs1 == 0 {
				return trapStage(CauseBreakpoint, 0) // C.EBREAK
			}
			// C.JALR
			link := d.PC + 2
			h.SetPC(h.Reg(d.Rs1) &^ 1)
			return writebackStage(1, link)
		}
		return writebackStage(d.Rd, h.Reg(d.Rs1)+h.Reg(d.Rs2)) // C.ADD

	case 0b110: // C.SWSP
		return Stage{Kind: StageMemory, Access: MemoryAccess{
			Kind: AccessWrite, Width: 32,
			Addr: h.Reg(2) + uint64(d.Imm), Value: h.Reg(d.Rs2),
		}}

	case 0b111: // C.SDSP
		return Stage{Kind: StageMemory, Access: MemoryAccess{
			Kind: AccessWrite, Width: 64,
			Addr: h.Reg(2) + uint64(d.Imm), Value: h.Reg(d.Rs2),
		}}
	}
	return trapStage(CauseIllegalInsn, uint64(d.Word))
}
