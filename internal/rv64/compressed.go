package rv64

// Compressed quadrants (bits [1:0] of a 16-bit encoding)
const (
	quadrant0 = 0b00
	quadrant1 = 0b01
	quadrant2 = 0b10
)

// Compressed field extraction. The 3-bit register fields address x8-x15.
func cRdP(w uint32) uint32  { return ((w >> 2) & 0x7) + 8 }
func cRs1P(w uint32) uint32 { return ((w >> 7) & 0x7) + 8 }
func cRs2P(w uint32) uint32 { return ((w >> 2) & 0x7) + 8 }
func cRd(w uint32) uint32   { return (w >> 7) & 0x1f }
func cRs2(w uint32) uint32  { return (w >> 2) & 0x1f }

// cImm6 extracts the CI-format imm[5|4:0] = insn[12|6:2] immediate,
// sign-extended from 6 bits.
func cImm6(w uint32) int64 {
	imm := uint64((w>>2)&0x1f | ((w>>12)&0x1)<<5)
	return signExtend(imm, 6)
}

// cShamt extracts the shamt[5|4:0] = insn[12|6:2] shift amount.
func cShamt(w uint32) int64 {
	return int64((w>>2)&0x1f | ((w>>12)&0x1)<<5)
}

// decodeCompressed maps a 16-bit encoding to a Decoded instruction. The
// quadrant selects the opcode; funct3 (bits [15:13]) and the minor
// function bits select the format and operation. Immediates are
// format-specific non-contiguous scrambles, reassembled here exactly.
func decodeCompressed(raw RawInstruction) Decoded {
	w := raw.Word & 0xffff
	d := Decoded{
		Opcode:     w & 0x3,
		Funct3:     (w >> 13) & 0x7,
		Word:       w,
		PC:         raw.PC,
		Compressed: true,
	}

	switch d.Opcode {
	case quadrant0:
		decodeQ0(w, &d)
	case quadrant1:
		decodeQ1(w, &d)
	case quadrant2:
		decodeQ2(w, &d)
	}
	return d
}

func decodeQ0(w uint32, d *Decoded) {
	switch d.Funct3 {
	case 0b000: // C.ADDI4SPN
		// nzuimm[5:4|9:6|2|3] = insn[12:11|10:7|6|5]
		imm := ((w >> 6) & 0x1) << 2
		imm |= ((w >> 5) & 0x1) << 3
		imm |= ((w >> 11) & 0x3) << 4
		imm |= ((w >> 7) & 0xf) << 6
		if imm == 0 {
			return // reserved
		}
		d.Format = FormatCIW
		d.Rd = cRdP(w)
		d.Rs1 = 2
		d.Imm = int64(imm)

	case 0b010: // C.LW
		// uimm[5:3|2|6] = insn[12:10|6|5]
		imm := ((w >> 6) & 0x1) << 2
		imm |= ((w >> 10) & 0x7) << 3
		imm |= ((w >> 5) & 0x1) << 6
		d.Format = FormatCL
		d.Rd = cRdP(w)
		d.Rs1 = cRs1P(w)
		d.Imm = int64(imm)

	case 0b011: // C.LD
		// uimm[5:3|7:6] = insn[12:10|6:5]
		imm := ((w >> 10) & 0x7) << 3
		imm |= ((w >> 5) & 0x3) << 6
		d.Format = FormatCL
		d.Rd = cRdP(w)
		d.Rs1 = cRs1P(w)
		d.Imm = int64(imm)

	case 0b110: // C.SW
		imm := ((w >> 6) & 0x1) << 2
		imm |= ((w >> 10) & 0x7) << 3
		imm |= ((w >> 5) & 0x1) << 6
		d.Format = FormatCS
		d.Rs1 = cRs1P(w)
		d.Rs2 = cRs2P(w)
		d.Imm = int64(imm)

	case 0b111: // C.SD
		imm := ((w >> 10) & 0x7) << 3
		imm |= ((w >> 5) & 0x3) << 6
		d.Format = FormatCS
		d.Rs1 = cRs1P(w)
		d.Rs2 = cRs2P(w)
		d.Imm = int64(imm)
	}
	// C.FLD/C.FSD and reserved encodings stay FormatUnknown.
}

func decodeQ1(w uint32, d *Decoded) {
	switch d.Funct3 {
	case 0b000: // C.NOP / C.ADDI
		d.Format = FormatCI
		d.Rd = cRd(w)
		d.Rs1 = d.Rd
		d.Imm = cImm6(w)

	case 0b001: // C.ADDIW
		if cRd(w) == 0 {
			return // reserved
		}
		d.Format = FormatCI
		d.Rd = cRd(w)
		d.Rs1 = d.Rd
		d.Imm = cImm6(w)

	case 0b010: // C.LI
		d.Format = FormatCI
		d.Rd = cRd(w)
		d.Imm = cImm6(w)

	case 0b011: // C.ADDI16SP / C.LUI, disambiguated by rd
		rd := cRd(w)
		if rd == 2 {
			// nzimm[9|4|6|8:7|5] = insn[12|6|5|4:3|2]
			imm := ((w >> 2) & 0x1) << 5
			imm |= ((w >> 3) & 0x3) << 7
			imm |= ((w >> 5) & 0x1) << 6
			imm |= ((w >> 6) & 0x1) << 4
			imm |= ((w >> 12) & 0x1) << 9
			if imm == 0 {
				return // reserved
			}
			d.Format = FormatCI
			d.Rd = 2
			d.Rs1 = 2
			d.Imm = signExtend(uint64(imm), 10)
		} else {
			if rd == 0 {
				return // reserved
			}
			// nzimm[17|16:12] = insn[12|6:2]
			imm := cImm6(w) << 12
			if imm == 0 {
				return // reserved
			}
			d.Format = FormatCI
			d.Rd = rd
			d.Imm = imm
		}

	case 0b100: // ALU group
		funct2 := (w >> 10) & 0x3
		rd := cRs1P(w)
		switch funct2 {
		case 0b00, 0b01: // C.SRLI / C.SRAI
			d.Format = FormatCB
			d.Funct7 = funct2
			d.Rd = rd
			d.Rs1 = rd
			d.Imm = cShamt(w)
		case 0b10: // C.ANDI
			d.Format = FormatCB
			d.Funct7 = funct2
			d.Rd = rd
			d.Rs1 = rd
			d.Imm = cImm6(w)
		case 0b11: // C.SUB/C.XOR/C.OR/C.AND/C.SUBW/C.ADDW
			funct := ((w>>12)&0x1)<<2 | (w>>5)&0x3
			if funct >= 6 {
				return // reserved
			}
			d.Format = FormatCS
			d.Funct7 = funct
			d.Rd = rd
			d.Rs1 = rd
			d.Rs2 = cRs2P(w)
		}

	case 0b101: // C.J
		// imm[11|4|9:8|10|6|7|3:1|5] = insn[12|11|10:9|8|7|6|5:3|2]
		imm := ((w >> 2) & 0x1) << 5
		imm |= ((w >> 3) & 0x7) << 1
		imm |= ((w >> 6) & 0x1) << 7
		imm |= ((w >> 7) & 0x1) << 6
		imm |= ((w >> 8) & 0x1) << 10
		imm |= ((w >> 9) & 0x3) << 8
		imm |= ((w >> 11) & 0x1) << 4
		imm |= ((w >> 12) & 0x1) << 11
		d.Format = FormatCJ
		d.Imm = signExtend(uint64(imm), 12)

	case 0b110, 0b111: // C.BEQZ / C.BNEZ
		// imm[8|4:3|7:6|2:1|5] = insn[12|11:10|6:5|4:3|2]
		imm := ((w >> 2) & 0x1) << 5
		imm |= ((w >> 3) & 0x3) << 1
		imm |= ((w >> 5) & 0x3) << 6
		imm |= ((w >> 10) & 0x3) << 3
		imm |= ((w >> 12) & 0x1) << 8
		d.Format = FormatCB
		d.Rs1 = cRs1P(w)
		d.Imm = signExtend(uint64(imm), 9)
	}
}

func decodeQ2(w uint32, d *Decoded) {
	switch d.Funct3 {
	case 0b000: // C.SLLI
		if cRd(w) == 0 {
			return // reserved
		}
		d.Format = FormatCI
		d.Rd = cRd(w)
		d.Rs1 = d.Rd
		d.Imm = cShamt(w)

	case 0b010: // C.LWSP
		if cRd(w) == 0 {
			return // reserved
		}
		// uimm[5|4:2|7:6] = insn[12|6:4|3:2]
		imm := ((w >> 2) & 0x3) << 6
		imm |= ((w >> 4) & 0x7) << 2
		imm |= ((w >> 12) & 0x1) << 5
		d.Format = FormatCI
		d.Rd = cRd(w)
		d.Rs1 = 2
		d.Imm = int64(imm)

	case 0b011: // C.LDSP
		if cRd(w) == 0 {
			return // reserved
		}
		// uimm[5|4:3|8:6] = insn[12|6:5|4:2], zero-extended
		imm := ((w >> 2) & 0x7) << 6
		imm |= ((w >> 5) & 0x3) << 3
		imm |= ((w >> 12) & 0x1) << 5
		d.Format = FormatCI
		d.Rd = cRd(w)
		d.Rs1 = 2
		d.Imm = int64(imm)

	case 0b100: // C.JR / C.MV / C.EBREAK / C.JALR / C.ADD
		d.Format = FormatCR
		d.Funct7 = (w >> 12) & 0x1
		d.Rd = cRd(w)
		d.Rs1 = cRd(w)
		d.Rs2 = cRs2(w)

	case 0b110: // C.SWSP
		// uimm[5:2|7:6] = insn[12:9|8:7]
		imm := ((w >> 7) & 0x3) << 6
		imm |= ((w >> 9) & 0xf) << 2
		d.Format = FormatCSS
		d.Rs2 = cRs2(w)
		d.Imm = int64(imm)

	case 0b111: // C.SDSP
		// uimm[5:3|8:6] = insn[12:10|9:7]
		imm := ((w >> 7) & 0x7) << 6
		imm |= ((w >> 10) & 0x7) << 3
		d.Format = FormatCSS
		d.Rs2 = cRs2(w)
		d.Imm = int64(imm)
	}
	// C.FLDSP/C.FSDSP stay FormatUnknown.
}
