package rv64

import "fmt"

// regNames follows the standard ABI mnemonics.
var regNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

var loadNames = [8]string{"lb", "lh", "lw", "ld", "lbu", "lhu", "lwu", ""}
var storeNames = [8]string{"sb", "sh", "sw", "sd", "", "", "", ""}
var branchNames = [8]string{"beq", "bne", "", "", "blt", "bge", "bltu", "bgeu"}
var opImmNames = [8]string{"addi", "slli", "slti", "sltiu", "xori", "srli", "ori", "andi"}
var opNames = [8]string{"add", "sll", "slt", "sltu", "xor", "srl", "or", "and"}
var opMNames = [8]string{"mul", "mulh", "mulhsu", "mulhu", "div", "divu", "rem", "remu"}

// Disassemble renders a decoded instruction as assembly text. It covers
// the instruction set this hart executes; anything else renders as its
// raw word.
func Disassemble(d Decoded) string {
	if d.Compressed {
		return disasmCompressed(d)
	}

	rd := regNames[d.Rd&31]
	rs1 := regNames[d.Rs1&31]
	rs2 := regNames[d.Rs2&31]

	switch d.Opcode {
	case OpLui:
		return fmt.Sprintf("lui %s, %#x", rd, uint32(d.Imm)>>12)
	case OpAuipc:
		return fmt.Sprintf("auipc %s, %#x", rd, uint32(d.Imm)>>12)
	case OpJal:
		return fmt.Sprintf("jal %s, %#x", rd, uint64(int64(d.PC)+d.Imm))
	case OpJalr:
		return fmt.Sprintf("jalr %s, %d(%s)", rd, d.Imm, rs1)
	case OpBranch:
		if name := branchNames[d.Funct3]; name != "" {
			return fmt.Sprintf("%s %s, %s, %#x", name, rs1, rs2, uint64(int64(d.PC)+d.Imm))
		}
	case OpLoad:
		if name := loadNames[d.Funct3]; name != "" {
			return fmt.Sprintf("%s %s, %d(%s)", name, rd, d.Imm, rs1)
		}
	case OpStore:
		if name := storeNames[d.Funct3]; name != "" {
			return fmt.Sprintf("%s %s, %d(%s)", name, rs2, d.Imm, rs1)
		}
	case OpOpImm:
		name := opImmNames[d.Funct3]
		if d.Funct3 == 0b101 && (d.Word>>30)&1 == 1 {
			name = "srai"
		}
		if d.Funct3 == 0b001 || d.Funct3 == 0b101 {
			return fmt.Sprintf("%s %s, %s, %d", name, rd, rs1, (d.Word>>20)&0x3f)
		}
		return fmt.Sprintf("%s %s, %s, %d", name, rd, rs1, d.Imm)
	case OpOpImm32:
		switch d.Funct3 {
		case 0b000:
			return fmt.Sprintf("addiw %s, %s, %d", rd, rs1, d.Imm)
		case 0b001:
			return fmt.Sprintf("slliw %s, %s, %d", rd, rs1, (d.Word>>20)&0x1f)
		case 0b101:
			name := "srliw"
			if (d.Word>>30)&1 == 1 {
				name = "sraiw"
			}
			return fmt.Sprintf("%s %s, %s, %d", name, rd, rs1, (d.Word>>20)&0x1f)
		}
	case OpOp:
		name := opNames[d.Funct3]
		switch {
		case d.Funct7 == 0b0000001:
			name = opMNames[d.Funct3]
		case d.Funct7 == 0b0100000 && d.Funct3 == 0b000:
			name = "sub"
		case d.Funct7 == 0b0100000 && d.Funct3 == 0b101:
			name = "sra"
		}
		return fmt.Sprintf("%s %s, %s, %s", name, rd, rs1, rs2)
	case OpOp32:
		name := map[uint32]string{0b000: "addw", 0b001: "sllw", 0b101: "srlw"}[d.Funct3]
		switch {
		case d.Funct7 == 0b0000001:
			name = map[uint32]string{0b000: "mulw", 0b100: "divw", 0b101: "divuw", 0b110: "remw", 0b111: "remuw"}[d.Funct3]
		case d.Funct7 == 0b0100000 && d.Funct3 == 0b000:
			name = "subw"
		case d.Funct7 == 0b0100000 && d.Funct3 == 0b101:
			name = "sraw"
		}
		if name != "" {
			return fmt.Sprintf("%s %s, %s, %s", name, rd, rs1, rs2)
		}
	case OpAMO:
		if d.Funct7>>2 == 0b00001 {
			suffix := "w"
			if d.Funct3 == 0b011 {
				suffix = "d"
			}
			return fmt.Sprintf("amoswap.%s %s, %s, (%s)", suffix, rd, rs2, rs1)
		}
	case OpMiscMem:
		if d.Funct3 == 0b001 {
			return "fence.i"
		}
		return "fence"
	case OpSystem:
		switch d.Word {
		case 0x00000073:
			return "ecall"
		case 0x00100073:
			return "ebreak"
		case 0x30200073:
			return "mret"
		case 0x10200073:
			return "sret"
		case 0x10500073:
			return "wfi"
		}
		if d.Funct3 != 0 {
			names := [8]string{"", "csrrw", "csrrs", "csrrc", "", "csrrwi", "csrrsi", "csrrci"}
			if name := names[d.Funct3]; name != "" {
				csr := (d.Word >> 20) & 0xfff
				if d.Funct3 >= 5 {
					return fmt.Sprintf("%s %s, %#x, %d", name, rd, csr, d.Rs1)
				}
				return fmt.Sprintf("%s %s, %#x, %s", name, rd, csr, rs1)
			}
		}
	}

	return fmt.Sprintf(".word %#08x", d.Word)
}

func disasmCompressed(d Decoded) string {
	if d.Format == FormatUnknown {
		return fmt.Sprintf(".half %#06x", d.Word)
	}
	rd := regNames[d.Rd&31]
	rs1 := regNames[d.Rs1&31]
	rs2 := regNames[d.Rs2&31]

	switch d.Opcode {
	case quadrant0:
		switch d.Funct3 {
		case 0b000:
			return fmt.Sprintf("c.addi4spn %s, %d", rd, d.Imm)
		case 0b010:
			return fmt.Sprintf("c.lw %s, %d(%s)", rd, d.Imm, rs1)
		case 0b011:
			return fmt.Sprintf("c.ld %s, %d(%s)", rd, d.Imm, rs1)
		case 0b110:
			return fmt.Sprintf("c.sw %s, %d(%s)", rs2, d.Imm, rs1)
		case 0b111:
			return fmt.Sprintf("c.sd %s, %d(%s)", rs2, d.Imm, rs1)
		}
	case quadrant1:
		switch d.Funct3 {
		case 0b000:
			if d.Rd == 0 {
				return "c.nop"
			}
			return fmt.Sprintf("c.addi %s, %d", rd, d.Imm)
		case 0b001:
			return fmt.Sprintf("c.addiw %s, %d", rd, d.Imm)
		case 0b010:
			return fmt.Sprintf("c.li %s, %d", rd, d.Imm)
		case 0b011:
			if d.Rd == 2 {
				return fmt.Sprintf("c.addi16sp %d", d.Imm)
			}
			return fmt.Sprintf("c.lui %s, %#x", rd, uint64(d.Imm)>>12)
		case 0b100:
			if d.Format == FormatCB {
				names := [3]string{"c.srli", "c.srai", "c.andi"}
				return fmt.Sprintf("%s %s, %d", names[d.Funct7], rd, d.Imm)
			}
			names := [6]string{"c.sub", "c.xor", "c.or", "c.and", "c.subw", "c.addw"}
			return fmt.Sprintf("%s %s, %s", names[d.Funct7], rd, rs2)
		case 0b101:
			return fmt.Sprintf("c.j %#x", uint64(int64(d.PC)+d.Imm))
		case 0b110:
			return fmt.Sprintf("c.beqz %s, %#x", rs1, uint64(int64(d.PC)+d.Imm))
		case 0b111:
			return fmt.Sprintf("c.bnez %s, %#x", rs1, uint64(int64(d.PC)+d.Imm))
		}
	case quadrant2:
		switch d.Funct3 {
		case 0b000:
			return fmt.Sprintf("c.slli %s, %d", rd, d.Imm)
		case 0b010:
			return fmt.Sprintf("c.lwsp %s, %d(sp)", rd, d.Imm)
		case 0b011:
			return fmt.Sprintf("c.ldsp %s, %d(sp)", rd, d.Imm)
		case 0b100:
			if d.Funct7 == 0 {
				if d.Rs2 == 0 {
					return fmt.Sprintf("c.jr %s", rs1)
				}
				return fmt.Sprintf("c.mv %s, %s", rd, rs2)
			}
			if d.Rs2 == 0 {
				if d.Rs1 == 0 {
					return "c.ebreak"
				}
				return fmt.Sprintf("c.jalr %s", rs1)
			}
			return fmt.Sprintf("c.add %s, %s", rd, rs2)
		case 0b110:
			return fmt.Sprintf("c.swsp %s, %d(sp)", rs2, d.Imm)
		case 0b111:
			return fmt.Sprintf("c.sdsp %s, %d(sp)", rs2, d.Imm)
		}
	}

	return fmt.Sprintf(".half %#06x", d.Word)
}
