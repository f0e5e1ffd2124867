package rv64

// CSR addresses
const (
	CSRUstatus uint16 = 0x000
	CSRFflags  uint16 = 0x001
	CSRFrm     uint16 = 0x002
	CSRFcsr    uint16 = 0x003
	CSRUie     uint16 = 0x004
	CSRUtvec   uint16 = 0x005

	CSRUepc   uint16 = 0x041
	CSRUcause uint16 = 0x042
	CSRUtval  uint16 = 0x043

	CSRSstatus    uint16 = 0x100
	CSRSedeleg    uint16 = 0x102
	CSRSideleg    uint16 = 0x103
	CSRSie        uint16 = 0x104
	CSRStvec      uint16 = 0x105
	CSRScounteren uint16 = 0x106
	CSRSscratch   uint16 = 0x140
	CSRSepc       uint16 = 0x141
	CSRScause     uint16 = 0x142
	CSRStval      uint16 = 0x143
	CSRSip        uint16 = 0x144
	CSRSatp       uint16 = 0x180

	CSRMstatus    uint16 = 0x300
	CSRMisa       uint16 = 0x301
	CSRMedeleg    uint16 = 0x302
	CSRMideleg    uint16 = 0x303
	CSRMie        uint16 = 0x304
	CSRMtvec      uint16 = 0x305
	CSRMcounteren uint16 = 0x306
	CSRMscratch   uint16 = 0x340
	CSRMepc       uint16 = 0x341
	CSRMcause     uint16 = 0x342
	CSRMtval      uint16 = 0x343
	CSRMip        uint16 = 0x344

	CSRPmpcfg0  uint16 = 0x3a0
	CSRPmpaddr0 uint16 = 0x3b0

	CSRMcycle    uint16 = 0xb00
	CSRMinstret  uint16 = 0xb02
	CSRMcycleh   uint16 = 0xb80
	CSRMinstreth uint16 = 0xb82

	CSRCycle    uint16 = 0xc00
	CSRTime     uint16 = 0xc01
	CSRInstret  uint16 = 0xc02
	CSRCycleh   uint16 = 0xc80
	CSRTimeh    uint16 = 0xc81
	CSRInstreth uint16 = 0xc82

	CSRMvendorid  uint16 = 0xf11
	CSRMarchid    uint16 = 0xf12
	CSRMimpid     uint16 = 0xf13
	CSRMhartid    uint16 = 0xf14
	CSRMconfigptr uint16 = 0xf15
)

// Aliasing and write masks. The supervisor registers are views onto their
// machine-mode supersets; writes through the view must not disturb the
// machine-only bits.
const (
	sstatusMask uint64 = 0x80000003000de162
	sieMask     uint64 = 0x222
	sipMask     uint64 = 0x222
	midelegMask uint64 = 0x666
	fflagsMask  uint64 = 0x1f
	frmMask     uint64 = 0x7
)

// CSRFile is the 4096-entry control-and-status register bank. All aliasing
// and write-mask rules live at this boundary; callers read and write named
// registers and get the architectural view.
type CSRFile struct {
	regs [4096]uint64

	// mtime mirror, refreshed from the CLINT once per cycle.
	mtime uint64
}

// Read returns the architectural value of a CSR.
func (c *CSRFile) Read(addr uint16) uint64 {
	switch addr {
	case CSRFflags:
		return c.regs[CSRFcsr] & fflagsMask
	case CSRFrm:
		return (c.regs[CSRFcsr] >> 5) & frmMask
	case CSRSstatus:
		return c.regs[CSRMstatus] & sstatusMask
	case CSRSie:
		return c.regs[CSRMie] & sieMask
	case CSRSip:
		return c.regs[CSRMip] & sipMask
	case CSRTime:
		return c.mtime
	case CSRCycle:
		return c.regs[CSRMcycle]
	default:
		return c.regs[addr]
	}
}

// Write stores a value into a CSR, applying the register's write mask and
// aliasing. mhartid is hard-wired after construction.
func (c *CSRFile) Write(addr uint16, val uint64) {
	switch addr {
	case CSRFflags:
		c.regs[CSRFcsr] = (c.regs[CSRFcsr] &^ fflagsMask) | (val & fflagsMask)
	case CSRFrm:
		c.regs[CSRFcsr] = (c.regs[CSRFcsr] &^ (frmMask << 5)) | ((val & frmMask) << 5)
	case CSRSstatus, CSRMstatus:
		c.regs[CSRMstatus] = (c.regs[CSRMstatus] &^ sstatusMask) | (val & sstatusMask)
	case CSRSie:
		c.regs[CSRMie] = (c.regs[CSRMie] &^ sieMask) | (val & sieMask)
	case CSRSip:
		c.regs[CSRMip] = (c.regs[CSRMip] &^ sipMask) | (val & sipMask)
	case CSRMideleg:
		c.regs[CSRMideleg] = val & midelegMask
	case CSRMepc, CSRSepc:
		c.regs[addr] = val &^ 1
	case CSRMhartid:
		// hard-wired
	default:
		c.regs[addr] = val
	}
}

// ReadRaw reads the backing storage without aliasing. Used by the trap
// machinery, which manipulates mstatus bits outside the guest write mask.
func (c *CSRFile) ReadRaw(addr uint16) uint64 {
	return c.regs[addr]
}

// WriteRaw writes the backing storage without masking.
func (c *CSRFile) WriteRaw(addr uint16, val uint64) {
	c.regs[addr] = val
}

// SetTime refreshes the value returned by time CSR reads.
func (c *CSRFile) SetTime(mtime uint64) {
	c.mtime = mtime
}

// csrPermitted reports whether a CSR access is legal at the given privilege:
// the two address bits [9:8] encode the minimum privilege, and addresses
// with bits [11:10] == 11 are read-only.
func csrPermitted(addr uint16, priv uint8, write bool) bool {
	if uint16(priv) < (addr>>8)&3 {
		return false
	}
	if write && (addr>>10) == 3 {
		return false
	}
	return true
}

// counterPermitted reports whether a counter CSR (cycle/time/instret) may
// be read at the given privilege, per mcounteren/scounteren.
func (c *CSRFile) counterPermitted(addr uint16, priv uint8) bool {
	if priv == PrivMachine {
		return true
	}
	bit := uint64(1) << (addr - CSRCycle)
	if c.regs[CSRMcounteren]&bit == 0 {
		return false
	}
	if priv == PrivUser && c.regs[CSRScounteren]&bit == 0 {
		return false
	}
	return true
}
