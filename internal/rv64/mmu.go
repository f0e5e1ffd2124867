package rv64

import (
	"fmt"
	"io"
)

// SATP modes
const (
	SatpModeBare = 0
	SatpModeSv39 = 8
	SatpModeSv48 = 9
)

// Page table entry flags
const (
	PteV = 1 << 0
	PteR = 1 << 1
	PteW = 1 << 2
	PteX = 1 << 3
	PteU = 1 << 4
	PteG = 1 << 5
	PteA = 1 << 6
	PteD = 1 << 7
)

const (
	pageSize  = 4096
	pageShift = 12
	vpnBits   = 9
	ppnMask   = 0xfffffffffff // 44 bits
)

// Memory access types for translation.
const (
	accessRead = iota
	accessWrite
	accessExecute
)

// Range is a named physical address range from the device table.
type Range struct {
	Name  string
	Start uint64
	End   uint64
}

// Includes reports whether addr falls inside the range.
func (r Range) Includes(addr uint64) bool {
	return r.Start <= addr && addr < r.End
}

// FindRange returns the first range with the given name.
func FindRange(table []Range, name string) (Range, bool) {
	for _, r := range table {
		if r.Name == name {
			return r, true
		}
	}
	return Range{}, false
}

type mappedDevice struct {
	name string
	base uint64
	size uint64
	dev  Device
}

// MMU owns RAM and the memory-mapped devices and performs
// virtual-to-physical translation, privilege checks and routing. The hart
// reaches memory only through it.
type MMU struct {
	ram     *Memory
	ramBase uint64
	devices []mappedDevice

	uart   *UART
	clint  *CLINT
	plic   *PLIC
	virtio *VirtIO

	// Hart state snapshots, refreshed after every cycle.
	priv     uint8
	mstatus  uint64
	satp     uint64
	satpMode uint8
	satpASID uint16
	satpPPN  uint64
}

// NewMMU builds the memory system from a device table. The table must
// name memory, uart, clint, interrupt-controller and virtio_mmio ranges; a
// table without them is a corrupt device tree and a programming error.
func NewMMU(table []Range, uartOut io.Writer) *MMU {
	need := func(name string) Range {
		r, ok := FindRange(table, name)
		if !ok {
			panic(fmt.Sprintf("rv64: device table has no %q range", name))
		}
		return r
	}

	memRange := need("memory")
	uartRange := need("uart")
	clintRange := need("clint")
	plicRange := need("interrupt-controller")
	virtioRange := need("virtio_mmio")

	m := &MMU{
		ram:     NewMemory(memRange.End - memRange.Start),
		ramBase: memRange.Start,
		priv:    PrivMachine,
	}

	m.uart = NewUART(uartOut)
	m.clint = NewCLINT()
	m.plic = NewPLIC()
	m.virtio = NewVirtIO(m.ram, m.ramBase)

	m.addDevice("uart", uartRange, m.uart)
	m.addDevice("clint", clintRange, m.clint)
	m.addDevice("interrupt-controller", plicRange, m.plic)
	m.addDevice("virtio_mmio", virtioRange, m.virtio)

	return m
}

func (m *MMU) addDevice(name string, r Range, dev Device) {
	m.devices = append(m.devices, mappedDevice{
		name: name,
		base: r.Start,
		size: r.End - r.Start,
		dev:  dev,
	})
}

// RAM exposes the backing store for loaders and the VirtIO ring walker.
func (m *MMU) RAM() *Memory {
	return m.ram
}

// RAMBase returns the physical base address of RAM.
func (m *MMU) RAMBase() uint64 {
	return m.ramBase
}

// UART returns the console device.
func (m *MMU) UART() *UART {
	return m.uart
}

// PLIC returns the external interrupt controller.
func (m *MMU) PLIC() *PLIC {
	return m.plic
}

// CLINT returns the core-local interruptor.
func (m *MMU) CLINT() *CLINT {
	return m.clint
}

// VirtIO returns the block device.
func (m *MMU) VirtIO() *VirtIO {
	return m.virtio
}

// AttachDisk hands the block device its backing image.
func (m *MMU) AttachDisk(image []byte) {
	m.virtio.LoadImage(image)
}

// SetPrivilege caches the hart's privilege mode for translation.
func (m *MMU) SetPrivilege(priv uint8) {
	m.priv = priv
}

// SetSATP caches the hart's satp register, decomposed into mode and PPN.
func (m *MMU) SetSATP(satp uint64) {
	if m.satp == satp {
		return
	}
	m.satp = satp
	m.satpMode = uint8(satp >> 60)
	m.satpASID = uint16((satp >> 44) & 0xffff)
	m.satpPPN = satp & ppnMask
}

// SetMstatus caches mstatus for the SUM/MXR permission checks.
func (m *MMU) SetMstatus(mstatus uint64) {
	m.mstatus = mstatus
}

// MTime returns the CLINT's monotonic timer.
func (m *MMU) MTime() uint64 {
	return m.clint.MTime()
}

// Tick advances every device by one tick and returns the new mip value:
// the CLINT contributes the timer and software bits, the PLIC folds the
// UART and VirtIO interrupt lines into MEIP (context 0) and SEIP
// (context 1).
func (m *MMU) Tick(mip uint64) uint64 {
	mip = m.clint.Tick(mip)
	m.virtio.Tick()
	m.uart.Tick()
	return m.plic.Tick(m.virtio.Interrupting(), m.uart.Interrupting(), mip)
}

// pageFault builds the page fault matching the access type.
func pageFault(access int, vaddr uint64) *Trap {
	switch access {
	case accessWrite:
		return trap(CauseStorePageFault, vaddr)
	case accessExecute:
		return trap(CauseInsnPageFault, vaddr)
	default:
		return trap(CauseLoadPageFault, vaddr)
	}
}

// accessFault builds the access fault matching the access type.
func accessFault(access int, vaddr uint64) *Trap {
	switch access {
	case accessWrite:
		return trap(CauseStoreAccessFault, vaddr)
	case accessExecute:
		return trap(CauseInsnAccessFault, vaddr)
	default:
		return trap(CauseLoadAccessFault, vaddr)
	}
}

// translate resolves a virtual address. Machine mode and bare satp are
// identity; SV39 walks the page table. SV48 is not implemented and treated
// as bare.
func (m *MMU) translate(vaddr uint64, access int) (uint64, *Trap) {
	if m.priv == PrivMachine {
		return vaddr, nil
	}
	switch m.satpMode {
	case SatpModeSv39:
		return m.walkSv39(vaddr, access)
	default:
		return vaddr, nil
	}
}

// walkSv39 performs the three-level SV39 page table walk, including
// superpage assembly and A/D bit write-back.
func (m *MMU) walkSv39(vaddr uint64, access int) (uint64, *Trap) {
	// Virtual addresses must be canonical: bits [63:39] equal bit 38.
	if top := int64(vaddr) >> 38; top != 0 && top != -1 {
		return 0, pageFault(access, vaddr)
	}

	vpn := [3]uint64{
		(vaddr >> 12) & 0x1ff,
		(vaddr >> 21) & 0x1ff,
		(vaddr >> 30) & 0x1ff,
	}

	base := m.satpPPN * pageSize
	for level := 2; level >= 0; level-- {
		pteAddr := base + vpn[level]*8
		pte, t := m.physRead(pteAddr, 8, access)
		if t != nil {
			return 0, pageFault(access, vaddr)
		}

		if pte&PteV == 0 || (pte&PteR == 0 && pte&PteW != 0) {
			return 0, pageFault(access, vaddr)
		}

		if pte&PteR == 0 && pte&PteX == 0 {
			// Pointer to the next level.
			if level == 0 {
				return 0, pageFault(access, vaddr)
			}
			base = ((pte >> 10) & ppnMask) * pageSize
			continue
		}

		// Leaf.
		if t := m.checkPTEPermissions(pte, access); t != nil {
			return 0, pageFault(access, vaddr)
		}

		if level > 0 {
			// Superpage: the low PPN fields must be clear.
			mask := uint64(1)<<(uint(level)*vpnBits) - 1
			if (pte>>10)&mask != 0 {
				return 0, pageFault(access, vaddr)
			}
		}

		if pte&PteA == 0 || (access == accessWrite && pte&PteD == 0) {
			newPTE := pte | PteA
			if access == accessWrite {
				newPTE |= PteD
			}
			if t := m.physWrite(pteAddr, 8, newPTE, access); t != nil {
				return 0, pageFault(access, vaddr)
			}
		}

		ppn := (pte >> 10) & ppnMask
		if level > 0 {
			mask := uint64(1)<<(uint(level)*vpnBits) - 1
			ppn = (ppn &^ mask) | ((vaddr >> pageShift) & mask)
		}
		return ppn<<pageShift | vaddr&(pageSize-1), nil
	}

	return 0, pageFault(access, vaddr)
}

// checkPTEPermissions enforces U/SUM/MXR and the R/W/X bits against the
// access type.
func (m *MMU) checkPTEPermissions(pte uint64, access int) *Trap {
	if m.priv == PrivUser {
		if pte&PteU == 0 {
			return pageFault(access, 0)
		}
	} else if pte&PteU != 0 {
		// Supervisor touching a user page: loads and stores need SUM,
		// execution is never allowed.
		if access == accessExecute || m.mstatus&MstatusSUM == 0 {
			return pageFault(access, 0)
		}
	}

	switch access {
	case accessRead:
		if pte&PteR == 0 {
			if m.mstatus&MstatusMXR != 0 && pte&PteX != 0 {
				return nil
			}
			return pageFault(access, 0)
		}
	case accessWrite:
		if pte&PteW == 0 {
			return pageFault(access, 0)
		}
	case accessExecute:
		if pte&PteX == 0 {
			return pageFault(access, 0)
		}
	}
	return nil
}

// physRead routes a physical read to RAM or a device.
func (m *MMU) physRead(paddr uint64, size int, access int) (uint64, *Trap) {
	if paddr >= m.ramBase && paddr+uint64(size) <= m.ramBase+m.ram.Size() {
		val, err := m.ram.Read(paddr-m.ramBase, size)
		if err != nil {
			return 0, accessFault(access, paddr)
		}
		return val, nil
	}
	for _, d := range m.devices {
		if paddr >= d.base && paddr < d.base+d.size {
			val, err := d.dev.Read(paddr-d.base, size)
			if err != nil {
				return 0, accessFault(access, paddr)
			}
			return val, nil
		}
	}
	return 0, accessFault(access, paddr)
}

// physWrite routes a physical write to RAM or a device.
func (m *MMU) physWrite(paddr uint64, size int, value uint64, access int) *Trap {
	if paddr >= m.ramBase && paddr+uint64(size) <= m.ramBase+m.ram.Size() {
		if err := m.ram.Write(paddr-m.ramBase, size, value); err != nil {
			return accessFault(access, paddr)
		}
		return nil
	}
	for _, d := range m.devices {
		if paddr >= d.base && paddr < d.base+d.size {
			if err := d.dev.Write(paddr-d.base, size, value); err != nil {
				return accessFault(access, paddr)
			}
			return nil
		}
	}
	return accessFault(access, paddr)
}

func (m *MMU) read(vaddr uint64, size int) (uint64, *Trap) {
	paddr, t := m.translate(vaddr, accessRead)
	if t != nil {
		return 0, t
	}
	val, t := m.physRead(paddr, size, accessRead)
	if t != nil {
		// Report the fault against the virtual address.
		t.Tval = vaddr
	}
	return val, t
}

func (m *MMU) write(vaddr uint64, size int, value uint64) *Trap {
	paddr, t := m.translate(vaddr, accessWrite)
	if t != nil {
		return t
	}
	if t := m.physWrite(paddr, size, value, accessWrite); t != nil {
		t.Tval = vaddr
		return t
	}
	return nil
}

// Read8 reads a byte at a virtual address.
func (m *MMU) Read8(vaddr uint64) (uint8, *Trap) {
	v, t := m.read(vaddr, 1)
	return uint8(v), t
}

// Read16 reads a halfword at a virtual address.
func (m *MMU) Read16(vaddr uint64) (uint16, *Trap) {
	v, t := m.read(vaddr, 2)
	return uint16(v), t
}

// Read32 reads a word at a virtual address.
func (m *MMU) Read32(vaddr uint64) (uint32, *Trap) {
	v, t := m.read(vaddr, 4)
	return uint32(v), t
}

// Read64 reads a doubleword at a virtual address.
func (m *MMU) Read64(vaddr uint64) (uint64, *Trap) {
	return m.read(vaddr, 8)
}

// Write8 writes a byte at a virtual address.
func (m *MMU) Write8(vaddr uint64, v uint8) *Trap {
	return m.write(vaddr, 1, uint64(v))
}

// Write16 writes a halfword at a virtual address.
func (m *MMU) Write16(vaddr uint64, v uint16) *Trap {
	return m.write(vaddr, 2, uint64(v))
}

// Write32 writes a word at a virtual address.
func (m *MMU) Write32(vaddr uint64, v uint32) *Trap {
	return m.write(vaddr, 4, uint64(v))
}

// Write64 writes a doubleword at a virtual address.
func (m *MMU) Write64(vaddr uint64, v uint64) *Trap {
	return m.write(vaddr, 8, v)
}

// Fetch reads the encoding at pc through the execute path: two bytes
// first, and the upper half only when the low bits say the encoding is
// uncompressed. The halves are translated separately so a fetch straddling
// a page boundary walks both pages.
func (m *MMU) Fetch(pc uint64) (word uint32, compressed bool, t *Trap) {
	paddr, t := m.translate(pc, accessExecute)
	if t != nil {
		return 0, false, t
	}
	lo, t := m.physRead(paddr, 2, accessExecute)
	if t != nil {
		t.Tval = pc
		return 0, false, t
	}

	if lo&0x3 != 0x3 {
		return uint32(lo), true, nil
	}

	paddr, t = m.translate(pc+2, accessExecute)
	if t != nil {
		return 0, false, t
	}
	hi, t := m.physRead(paddr, 2, accessExecute)
	if t != nil {
		t.Tval = pc
		return 0, false, t
	}

	return uint32(lo) | uint32(hi)<<16, false, nil
}

// WriteByte writes one byte of a program image at a physical address.
// This is the loader's interface into guest memory.
func (m *MMU) WriteByte(paddr uint64, b byte) error {
	if paddr < m.ramBase || paddr >= m.ramBase+m.ram.Size() {
		return fmt.Errorf("load outside RAM: %#x", paddr)
	}
	return m.ram.Write(paddr-m.ramBase, 1, uint64(b))
}

// LoadBytes copies a block of bytes into RAM at a physical address.
func (m *MMU) LoadBytes(paddr uint64, data []byte) error {
	if paddr < m.ramBase || paddr+uint64(len(data)) > m.ramBase+m.ram.Size() {
		return fmt.Errorf("load outside RAM: %#x+%#x", paddr, len(data))
	}
	_, err := m.ram.WriteAt(data, int64(paddr-m.ramBase))
	return err
}
