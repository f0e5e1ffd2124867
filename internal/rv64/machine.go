package rv64

import (
	"context"
	"errors"
	"io"
)

// Memory layout, matching the generated device tree.
const (
	RAMBase    uint64 = 0x8000_0000
	CLINTBase  uint64 = 0x0200_0000
	CLINTSize  uint64 = 0x0001_0000
	PLICBase   uint64 = 0x0c00_0000
	PLICSize   uint64 = 0x0040_0000
	UARTBase   uint64 = 0x1000_0000
	UARTSize   uint64 = 0x0000_0100
	VirtIOBase uint64 = 0x1000_1000
	VirtIOSize uint64 = 0x0000_1000
)

// ErrHalt is returned when the debugger stopped the machine.
var ErrHalt = errors.New("machine halted")

// Machine ties one hart to its memory system. The hart borrows the MMU
// for the duration of each cycle; the MMU owns RAM and the devices.
type Machine struct {
	Hart *Hart
	MMU  *MMU
}

// NewMachine builds a machine with the given RAM size. Console output
// goes to console (the CLI passes stderr). The device table is derived
// from the default device tree blob, so the same layout the guest sees
// drives the MMU's routing.
func NewMachine(ramSize uint64, console io.Writer) *Machine {
	table := DeviceTable(GenerateDTB(ramSize, ""))
	return &Machine{
		Hart: NewHart(0),
		MMU:  NewMMU(table, console),
	}
}

// NewMachineFromDTB builds a machine from an externally provided device
// tree blob.
func NewMachineFromDTB(dtb []byte, console io.Writer) *Machine {
	return &Machine{
		Hart: NewHart(0),
		MMU:  NewMMU(DeviceTable(dtb), console),
	}
}

// Reset places the hart at the entry point in Machine mode.
func (m *Machine) Reset(pc uint64) {
	m.Hart.Reset(pc)
}

// AttachDisk hands the block device its image.
func (m *Machine) AttachDisk(image []byte) {
	m.MMU.AttachDisk(image)
}

// Tick runs one pipeline stage and one device tick. Device-raised mip
// bits become visible to the next tick's interrupt poll.
func (m *Machine) Tick() {
	m.Hart.Cycle(m.MMU)
	mip := m.Hart.CSR.ReadRaw(CSRMip)
	m.Hart.CSR.WriteRaw(CSRMip, m.MMU.Tick(mip))
	m.Hart.CSR.SetTime(m.MMU.MTime())
}

// Run ticks the machine until the context is cancelled or the debugger
// halts it, checking the context every checkEvery ticks.
func (m *Machine) Run(ctx context.Context, checkEvery int) error {
	if checkEvery <= 0 {
		checkEvery = 100000
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := 0; i < checkEvery; i++ {
			m.Tick()
			if m.Hart.Halted() {
				return ErrHalt
			}
		}
	}
}
