package rv64

import (
	"fmt"

	"rv64sim/internal/fdt"
)

// GenerateDTB builds the machine's device tree. The node names carry the
// unit addresses the MMU's device table is derived from; the blob itself
// is not placed in guest memory.
func GenerateDTB(ramSize uint64, bootargs string) []byte {
	b := fdt.NewBuilder()

	b.BeginNode("")
	b.PropU32("#address-cells", 2)
	b.PropU32("#size-cells", 2)
	b.PropString("compatible", "riscv-virtio")
	b.PropString("model", "riscv-virtio,rv64sim")

	b.BeginNode("chosen")
	b.PropString("bootargs", bootargs)
	b.PropString("stdout-path", fmt.Sprintf("/soc/uart@%x", UARTBase))
	b.EndNode()

	b.BeginNode("cpus")
	b.PropU32("#address-cells", 1)
	b.PropU32("#size-cells", 0)
	b.PropU32("timebase-frequency", 10000000)

	b.BeginNode("cpu@0")
	b.PropString("device_type", "cpu")
	b.PropU32("reg", 0)
	b.PropString("status", "okay")
	b.PropString("compatible", "riscv")
	b.PropString("riscv,isa", "rv64imc_zicsr_zifencei")
	b.PropString("mmu-type", "riscv,sv39")

	b.BeginNode("interrupt-controller")
	b.PropU32("#interrupt-cells", 1)
	b.PropEmpty("interrupt-controller")
	b.PropString("compatible", "riscv,cpu-intc")
	b.PropU32("phandle", 1)
	b.EndNode()

	b.EndNode() // cpu@0
	b.EndNode() // cpus

	b.BeginNode(fmt.Sprintf("memory@%x", RAMBase))
	b.PropString("device_type", "memory")
	b.PropReg(RAMBase, ramSize)
	b.EndNode()

	b.BeginNode("soc")
	b.PropU32("#address-cells", 2)
	b.PropU32("#size-cells", 2)
	b.PropString("compatible", "simple-bus")
	b.PropEmpty("ranges")

	b.BeginNode(fmt.Sprintf("clint@%x", CLINTBase))
	b.PropString("compatible", "riscv,clint0")
	b.PropReg(CLINTBase, CLINTSize)
	b.PropU32Array("interrupts-extended", []uint32{1, 3, 1, 7})
	b.EndNode()

	b.BeginNode(fmt.Sprintf("interrupt-controller@%x", PLICBase))
	b.PropString("compatible", "sifive,plic-1.0.0")
	b.PropU32("#interrupt-cells", 1)
	b.PropEmpty("interrupt-controller")
	b.PropReg(PLICBase, PLICSize)
	b.PropU32Array("interrupts-extended", []uint32{1, 11, 1, 9})
	b.PropU32("riscv,ndev", 127)
	b.PropU32("phandle", 2)
	b.EndNode()

	b.BeginNode(fmt.Sprintf("uart@%x", UARTBase))
	b.PropString("compatible", "ns16550a")
	b.PropReg(UARTBase, UARTSize)
	b.PropU32("clock-frequency", 3686400)
	b.PropU32("interrupts", PLICSourceUART)
	b.PropU32("interrupt-parent", 2)
	b.EndNode()

	b.BeginNode(fmt.Sprintf("virtio_mmio@%x", VirtIOBase))
	b.PropString("compatible", "virtio,mmio")
	b.PropReg(VirtIOBase, VirtIOSize)
	b.PropU32("interrupts", PLICSourceVirtIO)
	b.PropU32("interrupt-parent", 2)
	b.EndNode()

	b.EndNode() // soc
	b.EndNode() // root

	return b.Build()
}

// DeviceTable parses a DTB into the named ranges the MMU consumes. A blob
// that does not parse is a corrupt device tree: a programming error, not a
// guest fault.
func DeviceTable(dtb []byte) []Range {
	regions, err := fdt.ParseRegions(dtb)
	if err != nil {
		panic(fmt.Sprintf("rv64: corrupt device tree: %v", err))
	}

	table := make([]Range, 0, len(regions))
	for _, r := range regions {
		if r.Size == 0 {
			continue // cpu@0 and friends
		}
		table = append(table, Range{
			Name:  r.Name,
			Start: r.Start,
			End:   r.Start + r.Size,
		})
	}
	return table
}
