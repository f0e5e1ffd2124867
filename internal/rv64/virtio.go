package rv64

import "fmt"

// VirtIO MMIO register offsets
const (
	virtioMagicValue        = 0x000
	virtioVersion           = 0x004
	virtioDeviceID          = 0x008
	virtioVendorID          = 0x00c
	virtioDeviceFeatures    = 0x010
	virtioDeviceFeaturesSel = 0x014
	virtioDriverFeatures    = 0x020
	virtioDriverFeaturesSel = 0x024
	virtioQueueSel          = 0x030
	virtioQueueNumMax       = 0x034
	virtioQueueNum          = 0x038
	virtioQueueReady        = 0x044
	virtioQueueNotify       = 0x050
	virtioInterruptStatus   = 0x060
	virtioInterruptACK      = 0x064
	virtioStatus            = 0x070
	virtioQueueDescLow      = 0x080
	virtioQueueDescHigh     = 0x084
	virtioQueueDriverLow    = 0x090
	virtioQueueDriverHigh   = 0x094
	virtioQueueDeviceLow    = 0x0a0
	virtioQueueDeviceHigh   = 0x0a4
	virtioConfigGeneration  = 0x0fc
	virtioConfig            = 0x100
)

const (
	virtioMagic       = 0x74726976
	virtioVendor      = 0x554d4551
	virtioBlockDevice = 2
	virtioQueueMax    = 0x2000
)

// Virtqueue descriptor flags
const (
	vringDescNext  = 1
	vringDescWrite = 2
)

// Block request types
const (
	virtioBlkTIn  = 0 // device-to-driver (disk read)
	virtioBlkTOut = 1 // driver-to-device (disk write)
)

// SectorSize is the block device's sector size.
const SectorSize = 512

// diskAccessDelay is the number of ticks between a queue notify and the
// descriptor walk, modeling disk latency the guest can observe.
const diskAccessDelay = 500

// VirtIO is a virtio-mmio block device backed by an in-memory image. The
// guest negotiates features, configures one virtqueue and issues requests;
// QueueNotify schedules the descriptor walk a fixed number of ticks out.
type VirtIO struct {
	ram     *Memory
	ramBase uint64

	image []byte

	status             uint32
	deviceFeaturesSel  uint32
	driverFeatures     uint32
	driverFeaturesSel  uint32
	queueSel           uint32
	queueNum           uint32
	queueReady         uint32
	descAddr           uint64
	availAddr          uint64
	usedAddr           uint64
	lastAvailIdx       uint16
	intStatus          uint32

	clock    uint64
	notifyAt uint64
}

// NewVirtIO creates the block device. The ring walker reads descriptors
// straight out of guest RAM, so it holds the backing store.
func NewVirtIO(ram *Memory, ramBase uint64) *VirtIO {
	return &VirtIO{ram: ram, ramBase: ramBase}
}

// LoadImage attaches the disk image. Called once at startup.
func (v *VirtIO) LoadImage(image []byte) {
	v.image = image
}

// Size implements Device.
func (v *VirtIO) Size() uint64 {
	return 0x1000
}

// Interrupting reports whether the used-buffer interrupt is raised.
func (v *VirtIO) Interrupting() bool {
	return v.intStatus&1 != 0
}

// Capacity returns the disk size in sectors.
func (v *VirtIO) Capacity() uint64 {
	return uint64(len(v.image)) / SectorSize
}

// Read implements Device.
func (v *VirtIO) Read(offset uint64, size int) (uint64, error) {
	if offset >= virtioConfig {
		// Config space: capacity in sectors, byte-addressable.
		var buf [8]byte
		hartEndian.PutUint64(buf[:], v.Capacity())
		idx := offset - virtioConfig
		if idx < 8 {
			switch size {
			case 1:
				return uint64(buf[idx]), nil
			case 4:
				return uint64(hartEndian.Uint32(buf[idx:])), nil
			}
		}
		return 0, nil
	}

	switch offset {
	case virtioMagicValue:
		return virtioMagic, nil
	case virtioVersion:
		return 2, nil
	case virtioDeviceID:
		return virtioBlockDevice, nil
	case virtioVendorID:
		return virtioVendor, nil
	case virtioDeviceFeatures:
		if v.deviceFeaturesSel == 1 {
			return 1, nil // VIRTIO_F_VERSION_1
		}
		return 0, nil
	case virtioQueueNumMax:
		return virtioQueueMax, nil
	case virtioQueueReady:
		return uint64(v.queueReady), nil
	case virtioInterruptStatus:
		return uint64(v.intStatus), nil
	case virtioStatus:
		return uint64(v.status), nil
	case virtioConfigGeneration:
		return 0, nil
	}
	return 0, nil
}

// Write implements Device.
func (v *VirtIO) Write(offset uint64, size int, value uint64) error {
	val := uint32(value)
	switch offset {
	case virtioDeviceFeaturesSel:
		v.deviceFeaturesSel = val
	case virtioDriverFeatures:
		v.driverFeatures = val
	case virtioDriverFeaturesSel:
		v.driverFeaturesSel = val
	case virtioQueueSel:
		v.queueSel = val
	case virtioQueueNum:
		if val > 0 && val&(val-1) == 0 {
			v.queueNum = val
		}
	case virtioQueueReady:
		v.queueReady = val & 1
	case virtioQueueNotify:
		v.notifyAt = v.clock + diskAccessDelay
	case virtioInterruptACK:
		v.intStatus &^= val
	case virtioStatus:
		v.status = val
		if val == 0 {
			v.reset()
		}
	case virtioQueueDescLow:
		v.descAddr = v.descAddr&^0xffffffff | uint64(val)
	case virtioQueueDescHigh:
		v.descAddr = v.descAddr&0xffffffff | uint64(val)<<32
	case virtioQueueDriverLow:
		v.availAddr = v.availAddr&^0xffffffff | uint64(val)
	case virtioQueueDriverHigh:
		v.availAddr = v.availAddr&0xffffffff | uint64(val)<<32
	case virtioQueueDeviceLow:
		v.usedAddr = v.usedAddr&^0xffffffff | uint64(val)
	case virtioQueueDeviceHigh:
		v.usedAddr = v.usedAddr&0xffffffff | uint64(val)<<32
	}
	return nil
}

func (v *VirtIO) reset() {
	v.queueReady = 0
	v.descAddr = 0
	v.availAddr = 0
	v.usedAddr = 0
	v.lastAvailIdx = 0
	v.intStatus = 0
	v.notifyAt = 0
}

// Tick advances the device clock and, once a scheduled disk access comes
// due, walks the available ring.
func (v *VirtIO) Tick() {
	v.clock++
	if v.notifyAt != 0 && v.clock >= v.notifyAt {
		v.notifyAt = 0
		v.processQueue()
	}
}

// virtqDesc is one descriptor of the split virtqueue.
type virtqDesc struct {
	addr  uint64
	len   uint32
	flags uint16
	next  uint16
}

func (v *VirtIO) readDesc(idx uint16) virtqDesc {
	base := v.descAddr + uint64(idx)*16
	return virtqDesc{
		addr:  v.ramRead64(base),
		len:   v.ramRead32(base + 8),
		flags: v.ramRead16(base + 12),
		next:  v.ramRead16(base + 14),
	}
}

// processQueue handles every request the driver published since the last
// walk. A block request is a three-descriptor chain: 16-byte header, data
// buffer, status byte.
func (v *VirtIO) processQueue() {
	if v.queueNum == 0 {
		return
	}

	availIdx := v.ramRead16(v.availAddr + 2)
	for v.lastAvailIdx != availIdx {
		slot := uint64(uint32(v.lastAvailIdx) & (v.queueNum - 1))
		descIdx := v.ramRead16(v.availAddr + 4 + slot*2)
		written := v.processRequest(descIdx)
		v.pushUsed(descIdx, written)
		v.lastAvailIdx++
	}
}

// processRequest services one descriptor chain and returns the number of
// bytes written to device-writable buffers.
func (v *VirtIO) processRequest(descIdx uint16) uint32 {
	head := v.readDesc(descIdx)

	reqType := v.ramRead32(head.addr)
	sector := v.ramRead64(head.addr + 8)

	if head.flags&vringDescNext == 0 {
		return 0
	}
	data := v.readDesc(head.next)

	var statusDesc virtqDesc
	hasStatus := data.flags&vringDescNext != 0
	if hasStatus {
		statusDesc = v.readDesc(data.next)
	}

	var written uint32
	ok := true
	switch reqType {
	case virtioBlkTIn:
		off := sector * SectorSize
		if off+uint64(data.len) > uint64(len(v.image)) {
			ok = false
			break
		}
		buf := v.ram.Slice(data.addr-v.ramBase, uint64(data.len))
		if buf == nil {
			ok = false
			break
		}
		copy(buf, v.image[off:off+uint64(data.len)])
		written = data.len

	case virtioBlkTOut:
		off := sector * SectorSize
		if off+uint64(data.len) > uint64(len(v.image)) {
			ok = false
			break
		}
		buf := v.ram.Slice(data.addr-v.ramBase, uint64(data.len))
		if buf == nil {
			ok = false
			break
		}
		copy(v.image[off:off+uint64(data.len)], buf)

	default:
		ok = false
	}

	if hasStatus {
		status := byte(0)
		if !ok {
			status = 1 // VIRTIO_BLK_S_IOERR
		}
		v.ramWrite8(statusDesc.addr, status)
		written++
	}
	return written
}

// pushUsed appends a used-ring element and raises the used-buffer
// interrupt.
func (v *VirtIO) pushUsed(descIdx uint16, written uint32) {
	idx := v.ramRead16(v.usedAddr + 2)
	elem := v.usedAddr + 4 + uint64(uint32(idx)&(v.queueNum-1))*8
	v.ramWrite32(elem, uint32(descIdx))
	v.ramWrite32(elem+4, written)
	v.ramWrite16(v.usedAddr+2, idx+1)
	v.intStatus |= 1
}

// Guest physical memory helpers. Descriptor addresses are physical; a
// driver handing us addresses outside RAM is a guest bug and panics would
// be wrong, so out-of-range accesses read as zero and drop writes.
func (v *VirtIO) ramRead16(paddr uint64) uint16 {
	val, err := v.ram.Read(paddr-v.ramBase, 2)
	if err != nil {
		return 0
	}
	return uint16(val)
}

func (v *VirtIO) ramRead32(paddr uint64) uint32 {
	val, err := v.ram.Read(paddr-v.ramBase, 4)
	if err != nil {
		return 0
	}
	return uint32(val)
}

func (v *VirtIO) ramRead64(paddr uint64) uint64 {
	val, err := v.ram.Read(paddr-v.ramBase, 8)
	if err != nil {
		return 0
	}
	return val
}

func (v *VirtIO) ramWrite8(paddr uint64, b byte) {
	v.ram.Write(paddr-v.ramBase, 1, uint64(b))
}

func (v *VirtIO) ramWrite16(paddr uint64, val uint16) {
	v.ram.Write(paddr-v.ramBase, 2, uint64(val))
}

func (v *VirtIO) ramWrite32(paddr uint64, val uint32) {
	v.ram.Write(paddr-v.ramBase, 4, uint64(val))
}

var _ Device = (*VirtIO)(nil)

// String describes the device for logs.
func (v *VirtIO) String() string {
	return fmt.Sprintf("virtio-blk: %d sectors", v.Capacity())
}
