package rv64

// PLIC register layout
const (
	plicPriorityBase  = 0x000000
	plicPendingBase   = 0x001000
	plicEnableBase    = 0x002000
	plicThresholdBase = 0x200000
	plicContextStride = 0x1000
	plicEnableStride  = 0x80
)

// Interrupt source numbers, matching the device tree.
const (
	PLICSourceVirtIO = 1
	PLICSourceUART   = 10
)

const plicMaxSources = 1024

// plicContexts: context 0 targets M-mode, context 1 targets S-mode.
const plicContexts = 2

// PLIC is the platform-level interrupt controller: per-source priorities,
// per-context enables and thresholds, and the claim/complete handshake.
type PLIC struct {
	priority  [plicMaxSources]uint32
	pending   [plicMaxSources / 32]uint32
	enable    [plicContexts][plicMaxSources / 32]uint32
	threshold [plicContexts]uint32
	claimed   [plicContexts]uint32
}

// NewPLIC creates a PLIC with everything masked.
func NewPLIC() *PLIC {
	return &PLIC{}
}

// Size implements Device.
func (p *PLIC) Size() uint64 {
	return 0x400000
}

// Read implements Device.
func (p *PLIC) Read(offset uint64, size int) (uint64, error) {
	switch {
	case offset < plicPendingBase:
		source := offset / 4
		if source < plicMaxSources {
			return uint64(p.priority[source]), nil
		}

	case offset >= plicPendingBase && offset < plicEnableBase:
		word := (offset - plicPendingBase) / 4
		if word < uint64(len(p.pending)) {
			return uint64(p.pending[word]), nil
		}

	case offset >= plicEnableBase && offset < plicThresholdBase:
		rel := offset - plicEnableBase
		context := rel / plicEnableStride
		word := (rel % plicEnableStride) / 4
		if context < plicContexts && word < uint64(len(p.enable[0])) {
			return uint64(p.enable[context][word]), nil
		}

	case offset >= plicThresholdBase:
		rel := offset - plicThresholdBase
		context := rel / plicContextStride
		reg := rel % plicContextStride
		if context < plicContexts {
			switch reg {
			case 0:
				return uint64(p.threshold[context]), nil
			case 4:
				return uint64(p.Claim(int(context))), nil
			}
		}
	}
	return 0, nil
}

// Write implements Device.
func (p *PLIC) Write(offset uint64, size int, value uint64) error {
	switch {
	case offset < plicPendingBase:
		source := offset / 4
		if source > 0 && source < plicMaxSources { // source 0 is reserved
			p.priority[source] = uint32(value) & 7
		}

	case offset >= plicEnableBase && offset < plicThresholdBase:
		rel := offset - plicEnableBase
		context := rel / plicEnableStride
		word := (rel % plicEnableStride) / 4
		if context < plicContexts && word < uint64(len(p.enable[0])) {
			p.enable[context][word] = uint32(value)
		}

	case offset >= plicThresholdBase:
		rel := offset - plicThresholdBase
		context := rel / plicContextStride
		reg := rel % plicContextStride
		if context < plicContexts {
			switch reg {
			case 0:
				p.threshold[context] = uint32(value) & 7
			case 4:
				p.Complete(int(context), uint32(value))
			}
		}
	}
	return nil
}

// SetPending marks an interrupt source pending.
func (p *PLIC) SetPending(source uint32) {
	if source == 0 || source >= plicMaxSources {
		return
	}
	p.pending[source/32] |= 1 << (source % 32)
}

// Claim returns the highest-priority enabled pending source above the
// context's threshold, clearing its pending bit. Zero means nothing to
// claim.
func (p *PLIC) Claim(context int) uint32 {
	if context >= plicContexts {
		return 0
	}

	var best, bestPriority uint32
	for source := uint32(1); source < plicMaxSources; source++ {
		if !p.eligible(context, source) {
			continue
		}
		if p.priority[source] > bestPriority {
			bestPriority = p.priority[source]
			best = source
		}
	}

	if best != 0 {
		p.pending[best/32] &^= 1 << (best % 32)
		p.claimed[context] = best
	}
	return best
}

// Complete acknowledges a previously claimed source.
func (p *PLIC) Complete(context int, source uint32) {
	if context >= plicContexts || source == 0 || source >= plicMaxSources {
		return
	}
	if p.claimed[context] == source {
		p.claimed[context] = 0
	}
}

// eligible reports whether a source is pending, enabled and above the
// context's threshold.
func (p *PLIC) eligible(context int, source uint32) bool {
	word, bit := source/32, source%32
	if p.pending[word]&(1<<bit) == 0 {
		return false
	}
	if p.enable[context][word]&(1<<bit) == 0 {
		return false
	}
	return p.priority[source] > p.threshold[context]
}

// hasPending reports whether any source is deliverable to the context.
func (p *PLIC) hasPending(context int) bool {
	for source := uint32(1); source < plicMaxSources; source++ {
		if p.eligible(context, source) {
			return true
		}
	}
	return false
}

// Tick latches the device interrupt lines into the pending bits and
// returns mip with the external interrupt bits recomputed: context 0
// drives MEIP, context 1 drives SEIP.
func (p *PLIC) Tick(virtioInt, uartInt bool, mip uint64) uint64 {
	if virtioInt {
		p.SetPending(PLICSourceVirtIO)
	}
	if uartInt {
		p.SetPending(PLICSourceUART)
	}

	if p.hasPending(0) {
		mip |= MipMEIP
	} else {
		mip &^= MipMEIP
	}
	if p.hasPending(1) {
		mip |= MipSEIP
	} else {
		mip &^= MipSEIP
	}
	return mip
}

var _ Device = (*PLIC)(nil)
