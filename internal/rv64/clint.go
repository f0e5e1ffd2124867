package rv64

// CLINT register offsets
const (
	clintMsip     = 0x0000
	clintMtimecmp = 0x4000
	clintMtime    = 0xbff8
)

// CLINT is the core-local interruptor: the machine timer and the software
// interrupt doorbell. mtime advances once per machine tick.
type CLINT struct {
	msip     uint32
	mtimecmp uint64
	mtime    uint64
}

// NewCLINT creates a CLINT with the timer compare parked at the maximum,
// so no timer interrupt fires until the guest arms one.
func NewCLINT() *CLINT {
	return &CLINT{mtimecmp: ^uint64(0)}
}

// Size implements Device.
func (c *CLINT) Size() uint64 {
	return 0x10000
}

// MTime returns the current timer value.
func (c *CLINT) MTime() uint64 {
	return c.mtime
}

// Read implements Device.
func (c *CLINT) Read(offset uint64, size int) (uint64, error) {
	switch {
	case offset >= clintMsip && offset < clintMsip+4:
		return uint64(c.msip), nil
	case offset >= clintMtimecmp && offset < clintMtimecmp+8:
		if size == 4 && offset == clintMtimecmp+4 {
			return c.mtimecmp >> 32, nil
		}
		return c.mtimecmp, nil
	case offset >= clintMtime && offset < clintMtime+8:
		if size == 4 && offset == clintMtime+4 {
			return c.mtime >> 32, nil
		}
		return c.mtime, nil
	}
	return 0, nil
}

// Write implements Device.
func (c *CLINT) Write(offset uint64, size int, value uint64) error {
	switch {
	case offset >= clintMsip && offset < clintMsip+4:
		c.msip = uint32(value) & 1

	case offset >= clintMtimecmp && offset < clintMtimecmp+8:
		if size == 4 {
			if offset == clintMtimecmp {
				c.mtimecmp = c.mtimecmp&^0xffffffff | value&0xffffffff
			} else {
				c.mtimecmp = c.mtimecmp&0xffffffff | value<<32
			}
		} else {
			c.mtimecmp = value
		}

	case offset >= clintMtime && offset < clintMtime+8:
		c.mtime = value
	}
	return nil
}

// Tick advances mtime and folds the timer and software interrupt bits
// into mip.
func (c *CLINT) Tick(mip uint64) uint64 {
	c.mtime++

	if c.mtime >= c.mtimecmp {
		mip |= MipMTIP
	} else {
		mip &^= MipMTIP
	}

	if c.msip&1 != 0 {
		mip |= MipMSIP
	} else {
		mip &^= MipMSIP
	}

	return mip
}

var _ Device = (*CLINT)(nil)
