package rv64

import "testing"

func TestClintTimerInterrupt(t *testing.T) {
	c := NewCLINT()

	// Parked compare value: no interrupt.
	mip := c.Tick(0)
	if mip&MipMTIP != 0 {
		t.Fatal("MTIP raised with mtimecmp at max")
	}

	c.Write(clintMtimecmp, 8, 5)
	for i := 0; i < 3; i++ {
		mip = c.Tick(mip)
	}
	if mip&MipMTIP != 0 {
		t.Error("MTIP raised before mtime reached mtimecmp")
	}
	for i := 0; i < 2; i++ {
		mip = c.Tick(mip)
	}
	if mip&MipMTIP == 0 {
		t.Errorf("MTIP not raised at mtime=%d mtimecmp=5", c.MTime())
	}

	// Re-arming the compare clears the interrupt on the next tick.
	c.Write(clintMtimecmp, 8, ^uint64(0))
	mip = c.Tick(mip)
	if mip&MipMTIP != 0 {
		t.Error("MTIP still raised after re-arming mtimecmp")
	}
}

func TestClintSoftwareInterrupt(t *testing.T) {
	c := NewCLINT()

	c.Write(clintMsip, 4, 1)
	mip := c.Tick(0)
	if mip&MipMSIP == 0 {
		t.Error("MSIP not raised by msip write")
	}

	c.Write(clintMsip, 4, 0)
	mip = c.Tick(mip)
	if mip&MipMSIP != 0 {
		t.Error("MSIP not cleared")
	}
}

func TestClintMtimeAdvancesPerTick(t *testing.T) {
	c := NewCLINT()
	for i := 0; i < 10; i++ {
		c.Tick(0)
	}
	if c.MTime() != 10 {
		t.Errorf("mtime: got %d, want 10", c.MTime())
	}

	v, _ := c.Read(clintMtime, 8)
	if v != 10 {
		t.Errorf("mtime register: got %d, want 10", v)
	}
}

func TestClintMtimecmpHalfwordWrites(t *testing.T) {
	c := NewCLINT()
	c.Write(clintMtimecmp, 4, 0xdeadbeef)
	c.Write(clintMtimecmp+4, 4, 0x12345678)
	if c.mtimecmp != 0x12345678deadbeef {
		t.Errorf("mtimecmp: got %#x", c.mtimecmp)
	}
}
