// Package tpm implements the TPM 2.0 MMIO (TIS) driver of spec section 4.6:
// locality acquisition, status polling, command-FIFO burst transfer, the
// command encodings the labeled key-value layer needs, and base-address
// autodiscovery.
//
// The staged request/ready/burst/go/dataAvail protocol generalizes the
// teacher codebase's staged register-driven protocols: devices/serial.go's
// byte-oriented UART state machine (here, a FIFO instead of one register)
// and devices/pic.go's staged ICW/OCW command parsing (here, the
// commandReady -> burst-write -> go -> dataAvail stages of a single
// command).
package tpm

import (
	"fmt"
	"time"

	"storagecore/diskerr"
	"storagecore/platform"
	"storagecore/trace"
)

// Locality register offsets, relative to a locality's 4KiB window (spec section 6).
const (
	RegAccess          = 0x00
	RegIntEnable       = 0x08
	RegIntVector       = 0x0C
	RegIntStatus       = 0x10
	RegInterfaceCap    = 0x14
	RegSTS             = 0x18
	RegDataFIFO        = 0x24
	localityWindowSize = 0x1000
)

// ACCESS register bits.
const (
	AccessValid          uint8 = 0x80
	AccessActiveLocality  uint8 = 0x20
	AccessRequestUse      uint8 = 0x02
)

// STS register bits (spec section 6).
const (
	STSValid       uint32 = 0x80
	STSCommandReady uint32 = 0x40
	STSGo           uint32 = 0x20
	STSDataAvail    uint32 = 0x10
	STSDataExpect   uint32 = 0x08

	stsBurstCountShift = 8
	stsBurstCountMask  = 0xFFFF
)

// Device drives a single TPM 2.0 chip over its MMIO locality windows.
type Device struct {
	region   *platform.Region
	base     platform.PhysAddr
	locality uint8
	sink     trace.Sink
}

// Open wraps a Region already mapped to cover at least localityWindowSize
// bytes starting at base (locality 0's window; other localities are
// base+locality*0x1000).
func Open(region *platform.Region, base platform.PhysAddr, sink trace.Sink) *Device {
	return &Device{region: region, base: base, sink: sink}
}

func (d *Device) localityBase(locality uint8) platform.PhysAddr {
	return d.base + platform.PhysAddr(uint32(locality)*localityWindowSize)
}

// SetLocality requests locality n and polls ACCESS.activeLocality, timeout
// approximately 10ms (spec section 4.6). The driver requests locality 0 by
// default and never releases it (spec section 5).
func (d *Device) SetLocality(n uint8) error {
	lb := d.localityBase(n)
	if err := d.region.Write8(lb+RegAccess, AccessRequestUse); err != nil {
		return err
	}

	deadline := time.Now().Add(10 * time.Millisecond)
	for {
		v, err := d.region.Read8(lb + RegAccess)
		if err != nil {
			return err
		}
		if v&AccessActiveLocality != 0 {
			d.locality = n
			return nil
		}
		if time.Now().After(deadline) {
			return diskerr.New(diskerr.TpmLocalityDenied, fmt.Sprintf("locality %d never became active", n))
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func (d *Device) stsAddr() platform.PhysAddr {
	return d.localityBase(d.locality) + RegSTS
}

func (d *Device) dataFIFOAddr() platform.PhysAddr {
	return d.localityBase(d.locality) + RegDataFIFO
}

func (d *Device) burstCount() (uint16, error) {
	v, err := d.region.Read32(d.stsAddr())
	if err != nil {
		return 0, err
	}
	return uint16((v >> stsBurstCountShift) & stsBurstCountMask), nil
}

// Send waits for STS.commandReady (~100ms), drains cmd into DATA_FIFO in
// STS.burstCount-sized chunks (minimum 1), waiting for STS.valid after each
// chunk, then sets STS.go and waits for STS.dataAvail (spec section 4.6).
func (d *Device) Send(cmd []byte) error {
	ok, err := d.region.WaitForSet(d.stsAddr(), STSCommandReady, 100*time.Millisecond)
	if err != nil {
		return err
	}
	if !ok {
		return diskerr.New(diskerr.TimedOut, "STS.commandReady never set")
	}

	written := 0
	for written < len(cmd) {
		burst, err := d.burstCount()
		if err != nil {
			return err
		}
		if burst == 0 {
			burst = 1
		}
		chunk := int(burst)
		if written+chunk > len(cmd) {
			chunk = len(cmd) - written
		}
		for i := 0; i < chunk; i++ {
			if err := d.region.Write8(d.dataFIFOAddr(), cmd[written+i]); err != nil {
				return err
			}
		}
		written += chunk

		ok, err := d.region.WaitForSet(d.stsAddr(), STSValid, 100*time.Millisecond)
		if err != nil {
			return err
		}
		if !ok {
			return diskerr.New(diskerr.TimedOut, "STS.valid never set after FIFO burst")
		}
	}

	if err := writeSTS(d, STSGo); err != nil {
		return err
	}
	ok, err = d.region.WaitForSet(d.stsAddr(), STSDataAvail, 2*time.Second)
	if err != nil {
		return err
	}
	if !ok {
		return diskerr.New(diskerr.TimedOut, "STS.dataAvail never set after GO")
	}
	return nil
}

func writeSTS(d *Device, bits uint32) error {
	return d.region.Write32(d.stsAddr(), bits)
}

// Recv waits for STS.dataAvail, reads burst-sized chunks into buf until
// dataAvail clears or buf fills, then sets STS.commandReady (spec section 4.6).
func (d *Device) Recv(buf []byte) (int, error) {
	ok, err := d.region.WaitForSet(d.stsAddr(), STSDataAvail, 2*time.Second)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, diskerr.New(diskerr.TimedOut, "STS.dataAvail never set before recv")
	}

	read := 0
	for read < len(buf) {
		sts, err := d.region.Read32(d.stsAddr())
		if err != nil {
			return read, err
		}
		if sts&STSDataAvail == 0 {
			break
		}
		burst, err := d.burstCount()
		if err != nil {
			return read, err
		}
		if burst == 0 {
			burst = 1
		}
		chunk := int(burst)
		if read+chunk > len(buf) {
			chunk = len(buf) - read
		}
		for i := 0; i < chunk; i++ {
			v, err := d.region.Read8(d.dataFIFOAddr())
			if err != nil {
				return read, err
			}
			buf[read+i] = v
		}
		read += chunk
	}

	if err := writeSTS(d, STSCommandReady); err != nil {
		return read, err
	}
	trace.Emit(d.sink, "tpm", "recv complete", map[string]any{"bytes": read})
	return read, nil
}

// Execute sends cmd and reads back up to len(resp) bytes of the response.
func (d *Device) Execute(cmd []byte, resp []byte) (int, error) {
	if err := d.Send(cmd); err != nil {
		return 0, err
	}
	return d.Recv(resp)
}
