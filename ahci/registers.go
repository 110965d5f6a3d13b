// Package ahci implements AHCI host discovery (spec section 4.3) and the
// per-port command-issuing state machine (spec section 4.4): FIS receive,
// command list, PRDT, slot management, completion polling, and error
// recovery.
//
// The register/state-machine shape here generalizes the teacher codebase's
// per-device register files (devices/ne2000.go's CR/ISR bit manipulation
// over a paged register set, devices/pic.go's staged ICW/OCW command
// parsing) from "one emulated NIC" to "one of up to 32 real AHCI ports",
// each guarded by its own mutex exactly as the teacher guards each device.
package ahci

import "storagecore/platform"

// Host register offsets (spec section 6), relative to ABAR.
const (
	RegCAP = 0x00
	RegGHC = 0x04
	RegIS  = 0x08
	RegPI  = 0x0C
	RegVS  = 0x10
)

// CAP bits.
const (
	capNCSShift = 8
	capNCSMask  = 0x1F
	capS64A     = 1 << 31
)

// Per-port register block base and stride.
const (
	portRegionBase   = 0x100
	portRegionStride = 0x80
)

// Per-port register offsets, relative to the port's base.
const (
	PortCLB  = 0x00
	PortCLBU = 0x04
	PortFB   = 0x08
	PortFBU  = 0x0C
	PortIS   = 0x10
	PortIE   = 0x14
	PortCMD  = 0x18
	PortTFD  = 0x20
	PortSIG  = 0x24
	PortSSTS = 0x28
	PortSCTL = 0x2C
	PortSERR = 0x30
	PortSACT = 0x34
	PortCI   = 0x38
)

// PORT_CMD bits.
const (
	CmdST  uint32 = 1 << 0
	CmdFRE uint32 = 1 << 4
	CmdFR  uint32 = 1 << 14
	CmdCR  uint32 = 1 << 15
)

// TFD (task file data) status bits.
const (
	TFDErr uint32 = 1 << 0
	TFDDRQ uint32 = 1 << 3
	TFDBSY uint32 = 1 << 7
	TFDDF  uint32 = 1 << 5
)

// SSTS fields.
const (
	sstsDETMask  = 0xF
	sstsIPMShift = 8
	sstsIPMMask  = 0xF
)

// Signature values (PORT_SIG / device signature cache).
type Signature uint32

const (
	SigATA  Signature = 0x00000101
	SigATAPI Signature = 0xEB140101
	SigSEMB Signature = 0xC33C0101
	SigPM   Signature = 0x96690101
	SigNone Signature = 0xFFFFFFFF
)

// MaxPorts is the number of command-slot/port indices AHCI supports.
const MaxPorts = 32

// MaxSlots is the number of command slots per port.
const MaxSlots = 32

// MaxSectorsPerCommand is the spec section 4.4 cap on a single read/write.
const MaxSectorsPerCommand = 128

func portBase(abar platform.PhysAddr, id int) platform.PhysAddr {
	return abar + portRegionBase + platform.PhysAddr(id*portRegionStride)
}
