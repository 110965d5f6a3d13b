package ata

import (
	"time"

	"storagecore/ahci"
	"storagecore/diskerr"
	"storagecore/platform"
)

const sectorSize = 512

// lba28Limit is 2^28, the boundary past which LBA48 becomes mandatory
// (spec section 4.4/4.5).
const lba28Limit = 1 << 28

type direction int

const (
	dirRead direction = iota
	dirWrite
)

// selectOpcode implements spec section 4.5's opcode table: LBA48 is
// mandatory once lba+count exceeds 2^28, and preferred even for small LBAs
// whenever the device supports it (one uniform code path), otherwise LBA28
// opcodes are used.
func selectOpcode(dir direction, lba uint64, count uint16, lba48Capable bool) (opcode uint8, useLBA48 bool, err error) {
	overflowsLBA28 := lba+uint64(count) > lba28Limit
	if overflowsLBA28 && !lba48Capable {
		return 0, false, diskerr.New(diskerr.Lba48Unsupported, "lba+count exceeds 2^28 and device lacks LBA48")
	}
	useLBA48 = lba48Capable // preferred whenever available, even for small LBAs
	if dir == dirRead {
		if useLBA48 {
			return CmdReadDMAExt, true, nil
		}
		return CmdReadDMA, false, nil
	}
	if useLBA48 {
		return CmdWriteDMAExt, true, nil
	}
	return CmdWriteDMA, false, nil
}

func validateRW(count uint16, buf []byte) error {
	if count > ahci.MaxSectorsPerCommand {
		return diskerr.New(diskerr.TooLarge, "count exceeds MaxSectorsPerCommand")
	}
	if buf == nil {
		return diskerr.New(diskerr.InvalidBuffer, "nil buffer")
	}
	if len(buf) < int(count)*sectorSize {
		return diskerr.New(diskerr.InvalidBuffer, "buffer shorter than count*512 bytes")
	}
	return nil
}

func rw(port *ahci.Port, dir direction, lba uint64, count uint16, buf []byte, timeout time.Duration) error {
	if count == 0 {
		return nil // spec section 4.4: count==0 returns immediately without issuing.
	}
	if err := validateRW(count, buf); err != nil {
		return err
	}

	opcode, useLBA48, err := selectOpcode(dir, lba, count, port.LBA48Capable())
	if err != nil {
		return err
	}

	slot, ok, err := port.FindFreeSlot()
	if err != nil {
		return err
	}
	if !ok {
		return diskerr.New(diskerr.NoFreeSlot, "no free command slot")
	}

	write := dir == dirRead // AHCI W bit: 1 = device writes host memory, i.e. this is a read
	if err := port.PrepareSlot(slot, 5, write, 1); err != nil {
		return err
	}

	fis := H2DRegisterFIS{Command: opcode, Count: count}
	if useLBA48 {
		fis.LBA = lba & 0xFFFFFFFFFFFF
		fis.Device = deviceLBAMode
	} else {
		fis.LBA = lba & 0x0FFFFFFF
		fis.Device = lba28Device(uint32(lba))
	}
	encoded := fis.Encode()
	if err := port.WriteCFIS(slot, encoded[:]); err != nil {
		return err
	}

	expectedBytes := uint32(count) * sectorSize
	pa := platform.VirtToPhys(bufAddr(buf[:expectedBytes]))
	if _, err := platform.AllocFixed(platform.RolePRDTData, pa, uint64(expectedBytes), nil); err != nil {
		return diskerr.New(diskerr.InvalidBuffer, err.Error())
	}
	entry := ahci.NewPRDTEntry(pa, expectedBytes, false)
	if err := port.WritePRDTEntry(slot, 0, entry); err != nil {
		return err
	}

	if err := port.Issue(slot); err != nil {
		return err
	}
	return port.AwaitCompletion(slot, expectedBytes, timeout)
}

// Read implements spec section 4.5's read operation. timeout bounds
// await_completion (spec section 4.4's declared up-to-10s data R/W bound,
// overridable via config.Config.DataTimeout).
func Read(port *ahci.Port, lba uint64, count uint16, buf []byte, timeout time.Duration) error {
	return rw(port, dirRead, lba, count, buf, timeout)
}

// Write implements spec section 4.5's write operation. It does not issue
// FLUSH CACHE; see FlushCache for the explicit, caller-driven operation
// the spec requires instead of an implicit flush-on-write.
func Write(port *ahci.Port, lba uint64, count uint16, buf []byte, timeout time.Duration) error {
	return rw(port, dirWrite, lba, count, buf, timeout)
}

// FlushCache issues FLUSH CACHE (or FLUSH CACHE EXT when the device is
// LBA48-capable), an explicit operation callers invoke themselves after a
// Write they need durably persisted (spec section 4.5's closing note).
func FlushCache(port *ahci.Port, timeout time.Duration) error {
	opcode := CmdFlushCache
	if port.LBA48Capable() {
		opcode = CmdFlushCacheExt
	}

	slot, ok, err := port.FindFreeSlot()
	if err != nil {
		return err
	}
	if !ok {
		return diskerr.New(diskerr.NoFreeSlot, "no free command slot")
	}
	if err := port.PrepareSlot(slot, 5, false, 0); err != nil {
		return err
	}
	fis := H2DRegisterFIS{Command: opcode}
	encoded := fis.Encode()
	if err := port.WriteCFIS(slot, encoded[:]); err != nil {
		return err
	}
	if err := port.Issue(slot); err != nil {
		return err
	}
	return port.AwaitCompletion(slot, 0, timeout)
}
