// Package acpi walks the RSDP -> RSDT/XSDT -> table chain far enough to
// locate the TPM2 (or legacy TCPA) table's base address, for tpm package's
// autodiscovery path. Table layout is grounded on the gopher-os acpi/table
// package's RSDPDescriptor/SDTHeader structs, read here through a
// platform.Region instead of a kernel page-table walk.
package acpi

import (
	"storagecore/diskerr"
	"storagecore/platform"
)

const (
	rsdpSignature = "RSD PTR "
	ebdaPtrAddr   = platform.PhysAddr(0x40E)
	biosScanStart = platform.PhysAddr(0xE0000)
	biosScanEnd   = platform.PhysAddr(0x100000)
	rsdpAlign     = 16
)

// sdtHeaderSize is the common ACPI SDT header: signature[4] length[4]
// revision[1] checksum[1] oemid[6] oemtableid[8] oemrevision[4]
// creatorid[4] creatorrevision[4].
const sdtHeaderSize = 36

// FindRSDPBase scans the EBDA and the BIOS read-only memory range for the
// "RSD PTR " signature, returning its physical address.
func FindRSDPBase(region *platform.Region) (platform.PhysAddr, error) {
	ebdaSeg, err := region.Read16(ebdaPtrAddr)
	if err == nil && ebdaSeg != 0 {
		ebdaBase := platform.PhysAddr(uint32(ebdaSeg) << 4)
		if addr, ok := scanForSignature(region, ebdaBase, ebdaBase+1024); ok {
			return addr, nil
		}
	}
	if addr, ok := scanForSignature(region, biosScanStart, biosScanEnd); ok {
		return addr, nil
	}
	return 0, diskerr.New(diskerr.NotFound, "RSDP signature not found in EBDA or BIOS ROM range")
}

func scanForSignature(region *platform.Region, start, end platform.PhysAddr) (platform.PhysAddr, bool) {
	for addr := start; addr+8 <= end; addr += rsdpAlign {
		var sig [8]byte
		ok := true
		for i := 0; i < 8; i++ {
			b, err := region.Read8(addr + platform.PhysAddr(i))
			if err != nil {
				ok = false
				break
			}
			sig[i] = b
		}
		if ok && string(sig[:]) == rsdpSignature {
			return addr, true
		}
	}
	return 0, false
}

// RootTableAddr reads the RSDP at rsdpAddr and returns the physical address
// of the root table (XSDT if the RSDP is ACPI 2.0+ and carries one,
// otherwise RSDT) along with whether entries are 8-byte (XSDT) or 4-byte
// (RSDT) wide.
func RootTableAddr(region *platform.Region, rsdpAddr platform.PhysAddr) (addr platform.PhysAddr, entrySize int, err error) {
	revision, err := region.Read8(rsdpAddr + 15)
	if err != nil {
		return 0, 0, err
	}
	if revision >= 2 {
		xsdtLow, err := region.Read32(rsdpAddr + 24)
		if err != nil {
			return 0, 0, err
		}
		xsdtHigh, err := region.Read32(rsdpAddr + 28)
		if err != nil {
			return 0, 0, err
		}
		xsdt := uint64(xsdtLow) | uint64(xsdtHigh)<<32
		if xsdt != 0 {
			return platform.PhysAddr(xsdt), 8, nil
		}
	}
	rsdt, err := region.Read32(rsdpAddr + 16)
	if err != nil {
		return 0, 0, err
	}
	return platform.PhysAddr(rsdt), 4, nil
}

// FindTableBySignature walks the root table's entry array looking for a
// table whose 4-byte signature matches sig ("TPM2" or "TCPA"), returning
// that table's own physical address.
func FindTableBySignature(region *platform.Region, rootAddr platform.PhysAddr, entrySize int, sig string) (platform.PhysAddr, error) {
	length, err := region.Read32(rootAddr + 4)
	if err != nil {
		return 0, err
	}
	entriesBytes := int(length) - sdtHeaderSize
	if entriesBytes < 0 {
		return 0, diskerr.New(diskerr.NotFound, "root table length shorter than its own header")
	}
	count := entriesBytes / entrySize

	for i := 0; i < count; i++ {
		entryAddr := rootAddr + sdtHeaderSize + platform.PhysAddr(i*entrySize)
		var tableAddr platform.PhysAddr
		if entrySize == 8 {
			lo, err := region.Read32(entryAddr)
			if err != nil {
				return 0, err
			}
			hi, err := region.Read32(entryAddr + 4)
			if err != nil {
				return 0, err
			}
			tableAddr = platform.PhysAddr(uint64(lo) | uint64(hi)<<32)
		} else {
			v, err := region.Read32(entryAddr)
			if err != nil {
				return 0, err
			}
			tableAddr = platform.PhysAddr(v)
		}

		var sigBytes [4]byte
		for j := 0; j < 4; j++ {
			b, err := region.Read8(tableAddr + platform.PhysAddr(j))
			if err != nil {
				return 0, err
			}
			sigBytes[j] = b
		}
		if string(sigBytes[:]) == sig {
			return tableAddr, nil
		}
	}
	return 0, diskerr.New(diskerr.NotFound, "no ACPI table with signature "+sig)
}

// TPMBaseAddress reads the control-area base address out of a TPM2 table,
// at the fixed offset the TPM2 ACPI table spec places it (after the SDT
// header, a 4-byte flags field, then an 8-byte little-endian address).
func TPMBaseAddress(region *platform.Region, tpm2TableAddr platform.PhysAddr) (platform.PhysAddr, error) {
	const addrOffset = sdtHeaderSize + 4
	lo, err := region.Read32(tpm2TableAddr + addrOffset)
	if err != nil {
		return 0, err
	}
	hi, err := region.Read32(tpm2TableAddr + addrOffset + 4)
	if err != nil {
		return 0, err
	}
	return platform.PhysAddr(uint64(lo) | uint64(hi)<<32), nil
}
