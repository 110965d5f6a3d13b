package tpm

import (
	"storagecore/acpi"
	"storagecore/diskerr"
	"storagecore/pci"
	"storagecore/platform"
)

// PCI class/subclass under which a TPM exposed as its own PCI function is
// found (spec section 4.8's first discovery path).
const (
	tpmPCIClass    uint8 = 0x0C
	tpmPCISubclass uint8 = 0x05
	tpmBARIndex          = 0
)

// candidateBases are the well-known TIS base addresses probed as a last
// resort when neither PCI nor ACPI discovery finds the chip (spec section
// 4.8's closing paragraph).
var candidateBases = []platform.PhysAddr{0xFED40000, 0xFED45000, 0xFED4A000}

// discoverViaPCI scans accessor for a PCI function under the TPM
// class/subclass and returns its first memory BAR as the TIS base.
func discoverViaPCI(accessor pci.ConfigAccessor) (platform.PhysAddr, bool) {
	functions, err := pci.Enumerate(accessor)
	if err != nil {
		return 0, false
	}
	for _, f := range functions {
		if f.Class != tpmPCIClass || f.Subclass != tpmPCISubclass {
			continue
		}
		if f.BAR[tpmBARIndex] == 0 || !f.IsMemoryBAR(tpmBARIndex) {
			continue
		}
		return platform.PhysAddr(f.BARAddress(tpmBARIndex)), true
	}
	return 0, false
}

// probeCandidate opens a locality-0 window at base and reports whether
// ACCESS.valid is set there, the liveness signal spec section 4.8 calls for
// before trusting a guessed base address. A region that fails to open (no
// device backing that physical range) is treated as "not this one", not an
// error, so the caller can keep trying the remaining candidates.
func probeCandidate(base platform.PhysAddr, opts ...platform.RegionOption) bool {
	region, err := platform.OpenRegion(base, localityWindowSize, opts...)
	if err != nil {
		return false
	}
	defer region.Close()

	v, err := region.Read8(base + RegAccess)
	if err != nil {
		return false
	}
	return v&AccessValid != 0
}

// discoverViaCandidates probes each well-known base in order and returns the
// first one whose ACCESS register reports valid.
func discoverViaCandidates(opts ...platform.RegionOption) (platform.PhysAddr, bool) {
	for _, base := range candidateBases {
		if probeCandidate(base, opts...) {
			return base, true
		}
	}
	return 0, false
}

// DiscoverBase finds the TPM2 TIS control-area base address, trying each of
// spec section 4.8's three discovery paths in priority order: a PCI
// function under class 0x0C/subclass 0x05 (accessor), the ACPI RSDP->RSDT/
// XSDT->TPM2/TCPA table walk (lowMem, a Region mapping at least the first
// 1MiB of physical memory), and finally the three well-known candidate
// addresses, each confirmed live via an ACCESS.valid probe. opts is forwarded
// to the Regions opened for the ACPI-table-read fallback and the candidate
// probes (tests use it to point at a file standing in for /dev/mem).
func DiscoverBase(accessor pci.ConfigAccessor, lowMem *platform.Region, opts ...platform.RegionOption) (platform.PhysAddr, error) {
	if accessor != nil {
		if base, ok := discoverViaPCI(accessor); ok {
			return base, nil
		}
	}

	if base, ok := discoverViaACPI(lowMem); ok {
		return base, nil
	}

	if base, ok := discoverViaCandidates(opts...); ok {
		return base, nil
	}

	return 0, diskerr.New(diskerr.NotFound, "tpm base address not found via pci, acpi, or candidate probe")
}

func discoverViaACPI(lowMem *platform.Region) (platform.PhysAddr, bool) {
	rsdp, err := acpi.FindRSDPBase(lowMem)
	if err != nil {
		return 0, false
	}
	root, entrySize, err := acpi.RootTableAddr(lowMem, rsdp)
	if err != nil {
		return 0, false
	}

	tableAddr, err := acpi.FindTableBySignature(lowMem, root, entrySize, "TPM2")
	if err != nil {
		tableAddr, err = acpi.FindTableBySignature(lowMem, root, entrySize, "TCPA")
		if err != nil {
			return 0, false
		}
	}

	base, err := acpi.TPMBaseAddress(lowMem, tableAddr)
	if err != nil {
		return 0, false
	}
	return base, true
}
