package ahci

import (
	"storagecore/diskerr"
	"storagecore/pci"
	"storagecore/platform"
)

// Class/subclass/prog-IF identifying an AHCI SATA controller (spec section 4.3).
const (
	classMassStorage  uint8 = 0x01
	subclassSATA      uint8 = 0x06
	progIFAHCI        uint8 = 0x01
	abar5Index              = 5
)

// Discover scans PCI for the first AHCI host-bus adapter and returns its
// ABAR (BAR5 with the low flag nibble masked off).
func Discover(accessor pci.ConfigAccessor) (platform.PhysAddr, error) {
	functions, err := pci.Enumerate(accessor)
	if err != nil {
		return 0, err
	}
	for _, f := range functions {
		if f.Class != classMassStorage || f.Subclass != subclassSATA || f.ProgIF != progIFAHCI {
			continue
		}
		if f.BAR[abar5Index] == 0 {
			return 0, diskerr.New(diskerr.BarInvalid, "BAR5 is zero")
		}
		if !f.IsMemoryBAR(abar5Index) {
			return 0, diskerr.New(diskerr.BarInvalid, "BAR5 is an I/O space BAR")
		}
		return platform.PhysAddr(f.BARAddress(abar5Index)), nil
	}
	return 0, diskerr.New(diskerr.NotFound, "no AHCI (class 0x01 subclass 0x06 progIF 0x01) function found")
}
