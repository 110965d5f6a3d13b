package pci

import "storagecore/platform"

// ECAMAccessor implements ConfigAccessor against a memory-mapped ECAM
// window, the realization of spec section 6's
// "0xE0000000 | bus<<20 | dev<<15 | fn<<12 | off" alternative to the
// 0xCF8/0xCFC port pair.
type ECAMAccessor struct {
	region *platform.Region
}

// NewECAMAccessor wraps a Region already mapped at the ECAM base.
func NewECAMAccessor(region *platform.Region) *ECAMAccessor {
	return &ECAMAccessor{region: region}
}

// DefaultECAMBase is the conventional base used when the platform hasn't
// told us otherwise (spec section 6).
const DefaultECAMBase platform.PhysAddr = 0xE0000000

func (e *ECAMAccessor) addr(bdf BDF, offset uint16) platform.PhysAddr {
	return e.region.Base() +
		platform.PhysAddr(uint64(bdf.Bus)<<20|uint64(bdf.Dev)<<15|uint64(bdf.Fn)<<12|uint64(offset))
}

func (e *ECAMAccessor) CfgRead8(bdf BDF, offset uint16) (uint8, error) {
	return e.region.Read8(e.addr(bdf, offset))
}

func (e *ECAMAccessor) CfgRead16(bdf BDF, offset uint16) (uint16, error) {
	return e.region.Read16(e.addr(bdf, offset))
}

func (e *ECAMAccessor) CfgRead32(bdf BDF, offset uint16) (uint32, error) {
	return e.region.Read32(e.addr(bdf, offset))
}

func (e *ECAMAccessor) CfgWrite8(bdf BDF, offset uint16, v uint8) error {
	return e.region.Write8(e.addr(bdf, offset), v)
}

func (e *ECAMAccessor) CfgWrite16(bdf BDF, offset uint16, v uint16) error {
	return e.region.Write16(e.addr(bdf, offset), v)
}

func (e *ECAMAccessor) CfgWrite32(bdf BDF, offset uint16, v uint32) error {
	return e.region.Write32(e.addr(bdf, offset), v)
}

var _ ConfigAccessor = (*ECAMAccessor)(nil)
