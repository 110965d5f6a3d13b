package tpm

import (
	"errors"
	"os"
	"testing"

	"storagecore/diskerr"
	"storagecore/pci"
	"storagecore/platform"
)

type fakePCIAccessor struct {
	functions map[pci.BDF]*pci.Function
}

func (f *fakePCIAccessor) fn(bdf pci.BDF) *pci.Function {
	if fn, ok := f.functions[bdf]; ok {
		return fn
	}
	return nil
}

func (f *fakePCIAccessor) CfgRead8(bdf pci.BDF, offset uint16) (uint8, error) {
	fn := f.fn(bdf)
	if fn == nil {
		return 0, nil
	}
	switch offset {
	case pci.OffClass:
		return fn.Class, nil
	case pci.OffSubclass:
		return fn.Subclass, nil
	case pci.OffProgIF:
		return fn.ProgIF, nil
	case pci.OffHeaderType:
		return fn.HeaderType, nil
	}
	return 0, nil
}

func (f *fakePCIAccessor) CfgRead16(bdf pci.BDF, offset uint16) (uint16, error) {
	fn := f.fn(bdf)
	if fn == nil {
		if offset == pci.OffVendorID {
			return 0xFFFF, nil
		}
		return 0, nil
	}
	if offset == pci.OffVendorID {
		return fn.VendorID, nil
	}
	return 0, nil
}

func (f *fakePCIAccessor) CfgRead32(bdf pci.BDF, offset uint16) (uint32, error) {
	fn := f.fn(bdf)
	if fn == nil {
		return 0, nil
	}
	for i := 0; i < 6; i++ {
		if offset == uint16(pci.OffBAR0+i*4) {
			return fn.BAR[i], nil
		}
	}
	return 0, nil
}

func (f *fakePCIAccessor) CfgWrite8(bdf pci.BDF, offset uint16, v uint8) error   { return nil }
func (f *fakePCIAccessor) CfgWrite16(bdf pci.BDF, offset uint16, v uint16) error { return nil }
func (f *fakePCIAccessor) CfgWrite32(bdf pci.BDF, offset uint16, v uint32) error { return nil }

func emptyLowMem(t *testing.T) *platform.Region {
	t.Helper()
	f, err := os.CreateTemp("", "tpm-lowmem-*.bin")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := f.Name()
	if err := f.Truncate(1 << 20); err != nil {
		f.Close()
		os.Remove(path)
		t.Fatalf("Truncate: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(path) })

	r, err := platform.OpenRegion(0, 1<<20, platform.WithDevFile(path))
	if err != nil {
		t.Fatalf("OpenRegion: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestDiscoverBaseViaPCI(t *testing.T) {
	bdf := pci.BDF{Bus: 0, Dev: 5, Fn: 0}
	accessor := &fakePCIAccessor{functions: map[pci.BDF]*pci.Function{
		bdf: {
			BDF: bdf, VendorID: 0x1022,
			Class: tpmPCIClass, Subclass: tpmPCISubclass,
			BAR: [6]uint32{0xFED40000},
		},
	}}

	base, err := DiscoverBase(accessor, emptyLowMem(t))
	if err != nil {
		t.Fatalf("DiscoverBase: %v", err)
	}
	if base != 0xFED40000 {
		t.Fatalf("base = %#x, want 0xfed40000", base)
	}
}

func TestDiscoverBaseViaACPIWhenPCIEmpty(t *testing.T) {
	accessor := &fakePCIAccessor{functions: map[pci.BDF]*pci.Function{}}
	lowMem := emptyLowMem(t)

	rsdpAddr := platform.PhysAddr(0xE0010)
	for i := 0; i < 8; i++ {
		if err := lowMem.Write8(rsdpAddr+platform.PhysAddr(i), rsdpSignatureForTest()[i]); err != nil {
			t.Fatalf("Write8 rsdp sig: %v", err)
		}
	}
	if err := lowMem.Write8(rsdpAddr+15, 0); err != nil {
		t.Fatalf("Write8 revision: %v", err)
	}
	const rsdtAddr = 0x2000
	if err := lowMem.Write32(rsdpAddr+16, rsdtAddr); err != nil {
		t.Fatalf("Write32 rsdt addr: %v", err)
	}

	writeSDTHeaderForTest(t, lowMem, rsdtAddr, "RSDT", 36+4)
	const tpm2Addr = 0x3000
	if err := lowMem.Write32(rsdtAddr+36, tpm2Addr); err != nil {
		t.Fatalf("Write32 entry: %v", err)
	}
	writeSDTHeaderForTest(t, lowMem, tpm2Addr, "TPM2", 36+4+8)
	if err := lowMem.Write32(tpm2Addr+36+4, 0xFED45000); err != nil {
		t.Fatalf("Write32 tpm base low: %v", err)
	}
	if err := lowMem.Write32(tpm2Addr+36+4+4, 0); err != nil {
		t.Fatalf("Write32 tpm base high: %v", err)
	}

	base, err := DiscoverBase(accessor, lowMem)
	if err != nil {
		t.Fatalf("DiscoverBase: %v", err)
	}
	if base != 0xFED45000 {
		t.Fatalf("base = %#x, want 0xfed45000", base)
	}
}

func TestDiscoverBaseViaCandidateWhenNeitherFound(t *testing.T) {
	accessor := &fakePCIAccessor{functions: map[pci.BDF]*pci.Function{}}
	lowMem := emptyLowMem(t)

	const windowSize = uint64(0xFED4A000) + localityWindowSize
	f, err := os.CreateTemp("", "tpm-candidates-*.bin")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := f.Name()
	if err := f.Truncate(int64(windowSize)); err != nil {
		f.Close()
		os.Remove(path)
		t.Fatalf("Truncate: %v", err)
	}
	f.Close()
	defer os.Remove(path)

	probe, err := platform.OpenRegion(candidateBases[1], localityWindowSize, platform.WithDevFile(path))
	if err != nil {
		t.Fatalf("OpenRegion: %v", err)
	}
	if err := probe.Write8(candidateBases[1]+RegAccess, AccessValid); err != nil {
		t.Fatalf("Write8 access: %v", err)
	}
	probe.Close()

	base, err := DiscoverBase(accessor, lowMem, platform.WithDevFile(path))
	if err != nil {
		t.Fatalf("DiscoverBase: %v", err)
	}
	if base != candidateBases[1] {
		t.Fatalf("base = %#x, want %#x", base, candidateBases[1])
	}
}

func TestDiscoverBaseErrorWhenAllFail(t *testing.T) {
	accessor := &fakePCIAccessor{functions: map[pci.BDF]*pci.Function{}}
	lowMem := emptyLowMem(t)

	const windowSize = uint64(0xFED4A000) + localityWindowSize
	f, err := os.CreateTemp("", "tpm-candidates-*.bin")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := f.Name()
	if err := f.Truncate(int64(windowSize)); err != nil {
		f.Close()
		os.Remove(path)
		t.Fatalf("Truncate: %v", err)
	}
	f.Close()
	defer os.Remove(path)

	_, err = DiscoverBase(accessor, lowMem, platform.WithDevFile(path))
	if !errors.Is(err, diskerr.Sentinel(diskerr.NotFound)) {
		t.Fatalf("DiscoverBase with no PCI/ACPI/candidate match: want NotFound, got %v", err)
	}
}

func rsdpSignatureForTest() string { return "RSD PTR " }

func writeSDTHeaderForTest(t *testing.T, r *platform.Region, addr platform.PhysAddr, sig string, length uint32) {
	t.Helper()
	for i := 0; i < 4; i++ {
		if err := r.Write8(addr+platform.PhysAddr(i), sig[i]); err != nil {
			t.Fatalf("Write8 signature: %v", err)
		}
	}
	if err := r.Write32(addr+4, length); err != nil {
		t.Fatalf("Write32 length: %v", err)
	}
}
