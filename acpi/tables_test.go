package acpi

import (
	"encoding/binary"
	"os"
	"testing"

	"storagecore/platform"
)

func newACPITestRegion(t *testing.T, size uint64) *platform.Region {
	t.Helper()
	f, err := os.CreateTemp("", "acpi-*.bin")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := f.Name()
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		t.Fatalf("Truncate: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(path) })

	r, err := platform.OpenRegion(0, size, platform.WithDevFile(path))
	if err != nil {
		t.Fatalf("OpenRegion: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func writeSDTHeader(t *testing.T, r *platform.Region, addr platform.PhysAddr, sig string, length uint32) {
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

func TestFindRSDPBaseInBIOSRange(t *testing.T) {
	r := newACPITestRegion(t, 1<<20)

	rsdpAddr := platform.PhysAddr(0xE0010)
	for i := 0; i < 8; i++ {
		if err := r.Write8(rsdpAddr+platform.PhysAddr(i), rsdpSignature[i]); err != nil {
			t.Fatalf("Write8: %v", err)
		}
	}

	got, err := FindRSDPBase(r)
	if err != nil {
		t.Fatalf("FindRSDPBase: %v", err)
	}
	if got != rsdpAddr {
		t.Fatalf("FindRSDPBase = %#x, want %#x", got, rsdpAddr)
	}
}

func TestFindRSDPBaseNotFound(t *testing.T) {
	r := newACPITestRegion(t, 1<<20)
	if _, err := FindRSDPBase(r); err == nil {
		t.Fatalf("FindRSDPBase with no signature present: want error, got nil")
	}
}

func TestRootTableAddrRSDTWhenRevisionZero(t *testing.T) {
	r := newACPITestRegion(t, 1<<20)
	rsdpAddr := platform.PhysAddr(0x1000)
	if err := r.Write8(rsdpAddr+15, 0); err != nil {
		t.Fatalf("Write8 revision: %v", err)
	}
	if err := r.Write32(rsdpAddr+16, 0x2000); err != nil {
		t.Fatalf("Write32 rsdt addr: %v", err)
	}

	addr, entrySize, err := RootTableAddr(r, rsdpAddr)
	if err != nil {
		t.Fatalf("RootTableAddr: %v", err)
	}
	if addr != 0x2000 || entrySize != 4 {
		t.Fatalf("RootTableAddr = %#x/%d, want 0x2000/4", addr, entrySize)
	}
}

func TestRootTableAddrXSDTWhenRevisionTwo(t *testing.T) {
	r := newACPITestRegion(t, 1<<20)
	rsdpAddr := platform.PhysAddr(0x1000)
	if err := r.Write8(rsdpAddr+15, 2); err != nil {
		t.Fatalf("Write8 revision: %v", err)
	}
	if err := r.Write32(rsdpAddr+24, 0x3000); err != nil {
		t.Fatalf("Write32 xsdt low: %v", err)
	}
	if err := r.Write32(rsdpAddr+28, 0); err != nil {
		t.Fatalf("Write32 xsdt high: %v", err)
	}

	addr, entrySize, err := RootTableAddr(r, rsdpAddr)
	if err != nil {
		t.Fatalf("RootTableAddr: %v", err)
	}
	if addr != 0x3000 || entrySize != 8 {
		t.Fatalf("RootTableAddr = %#x/%d, want 0x3000/8", addr, entrySize)
	}
}

func TestFindTableBySignatureAndTPMBaseAddress(t *testing.T) {
	r := newACPITestRegion(t, 1<<20)

	const rootAddr platform.PhysAddr = 0x4000
	const tpm2Addr platform.PhysAddr = 0x5000
	const entrySize = 4

	writeSDTHeader(t, r, rootAddr, "RSDT", sdtHeaderSize+entrySize)
	if err := r.Write32(rootAddr+sdtHeaderSize, uint32(tpm2Addr)); err != nil {
		t.Fatalf("Write32 entry: %v", err)
	}

	writeSDTHeader(t, r, tpm2Addr, "TPM2", sdtHeaderSize+4+8)
	wantBase := uint64(0xFED40000)
	var addrBuf [8]byte
	binary.LittleEndian.PutUint64(addrBuf[:], wantBase)
	for i, b := range addrBuf {
		if err := r.Write8(tpm2Addr+sdtHeaderSize+4+platform.PhysAddr(i), b); err != nil {
			t.Fatalf("Write8 tpm base byte %d: %v", i, err)
		}
	}

	found, err := FindTableBySignature(r, rootAddr, entrySize, "TPM2")
	if err != nil {
		t.Fatalf("FindTableBySignature: %v", err)
	}
	if found != tpm2Addr {
		t.Fatalf("FindTableBySignature = %#x, want %#x", found, tpm2Addr)
	}

	base, err := TPMBaseAddress(r, found)
	if err != nil {
		t.Fatalf("TPMBaseAddress: %v", err)
	}
	if uint64(base) != wantBase {
		t.Fatalf("TPMBaseAddress = %#x, want %#x", base, wantBase)
	}
}
