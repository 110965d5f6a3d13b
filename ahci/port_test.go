package ahci

import (
	"errors"
	"os"
	"testing"
	"time"

	"storagecore/diskerr"
	"storagecore/platform"
	"storagecore/trace"
)

func newTestHBA(t *testing.T) *HBA {
	t.Helper()
	const windowSize = portRegionBase + MaxPorts*portRegionStride

	f, err := os.CreateTemp("", "ahci-*.bin")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := f.Name()
	if err := f.Truncate(windowSize); err != nil {
		f.Close()
		os.Remove(path)
		t.Fatalf("Truncate: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(path) })

	hba, err := Open(0, trace.NoOp(), platform.WithDevFile(path))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { hba.Close() })
	return hba
}

func markPortPresent(t *testing.T, p *Port) {
	t.Helper()
	const sstsDET3IPM1 = 0x103
	if err := p.hba.region.Write32(p.mmioBase+PortSSTS, sstsDET3IPM1); err != nil {
		t.Fatalf("Write32 SSTS: %v", err)
	}
}

func TestPreparePortSuccess(t *testing.T) {
	hba := newTestHBA(t)
	port, err := hba.Port(0)
	if err != nil {
		t.Fatalf("Port(0): %v", err)
	}
	markPortPresent(t, port)

	if err := port.PreparePort(100 * time.Millisecond); err != nil {
		t.Fatalf("PreparePort: %v", err)
	}
	if port.lastDET != 3 {
		t.Fatalf("lastDET = %d, want 3", port.lastDET)
	}
}

func TestPreparePortNotPresent(t *testing.T) {
	hba := newTestHBA(t)
	port, err := hba.Port(0)
	if err != nil {
		t.Fatalf("Port(0): %v", err)
	}
	// SSTS left zeroed: DET=0.

	err = port.PreparePort(50 * time.Millisecond)
	if !errors.Is(err, diskerr.Sentinel(diskerr.PortNotPresent)) {
		t.Fatalf("PreparePort with DET=0: want PortNotPresent, got %v", err)
	}
}

func TestFindFreeSlotLowestFirst(t *testing.T) {
	hba := newTestHBA(t)
	port, err := hba.Port(0)
	if err != nil {
		t.Fatalf("Port(0): %v", err)
	}

	slot, ok, err := port.FindFreeSlot()
	if err != nil || !ok || slot != 0 {
		t.Fatalf("FindFreeSlot (all free) = %d, %v, %v; want 0, true, nil", slot, ok, err)
	}

	if err := hba.region.Write32(port.mmioBase+PortCI, 0x1); err != nil {
		t.Fatalf("Write32 CI: %v", err)
	}
	slot, ok, err = port.FindFreeSlot()
	if err != nil || !ok || slot != 1 {
		t.Fatalf("FindFreeSlot (slot 0 busy) = %d, %v, %v; want 1, true, nil", slot, ok, err)
	}
}

func TestFindFreeSlotAllBusy(t *testing.T) {
	hba := newTestHBA(t)
	port, err := hba.Port(0)
	if err != nil {
		t.Fatalf("Port(0): %v", err)
	}
	if err := hba.region.Write32(port.mmioBase+PortCI, 0xFFFFFFFF); err != nil {
		t.Fatalf("Write32 CI: %v", err)
	}
	_, ok, err := port.FindFreeSlot()
	if err != nil {
		t.Fatalf("FindFreeSlot: %v", err)
	}
	if ok {
		t.Fatalf("FindFreeSlot with all slots busy: want ok=false")
	}
}

func TestIssueSetsCIBit(t *testing.T) {
	hba := newTestHBA(t)
	port, err := hba.Port(0)
	if err != nil {
		t.Fatalf("Port(0): %v", err)
	}

	if err := port.Issue(2); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	ci, err := hba.region.Read32(port.mmioBase + PortCI)
	if err != nil {
		t.Fatalf("Read32 CI: %v", err)
	}
	if ci != 1<<2 {
		t.Fatalf("CI = %#x, want %#x", ci, 1<<2)
	}
	if !port.inUse[2] {
		t.Fatalf("inUse[2] = false after Issue, want true")
	}
}

func TestAwaitCompletionSuccess(t *testing.T) {
	hba := newTestHBA(t)
	port, err := hba.Port(0)
	if err != nil {
		t.Fatalf("Port(0): %v", err)
	}
	const slot = 0
	const expected = 512

	hdr := CommandHeader{PRDBC: expected}
	if err := port.writeHeaderRaw(slot, hdr.Encode()); err != nil {
		t.Fatalf("writeHeaderRaw: %v", err)
	}
	// CI starts zero (simulating the device already cleared it).

	if err := port.AwaitCompletion(slot, expected, 50*time.Millisecond); err != nil {
		t.Fatalf("AwaitCompletion: %v", err)
	}
}

func TestAwaitCompletionDeviceError(t *testing.T) {
	hba := newTestHBA(t)
	port, err := hba.Port(0)
	if err != nil {
		t.Fatalf("Port(0): %v", err)
	}
	if err := hba.region.Write32(port.mmioBase+PortTFD, TFDErr); err != nil {
		t.Fatalf("Write32 TFD: %v", err)
	}
	if err := hba.region.Write32(port.mmioBase+PortSERR, 0x40000); err != nil {
		t.Fatalf("Write32 SERR: %v", err)
	}

	err = port.AwaitCompletion(0, 0, 50*time.Millisecond)
	if !errors.Is(err, diskerr.Sentinel(diskerr.DeviceError)) {
		t.Fatalf("AwaitCompletion with TFD.ERR set: want DeviceError, got %v", err)
	}

	serr, rerr := hba.region.Read32(port.mmioBase + PortSERR)
	if rerr != nil {
		t.Fatalf("Read32 SERR: %v", rerr)
	}
	if serr != 0x40000 {
		t.Fatalf("SERR after writeback = %#x, want unchanged 0x40000 (plain-memory writeback)", serr)
	}
}

func TestAwaitCompletionShortTransfer(t *testing.T) {
	hba := newTestHBA(t)
	port, err := hba.Port(0)
	if err != nil {
		t.Fatalf("Port(0): %v", err)
	}
	hdr := CommandHeader{PRDBC: 256}
	if err := port.writeHeaderRaw(0, hdr.Encode()); err != nil {
		t.Fatalf("writeHeaderRaw: %v", err)
	}

	err = port.AwaitCompletion(0, 512, 50*time.Millisecond)
	if !errors.Is(err, diskerr.Sentinel(diskerr.ShortTransfer)) {
		t.Fatalf("AwaitCompletion with PRDBC mismatch: want ShortTransfer, got %v", err)
	}
}

func TestAwaitCompletionTimesOut(t *testing.T) {
	hba := newTestHBA(t)
	port, err := hba.Port(0)
	if err != nil {
		t.Fatalf("Port(0): %v", err)
	}
	if err := hba.region.Write32(port.mmioBase+PortCI, 0x1); err != nil {
		t.Fatalf("Write32 CI: %v", err)
	}

	err = port.AwaitCompletion(0, 0, 20*time.Millisecond)
	if !errors.Is(err, diskerr.Sentinel(diskerr.TimedOut)) {
		t.Fatalf("AwaitCompletion with CI never clearing: want TimedOut, got %v", err)
	}
}
