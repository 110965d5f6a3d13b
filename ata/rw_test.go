package ata

import (
	"errors"
	"testing"
	"time"

	"storagecore/ahci"
	"storagecore/diskerr"
)

func TestSelectOpcodeSmallLBAPrefersLBA48WhenCapable(t *testing.T) {
	op, use48, err := selectOpcode(dirRead, 100, 1, true)
	if err != nil {
		t.Fatalf("selectOpcode: %v", err)
	}
	if !use48 || op != CmdReadDMAExt {
		t.Fatalf("op=%#x use48=%v, want CmdReadDMAExt/true", op, use48)
	}
}

func TestSelectOpcodeSmallLBAFallsBackToLBA28(t *testing.T) {
	op, use48, err := selectOpcode(dirWrite, 100, 1, false)
	if err != nil {
		t.Fatalf("selectOpcode: %v", err)
	}
	if use48 || op != CmdWriteDMA {
		t.Fatalf("op=%#x use48=%v, want CmdWriteDMA/false", op, use48)
	}
}

func TestSelectOpcodeMandatoryLBA48PastLimit(t *testing.T) {
	_, _, err := selectOpcode(dirRead, lba28Limit, 1, false)
	if !errors.Is(err, diskerr.Sentinel(diskerr.Lba48Unsupported)) {
		t.Fatalf("selectOpcode past 2^28 without LBA48 support: want Lba48Unsupported, got %v", err)
	}

	op, use48, err := selectOpcode(dirRead, lba28Limit, 1, true)
	if err != nil {
		t.Fatalf("selectOpcode: %v", err)
	}
	if !use48 || op != CmdReadDMAExt {
		t.Fatalf("op=%#x use48=%v, want CmdReadDMAExt/true", op, use48)
	}
}

func TestValidateRW(t *testing.T) {
	if err := validateRW(ahci.MaxSectorsPerCommand+1, make([]byte, 512)); !errors.Is(err, diskerr.Sentinel(diskerr.TooLarge)) {
		t.Fatalf("count over limit: want TooLarge, got %v", err)
	}
	if err := validateRW(1, nil); !errors.Is(err, diskerr.Sentinel(diskerr.InvalidBuffer)) {
		t.Fatalf("nil buffer: want InvalidBuffer, got %v", err)
	}
	if err := validateRW(2, make([]byte, 512)); !errors.Is(err, diskerr.Sentinel(diskerr.InvalidBuffer)) {
		t.Fatalf("short buffer: want InvalidBuffer, got %v", err)
	}
	if err := validateRW(1, make([]byte, 512)); err != nil {
		t.Fatalf("valid args: want nil, got %v", err)
	}
}

func TestRWCountZeroIsNoOp(t *testing.T) {
	if err := Read(nil, 0, 0, nil, time.Second); err != nil {
		t.Fatalf("Read with count=0: want nil (no-op), got %v", err)
	}
	if err := Write(nil, 0, 0, nil, time.Second); err != nil {
		t.Fatalf("Write with count=0: want nil (no-op), got %v", err)
	}
}
