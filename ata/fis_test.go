package ata

import "testing"

func TestH2DRegisterFISEncode(t *testing.T) {
	fis := H2DRegisterFIS{
		Command: CmdReadDMAExt,
		Device:  deviceLBAMode,
		LBA:     0x0102030405,
		Count:   7,
	}
	buf := fis.Encode()

	if buf[0] != fisTypeRegH2D {
		t.Fatalf("buf[0] = %#x, want FIS type 0x27", buf[0])
	}
	if buf[1]&h2dFlagCommand == 0 {
		t.Fatalf("C bit not set in buf[1]")
	}
	if buf[2] != CmdReadDMAExt {
		t.Fatalf("buf[2] (command) = %#x, want %#x", buf[2], CmdReadDMAExt)
	}
	if buf[7] != deviceLBAMode {
		t.Fatalf("buf[7] (device) = %#x, want %#x", buf[7], deviceLBAMode)
	}

	lbaLow := uint32(buf[4]) | uint32(buf[5])<<8 | uint32(buf[6])<<16
	lbaHigh := uint32(buf[8]) | uint32(buf[9])<<8 | uint32(buf[10])<<16
	gotLBA := uint64(lbaLow) | uint64(lbaHigh)<<24
	if gotLBA != fis.LBA {
		t.Fatalf("decoded LBA = %#x, want %#x", gotLBA, fis.LBA)
	}

	count := uint16(buf[12]) | uint16(buf[13])<<8
	if count != 7 {
		t.Fatalf("decoded count = %d, want 7", count)
	}
}

func TestLBA28Device(t *testing.T) {
	got := lba28Device(0x0F123456)
	want := deviceLBAMode | 0x0F
	if got != want {
		t.Fatalf("lba28Device(0x0f123456) = %#x, want %#x", got, want)
	}

	got2 := lba28Device(0x00ABCDEF)
	want2 := deviceLBAMode
	if got2 != want2 {
		t.Fatalf("lba28Device(0x00abcdef) = %#x, want %#x", got2, want2)
	}
}
