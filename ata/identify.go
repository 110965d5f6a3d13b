package ata

import (
	"strings"
	"time"

	"storagecore/ahci"
	"storagecore/diskerr"
	"storagecore/platform"
)

// identifyBufferSize is the fixed 512-byte / 256-word IDENTIFY DEVICE
// response size (spec section 3).
const identifyBufferSize = 512

// IdentifyInfo is the parsed subset of the 256-word IDENTIFY DEVICE block
// spec section 3/4.5 names. Struct layout and the ModelNumber/SerialNumber
// byte-swap are grounded on dswarbrick/smart's ata.IdentifyDeviceData (see
// other_examples/..._identify.go.go), adapted to the word ranges this spec
// cares about rather than that package's SMART-oriented subset.
type IdentifyInfo struct {
	Model          string
	Serial         string
	LBASupported   bool
	LBA28MaxLBA    uint32
	LBA48Supported bool
	LBA48MaxLBA    uint64
	SATAGen        uint8
	FeatureBits    [6]uint16 // words 82,83,84,85,86,87 in order
}

// word49Bit9LBA is word 49 bit 9: LBA supported.
const word49Bit9LBA = 1 << 9

// word83Bit10LBA48 is word 83 bit 10: LBA48 supported.
const word83Bit10LBA48 = 1 << 10

func swapASCII(raw []byte) string {
	out := make([]byte, len(raw))
	for i := 0; i+1 < len(raw); i += 2 {
		out[i], out[i+1] = raw[i+1], raw[i]
	}
	return strings.TrimRight(string(out), " \x00")
}

func word(buf []byte, idx int) uint16 {
	return uint16(buf[idx*2]) | uint16(buf[idx*2+1])<<8
}

// parseIdentify decodes the 512-byte / 256-word IDENTIFY DEVICE block.
func parseIdentify(buf []byte) IdentifyInfo {
	var info IdentifyInfo

	w49 := word(buf, 49)
	info.LBASupported = w49&word49Bit9LBA != 0

	w60 := word(buf, 60)
	w61 := word(buf, 61)
	info.LBA28MaxLBA = uint32(w60) | uint32(w61)<<16

	w76 := word(buf, 76)
	info.SATAGen = uint8((w76 >> 1) & 0x7)

	for i := 0; i < 6; i++ {
		info.FeatureBits[i] = word(buf, 82+i)
	}
	w83 := info.FeatureBits[1]

	info.LBA48Supported = w83&word83Bit10LBA48 != 0
	if info.LBA48Supported {
		w100 := word(buf, 100)
		w101 := word(buf, 101)
		w102 := word(buf, 102)
		w103 := word(buf, 103)
		info.LBA48MaxLBA = uint64(w100) | uint64(w101)<<16 | uint64(w102)<<32 | uint64(w103)<<48
	}

	// Words 27..46: model number, byte-swapped ASCII.
	info.Model = swapASCII(buf[27*2 : 47*2])
	// Words 10..19: serial number, byte-swapped ASCII.
	info.Serial = swapASCII(buf[10*2 : 20*2])

	return info
}

// Identify issues IDENTIFY DEVICE (spec section 4.5): command=0xEC,
// device=0x40 (LBA mode), count=0, one PRDT entry for a 512-byte buffer
// (checked against the IDENTIFY role's 2-byte alignment) with DBC=511,
// waiting up to timeout for completion. W=1 (device writes the block to host memory) per
// the spec's resolution of the source's W=0/W=1 inconsistency (see
// SPEC_FULL.md Open Questions).
func Identify(port *ahci.Port, timeout time.Duration) (IdentifyInfo, error) {
	buf := make([]byte, identifyBufferSize)

	slot, ok, err := port.FindFreeSlot()
	if err != nil {
		return IdentifyInfo{}, err
	}
	if !ok {
		return IdentifyInfo{}, diskerr.New(diskerr.NoFreeSlot, "no free command slot")
	}

	if err := port.PrepareSlot(slot, 5, true, 1); err != nil {
		return IdentifyInfo{}, err
	}

	fis := H2DRegisterFIS{
		Command: CmdIdentifyDevice,
		Device:  deviceLBAMode,
		Count:   0,
	}
	encoded := fis.Encode()
	if err := port.WriteCFIS(slot, encoded[:]); err != nil {
		return IdentifyInfo{}, err
	}

	pa := platform.VirtToPhys(bufAddr(buf))
	if _, err := platform.AllocFixed(platform.RoleIdentifyResult, pa, identifyBufferSize, nil); err != nil {
		return IdentifyInfo{}, diskerr.New(diskerr.InvalidBuffer, err.Error())
	}
	entry := ahci.NewPRDTEntry(pa, identifyBufferSize, false)
	if err := port.WritePRDTEntry(slot, 0, entry); err != nil {
		return IdentifyInfo{}, err
	}

	if err := port.Issue(slot); err != nil {
		return IdentifyInfo{}, err
	}
	if err := port.AwaitCompletion(slot, identifyBufferSize, timeout); err != nil {
		return IdentifyInfo{}, err
	}

	info := parseIdentify(buf)
	port.SetLBA48Capable(info.LBA48Supported)
	return info, nil
}
