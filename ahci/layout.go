package ahci

import (
	"encoding/binary"

	"storagecore/platform"
)

// CommandHeader is the 32-byte command list entry (spec section 3).
// Bit-fields from the source layout are re-expressed as named masks rather
// than Go struct bit-fields, since packed bit-field ordering is a portability
// hazard the Design Notes call out explicitly.
type CommandHeader struct {
	CFL   uint8 // bits 0..4: DWords of command FIS (2..16)
	Flags uint8 // bit0 A (ATAPI), bit6 W (1=device->host), bit7 P (prefetchable)
	PRDTL uint16
	PRDBC uint32 // volatile, written by the HBA
	CTBA  uint64 // physical address of the command table, 128-byte aligned
	_     [4]uint32
}

const (
	hdrFlagATAPI        uint8 = 1 << 0
	hdrFlagWrite        uint8 = 1 << 6
	hdrFlagPrefetchable uint8 = 1 << 7
)

// SetWrite sets or clears the W bit (1 = device writes to host memory, i.e.
// this is a read-from-device command).
func (h *CommandHeader) SetWrite(w bool) {
	if w {
		h.Flags |= hdrFlagWrite
	} else {
		h.Flags &^= hdrFlagWrite
	}
}

// SetPrefetchable sets or clears the P bit.
func (h *CommandHeader) SetPrefetchable(p bool) {
	if p {
		h.Flags |= hdrFlagPrefetchable
	} else {
		h.Flags &^= hdrFlagPrefetchable
	}
}

// HeaderSize is the on-the-wire size of a CommandHeader.
const HeaderSize = 32

// Encode serializes the header into its 32-byte on-wire form.
func (h *CommandHeader) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = h.CFL & 0x1F
	buf[1] = h.Flags
	binary.LittleEndian.PutUint16(buf[2:4], h.PRDTL)
	binary.LittleEndian.PutUint32(buf[4:8], h.PRDBC)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.CTBA))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.CTBA>>32))
	return buf
}

// DecodePRDBC extracts only the PRDBC field from an encoded header, since
// that's the one field the HBA updates after the caller wrote the rest.
func DecodePRDBC(buf [HeaderSize]byte) uint32 {
	return binary.LittleEndian.Uint32(buf[4:8])
}

// Command table section offsets (spec section 3).
const (
	ctCFISOffset   = 0
	ctCFISSize     = 64
	ctATAPIOffset  = 64
	ctATAPISize    = 16
	ctReservedSize = 48
	ctPRDTOffset   = ctCFISOffset + ctCFISSize + ctATAPISize + ctReservedSize // 128
)

// PRDTEntry is a 16-byte Physical Region Descriptor Table entry.
type PRDTEntry struct {
	DBA PhysDataAddr // physical address of the data chunk, 2-byte aligned
	DBC uint32       // byte count minus one (up to 4MiB-1); bit31 = I (interrupt on completion)
}

// PhysDataAddr is a PRDT data pointer.
type PhysDataAddr = platform.PhysAddr

const prdtInterruptBit uint32 = 1 << 31

// NewPRDTEntry builds a PRDT entry for a chunk of byteLen bytes at pa, with
// the interrupt-on-completion bit set as requested.
func NewPRDTEntry(pa PhysDataAddr, byteLen uint32, interrupt bool) PRDTEntry {
	dbc := (byteLen - 1) & 0x3FFFFF
	if interrupt {
		dbc |= prdtInterruptBit
	}
	return PRDTEntry{DBA: pa, DBC: dbc}
}

// Encode serializes a PRDT entry into its 16-byte on-wire form.
func (p PRDTEntry) Encode() [16]byte {
	var buf [16]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.DBA))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.DBA>>32))
	binary.LittleEndian.PutUint32(buf[12:16], p.DBC)
	return buf
}

// PRDTOffset returns the byte offset of the PRDT region within a command
// table (128 bytes in, per spec section 3's layout).
func PRDTOffset() int { return ctPRDTOffset }

// CFISOffset returns the byte offset of the command-FIS area within a
// command table (0, per spec section 3's layout).
func CFISOffset() int { return ctCFISOffset }
