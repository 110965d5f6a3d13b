package ahci

import (
	"storagecore/platform"
)

// clRegion returns the Region overlaying this port's command list buffer.
func (p *Port) clRegion() *platform.Region { return p.pool.Region() }

func (p *Port) headerPA(slot int) platform.PhysAddr {
	return p.clPA + platform.PhysAddr(slot*HeaderSize)
}

// readHeaderRaw reads the 32-byte on-wire command header for slot.
func (p *Port) readHeaderRaw(slot int) ([HeaderSize]byte, error) {
	var buf [HeaderSize]byte
	r := p.clRegion()
	base := p.headerPA(slot)
	for i := 0; i < HeaderSize; i += 4 {
		v, err := r.Read32(base + platform.PhysAddr(i))
		if err != nil {
			return buf, err
		}
		buf[i] = byte(v)
		buf[i+1] = byte(v >> 8)
		buf[i+2] = byte(v >> 16)
		buf[i+3] = byte(v >> 24)
	}
	return buf, nil
}

// writeHeaderRaw writes the 32-byte on-wire command header for slot.
func (p *Port) writeHeaderRaw(slot int, buf [HeaderSize]byte) error {
	r := p.clRegion()
	base := p.headerPA(slot)
	for i := 0; i < HeaderSize; i += 4 {
		v := uint32(buf[i]) | uint32(buf[i+1])<<8 | uint32(buf[i+2])<<16 | uint32(buf[i+3])<<24
		if err := r.Write32(base+platform.PhysAddr(i), v); err != nil {
			return err
		}
	}
	return nil
}

// CommandTablePA returns the physical address of slot's pre-reserved
// command table, for the ata package to address the CFIS and PRDT into.
func (p *Port) CommandTablePA(slot int) platform.PhysAddr { return p.tablePA[slot] }

// CommandTableRegion returns the Region the command table lives in, so
// callers can Read/Write directly at CommandTablePA(slot)+offset.
func (p *Port) CommandTableRegion() *platform.Region { return p.clRegion() }

// PrepareSlot implements the slot-layout contract of spec section 4.4
// steps (1)-(3): zero the command header, set CFL/W/P/PRDTL/CTBA, and
// zero sizeof(CFIS)+PRDTL*16 bytes of the command table. The caller (the
// ata package) is then responsible for steps (4)-(5): writing the H2D FIS
// and PRDT entries into the now-zeroed command table.
func (p *Port) PrepareSlot(slot int, cfl uint8, write bool, prdtl int) error {
	ctPA := p.tablePA[slot]
	tableRegion := p.clRegion()

	zeroLen := CFISOffset() + 64 + prdtl*16
	for off := 0; off < zeroLen; off += 4 {
		if err := tableRegion.Write32(ctPA+platform.PhysAddr(off), 0); err != nil {
			return err
		}
	}

	hdr := CommandHeader{
		CFL:   cfl,
		PRDTL: uint16(prdtl),
		CTBA:  uint64(ctPA),
	}
	hdr.SetWrite(write)
	hdr.SetPrefetchable(true)

	return p.writeHeaderRaw(slot, hdr.Encode())
}

// WritePRDTEntry writes PRDT entry index i (0-based) for slot's command
// table.
func (p *Port) WritePRDTEntry(slot, i int, entry PRDTEntry) error {
	pa := p.tablePA[slot] + platform.PhysAddr(PRDTOffset()+i*16)
	buf := entry.Encode()
	r := p.clRegion()
	for off := 0; off < 16; off += 4 {
		v := uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
		if err := r.Write32(pa+platform.PhysAddr(off), v); err != nil {
			return err
		}
	}
	return nil
}

// WriteCFIS writes the command-FIS bytes at the start of slot's command
// table (offset 0, up to 64 bytes per spec section 3).
func (p *Port) WriteCFIS(slot int, fis []byte) error {
	pa := p.tablePA[slot] + platform.PhysAddr(CFISOffset())
	r := p.clRegion()
	for i := 0; i < len(fis); i += 4 {
		n := len(fis) - i
		if n >= 4 {
			v := uint32(fis[i]) | uint32(fis[i+1])<<8 | uint32(fis[i+2])<<16 | uint32(fis[i+3])<<24
			if err := r.Write32(pa+platform.PhysAddr(i), v); err != nil {
				return err
			}
			continue
		}
		for j := 0; j < n; j++ {
			if err := r.Write8(pa+platform.PhysAddr(i+j), fis[i+j]); err != nil {
				return err
			}
		}
	}
	return nil
}
