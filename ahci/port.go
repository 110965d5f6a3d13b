package ahci

import (
	"fmt"
	"sync"
	"time"

	"storagecore/diskerr"
	"storagecore/platform"
	"storagecore/trace"
)

// maxPRDTEntriesPerCommand bounds the pre-reserved command table size. A
// single-sector-range read/write (up to MaxSectorsPerCommand*512 bytes =
// 64KiB) never needs more than one PRDT entry in practice, but IDENTIFY and
// small scattered transfers are given headroom.
const maxPRDTEntriesPerCommand = 8

const (
	clSize  = 1024
	fisSize = 256
)

// Port is one of the HBA's 0..31 AHCI ports: its own command list and FIS
// receive area, and exclusive ownership (while a command is in flight) of
// whichever slot issued it.
type Port struct {
	hba      *HBA
	id       int
	mmioBase platform.PhysAddr

	mu   sync.Mutex
	pool *platform.AnonymousDMAPool

	clPA  platform.PhysAddr
	fisPA platform.PhysAddr

	tablePA   [MaxSlots]platform.PhysAddr
	tableSize [MaxSlots]uint64

	inUse [MaxSlots]bool

	signature Signature
	lba48     bool
	lastDET   uint8
	lastIPM   uint8

	sink trace.Sink
}

func portRangeError(id int) error {
	return diskerr.New(diskerr.InvalidBuffer, fmt.Sprintf("port id %d out of range [0,%d)", id, MaxPorts))
}

func newPort(hba *HBA, id int) (*Port, error) {
	slots := hba.numSlots
	if slots <= 0 || slots > MaxSlots {
		slots = MaxSlots
	}
	tableStride := platform.CommandTableSize(maxPRDTEntriesPerCommand)
	// Headroom: 1024 (CL) + 256 (FIS) rounded to 1024, plus slots*tableStride
	// each rounded up to 128-byte alignment, plus a page of slack.
	poolSize := uint64(2048) + uint64(slots)*((tableStride+127)&^127) + 4096

	pool, err := platform.NewAnonymousDMAPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Port{
		hba:      hba,
		id:       id,
		mmioBase: portBase(hba.abar, id),
		pool:     pool,
		sink:     hba.sink,
	}

	clReservedPA, err := pool.Reserve(clSize, clSize)
	if err != nil {
		pool.Close()
		return nil, err
	}
	clBuf, err := platform.AllocFixed(platform.RoleCommandList, clReservedPA, clSize, pool.Region())
	if err != nil {
		pool.Close()
		return nil, err
	}
	p.clPA = clBuf.PA

	fisReservedPA, err := pool.Reserve(fisSize, fisSize)
	if err != nil {
		pool.Close()
		return nil, err
	}
	fisBuf, err := platform.AllocFixed(platform.RoleFISReceive, fisReservedPA, fisSize, pool.Region())
	if err != nil {
		pool.Close()
		return nil, err
	}
	p.fisPA = fisBuf.PA

	for s := 0; s < slots; s++ {
		reservedPA, err := pool.Reserve(tableStride, 128)
		if err != nil {
			pool.Close()
			return nil, err
		}
		tableBuf, err := platform.AllocFixed(platform.RoleCommandTable, reservedPA, tableStride, pool.Region())
		if err != nil {
			pool.Close()
			return nil, err
		}
		p.tablePA[s] = tableBuf.PA
		p.tableSize[s] = tableStride
	}

	if err := p.programBuffers(); err != nil {
		pool.Close()
		return nil, err
	}

	sig, err := hba.region.Read32(p.mmioBase + PortSIG)
	if err == nil {
		p.signature = Signature(sig)
	}

	return p, nil
}

// programBuffers writes PORT_CLB/CLBU and PORT_FB/FBU. Idempotent; safe to
// call again if the same buffers are reprogrammed.
func (p *Port) programBuffers() error {
	r := p.hba.region
	if err := r.Write32(p.mmioBase+PortCLB, uint32(p.clPA)); err != nil {
		return err
	}
	if err := r.Write32(p.mmioBase+PortCLBU, uint32(p.clPA>>32)); err != nil {
		return err
	}
	if err := r.Write32(p.mmioBase+PortFB, uint32(p.fisPA)); err != nil {
		return err
	}
	if err := r.Write32(p.mmioBase+PortFBU, uint32(p.fisPA>>32)); err != nil {
		return err
	}
	return nil
}

// ID returns the port's 0..31 index.
func (p *Port) ID() int { return p.id }

// Signature returns the cached device signature from the last PreparePort.
func (p *Port) Signature() Signature { return p.signature }

// LBA48Capable reports whether IDENTIFY established LBA48 support. Set by
// the ata package after a successful Identify.
func (p *Port) LBA48Capable() bool { return p.lba48 }

// SetLBA48Capable is called by the ata package once IDENTIFY has parsed the
// device's feature bits.
func (p *Port) SetLBA48Capable(v bool) { p.lba48 = v }

// PreparePort implements spec section 4.4: set FRE then ST, verify
// SSTS.DET==3, warn-but-not-fail on IPM!=1, clear PORT_IS, and clear
// latched PORT_SERR bits.
func (p *Port) PreparePort(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.hba.region

	ssts, err := r.Read32(p.mmioBase + PortSSTS)
	if err != nil {
		return err
	}
	det := uint8(ssts & sstsDETMask)
	ipm := uint8((ssts >> sstsIPMShift) & sstsIPMMask)
	p.lastDET, p.lastIPM = det, ipm

	if det != 3 {
		return diskerr.New(diskerr.PortNotPresent, fmt.Sprintf("SSTS.DET=%d", det))
	}
	if ipm != 1 {
		trace.Emit(p.sink, "ahci", "port inactive (IPM != 1), proceeding", map[string]any{"port": p.id, "ipm": ipm})
	}

	cmd, err := r.Read32(p.mmioBase + PortCMD)
	if err != nil {
		return err
	}
	if err := r.Write32(p.mmioBase+PortCMD, cmd|CmdFRE); err != nil {
		return err
	}
	time.Sleep(time.Millisecond)
	cmd, err = r.Read32(p.mmioBase + PortCMD)
	if err != nil {
		return err
	}
	if cmd&CmdFRE == 0 {
		return diskerr.New(diskerr.PortStartFailed, "FRE did not latch")
	}

	if err := r.Write32(p.mmioBase+PortCMD, cmd|CmdST); err != nil {
		return err
	}
	time.Sleep(time.Millisecond)
	cmd, err = r.Read32(p.mmioBase + PortCMD)
	if err != nil {
		return err
	}
	if cmd&CmdST == 0 {
		return diskerr.New(diskerr.PortStartFailed, "ST did not latch")
	}

	if err := r.Write32(p.mmioBase+PortIS, 0xFFFFFFFF); err != nil {
		return err
	}

	serr, err := r.Read32(p.mmioBase + PortSERR)
	if err != nil {
		return err
	}
	if serr != 0 {
		if err := r.Write32(p.mmioBase+PortSERR, serr); err != nil {
			return err
		}
	}

	sig, err := r.Read32(p.mmioBase + PortSIG)
	if err == nil {
		p.signature = Signature(sig)
	}

	trace.Emit(p.sink, "ahci", "port prepared", map[string]any{"port": p.id, "det": det, "ipm": ipm, "sig": p.signature})
	return nil
}

// FindFreeSlot returns the lowest bit index clear in CI|SACT, or ok=false
// if every slot is busy. Lowest-first makes single-threaded retries
// deterministic (spec section 4.4).
func (p *Port) FindFreeSlot() (int, bool, error) {
	r := p.hba.region
	ci, err := r.Read32(p.mmioBase + PortCI)
	if err != nil {
		return 0, false, err
	}
	sact, err := r.Read32(p.mmioBase + PortSACT)
	if err != nil {
		return 0, false, err
	}
	busy := ci | sact
	slots := p.hba.numSlots
	for i := 0; i < slots; i++ {
		if busy&(1<<uint(i)) == 0 {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// Issue writes 1<<slot to PORT_CI, after polling TFD.BSY|TFD.DRQ clear for
// up to one second (spec section 4.4).
func (p *Port) Issue(slot int) error {
	r := p.hba.region
	ok, err := r.WaitForClear(p.mmioBase+PortTFD, TFDBSY|TFDDRQ, time.Second)
	if err != nil {
		return err
	}
	if !ok {
		return diskerr.New(diskerr.PortBusy, "TFD.BSY|TFD.DRQ did not clear within 1s")
	}
	p.mu.Lock()
	p.inUse[slot] = true
	p.mu.Unlock()
	return r.Write32(p.mmioBase+PortCI, 1<<uint(slot))
}

// AwaitCompletion polls PORT_CI until the slot bit clears (or timeout),
// then inspects TFD for ERR/DF and compares PRDBC against expectedBytes,
// exactly per spec section 4.4.
func (p *Port) AwaitCompletion(slot int, expectedBytes uint32, timeout time.Duration) error {
	r := p.hba.region
	ok, err := r.WaitForClear(p.mmioBase+PortCI, 1<<uint(slot), timeout)

	p.mu.Lock()
	p.inUse[slot] = false
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if !ok {
		return diskerr.New(diskerr.TimedOut, fmt.Sprintf("slot %d did not complete within %s", slot, timeout))
	}

	tfd, err := r.Read32(p.mmioBase + PortTFD)
	if err != nil {
		return err
	}
	if tfd&(TFDErr|TFDDF) != 0 {
		serr, _ := r.Read32(p.mmioBase + PortSERR)
		if serr != 0 {
			_ = r.Write32(p.mmioBase+PortSERR, serr) // clear latched bits before returning, invariant 12
		}
		return diskerr.DeviceErrorf(tfd, serr)
	}

	if expectedBytes > 0 {
		hdr, err := p.readHeaderRaw(slot)
		if err != nil {
			return err
		}
		prdbc := DecodePRDBC(hdr)
		if prdbc != expectedBytes {
			return diskerr.ShortTransferf(prdbc)
		}
	}
	return nil
}

// Reset implements the optional port-reset sequence of spec section 4.4:
// stop (clear ST), wait CR=0, clear FRE, wait FR=0, then re-enable FRE then
// ST.
func (p *Port) Reset() error {
	r := p.hba.region

	cmd, err := r.Read32(p.mmioBase + PortCMD)
	if err != nil {
		return err
	}
	if err := r.Write32(p.mmioBase+PortCMD, cmd&^CmdST); err != nil {
		return err
	}
	if ok, err := r.WaitForClear(p.mmioBase+PortCMD, CmdCR, 500*time.Millisecond); err != nil {
		return err
	} else if !ok {
		return diskerr.New(diskerr.TimedOut, "CR did not clear during reset")
	}

	cmd, err = r.Read32(p.mmioBase + PortCMD)
	if err != nil {
		return err
	}
	if err := r.Write32(p.mmioBase+PortCMD, cmd&^CmdFRE); err != nil {
		return err
	}
	if ok, err := r.WaitForClear(p.mmioBase+PortCMD, CmdFR, 500*time.Millisecond); err != nil {
		return err
	} else if !ok {
		return diskerr.New(diskerr.TimedOut, "FR did not clear during reset")
	}

	return p.PreparePort(500 * time.Millisecond)
}
