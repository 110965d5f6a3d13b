package ahci

import (
	"sync"

	"storagecore/platform"
	"storagecore/trace"
)

// HBA represents one AHCI host-bus adapter, created once at discovery and
// destroyed at shutdown. It owns all port-indexed MMIO regions; each Port
// exclusively owns its own command list and FIS buffer.
type HBA struct {
	abar   platform.PhysAddr
	region *platform.Region

	implementedPorts uint32 // PI register snapshot
	numSlots         int    // CAP.NCS + 1
	supports64Bit    bool   // CAP.S64A

	mu    sync.Mutex // guards only the port array/bookkeeping below
	ports [MaxPorts]*Port

	sink trace.Sink
}

// Open mmaps the HBA's register window (ABAR..ABAR+0x1100, enough to cover
// the host registers plus all 32 possible port register blocks) and reads
// its capability/implemented-ports registers.
func Open(abar platform.PhysAddr, sink trace.Sink, opts ...platform.RegionOption) (*HBA, error) {
	const windowSize = portRegionBase + MaxPorts*portRegionStride
	region, err := platform.OpenRegion(abar, windowSize, opts...)
	if err != nil {
		return nil, err
	}
	h := &HBA{abar: abar, region: region, sink: sink}

	cap_, err := region.Read32(abar + RegCAP)
	if err != nil {
		region.Close()
		return nil, err
	}
	h.numSlots = int((cap_>>capNCSShift)&capNCSMask) + 1
	h.supports64Bit = cap_&capS64A != 0

	pi, err := region.Read32(abar + RegPI)
	if err != nil {
		region.Close()
		return nil, err
	}
	h.implementedPorts = pi

	trace.Emit(sink, "ahci", "hba opened", map[string]any{"abar": abar, "numSlots": h.numSlots, "pi": pi})
	return h, nil
}

// Close unmaps the HBA register window.
func (h *HBA) Close() error { return h.region.Close() }

// NumSlots reports CAP.NCS + 1, the number of command slots per port.
func (h *HBA) NumSlots() int { return h.numSlots }

// Supports64Bit reports CAP.S64A.
func (h *HBA) Supports64Bit() bool { return h.supports64Bit }

// ImplementedPorts returns the PI bitmap.
func (h *HBA) ImplementedPorts() uint32 { return h.implementedPorts }

// IsImplemented reports whether port id is present in PI.
func (h *HBA) IsImplemented(id int) bool {
	return id >= 0 && id < MaxPorts && h.implementedPorts&(1<<uint(id)) != 0
}

// Port lazily constructs and returns the Port object for id, allocating its
// command list and FIS receive buffers on first use.
func (h *HBA) Port(id int) (*Port, error) {
	if id < 0 || id >= MaxPorts {
		return nil, portRangeError(id)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ports[id] == nil {
		p, err := newPort(h, id)
		if err != nil {
			return nil, err
		}
		h.ports[id] = p
	}
	return h.ports[id], nil
}
