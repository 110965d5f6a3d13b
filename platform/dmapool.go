package platform

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// VirtToPhys is the explicit capability the Design Notes ask for in place
// of the source's implicit "cast a pointer to u64 and hand it to the HBA"
// pattern. On the identity-mapped environments this driver targets (a
// hosted process whose command buffers are also what the HBA DMAs into,
// exactly as virtual_machine.go hands KVM the address of its own mmap'd
// guest memory) it is the identity function over the mmap'd virtual
// address. A platform with a live, non-identity MMU between this process
// and the HBA would replace this function with a real translation.
var VirtToPhys = func(addr uintptr) PhysAddr { return PhysAddr(addr) }

// AnonymousDMAPool owns a single mmap'd, page-aligned, anonymous memory
// region used as the backing store for command lists, FIS areas, command
// tables and PRDT data chunks when no real physical-memory allocator
// (VFIO, hugetlbfs reservation, etc.) is wired in. Grounded directly on
// virtual_machine.go's NewVirtualMachine, which mmaps anonymous memory with
// PROT_READ|PROT_WRITE|MAP_PRIVATE|MAP_ANONYMOUS and hands its address to
// KVM as guest-visible RAM; here the "device" consuming the address is an
// AHCI or TPM MMIO engine instead of a hypervisor.
type AnonymousDMAPool struct {
	mem  []byte
	base PhysAddr
	next uint64
}

// NewAnonymousDMAPool mmaps size bytes of anonymous memory and wraps it as
// a bump allocator for DMA buffers.
func NewAnonymousDMAPool(size uint64) (*AnonymousDMAPool, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("platform: mmap anonymous DMA pool: %w", err)
	}
	base := VirtToPhys(uintptr(unsafe.Pointer(&mem[0])))
	return &AnonymousDMAPool{mem: mem, base: base}, nil
}

// Close unmaps the pool.
func (p *AnonymousDMAPool) Close() error { return unix.Munmap(p.mem) }

// Region returns a Region overlaying the whole pool, so callers get the
// same typed Read/Write/WaitForClear accessors as any other physical
// window.
func (p *AnonymousDMAPool) Region() *Region {
	return &Region{base: p.base, size: uint64(len(p.mem)), mem: p.mem}
}

// Reserve bump-allocates size bytes aligned to align, returning the PA of
// the reservation. Used to hand out command-list/FIS/command-table/PRDT
// buffers that must not overlap.
func (p *AnonymousDMAPool) Reserve(size, align uint64) (PhysAddr, error) {
	aligned := (p.next + align - 1) &^ (align - 1)
	if aligned+size > uint64(len(p.mem)) {
		return 0, fmt.Errorf("platform: DMA pool exhausted (need %d bytes at align %d, %d available)",
			size, align, uint64(len(p.mem))-aligned)
	}
	p.next = aligned + size
	return p.base + PhysAddr(aligned), nil
}
