package ata

import "unsafe"

// bufAddr returns the virtual address of buf's backing array, for
// translation through platform.VirtToPhys. The spec's environment section
// assumes an identity-mapped address space for any buffer pointer handed to
// the HBA; callers on a platform with a live, non-identity MMU must supply
// a non-identity platform.VirtToPhys instead of changing call sites.
func bufAddr(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}
