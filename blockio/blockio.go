// Package blockio implements the write-string-to-sector and
// read-string-from-sector convenience wrappers of spec section 4.7, on top
// of a single-sector ata.Write/ata.Read round trip.
package blockio

import (
	"time"

	"storagecore/ahci"
	"storagecore/ata"
	"storagecore/diskerr"
)

const sectorSize = 512

// WriteStringToSector zero-fills a 512-byte buffer, copies s and its NUL
// terminator into it, and issues a single-sector write. Rejects s if
// len(s)+1 > 512. timeout bounds the underlying ata.Write completion wait.
func WriteStringToSector(port *ahci.Port, lba uint64, s string, timeout time.Duration) error {
	if len(s)+1 > sectorSize {
		return diskerr.New(diskerr.InvalidBuffer, "string plus NUL terminator exceeds sector size")
	}
	buf := make([]byte, sectorSize)
	copy(buf, s)
	buf[len(s)] = 0
	return ata.Write(port, lba, 1, buf, timeout)
}

// ReadStringFromSector reads one sector, scans for a NUL within the 512
// bytes, and copies at most len(dst)-1 bytes into dst, NUL-terminating it.
// Reports Truncated if the source string (up to the NUL) was longer than
// dst can hold. If no NUL is found, the whole sector is treated as
// non-string data and dst is still NUL-terminated.
func ReadStringFromSector(port *ahci.Port, lba uint64, dst []byte, timeout time.Duration) (int, error) {
	if len(dst) == 0 {
		return 0, diskerr.New(diskerr.InvalidBuffer, "destination buffer is empty")
	}

	sector := make([]byte, sectorSize)
	if err := ata.Read(port, lba, 1, sector, timeout); err != nil {
		return 0, err
	}

	nulAt := -1
	for i, b := range sector {
		if b == 0 {
			nulAt = i
			break
		}
	}

	srcLen := len(sector)
	if nulAt >= 0 {
		srcLen = nulAt
	}

	n := srcLen
	truncated := false
	if n > len(dst)-1 {
		n = len(dst) - 1
		truncated = true
	}
	copy(dst, sector[:n])
	dst[n] = 0

	if truncated {
		return n, diskerr.New(diskerr.Truncated, "source string longer than destination buffer")
	}
	return n, nil
}
