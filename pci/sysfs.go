package pci

import (
	"fmt"
	"os"
)

// SysfsAccessor implements ConfigAccessor against
// /sys/bus/pci/devices/<bdf>/config, the hosted-OS equivalent of driving
// the 0xCF8 address port then reading/writing 0xCFC: both are "address a
// config DWord by BDF+offset, then transfer it", and sysfs already performs
// the DWord-read-and-extract internally on the kernel side for narrow
// pread/pwrite sizes.
type SysfsAccessor struct {
	Root string // e.g. "/sys/bus/pci/devices"
	Seg  uint16 // PCI domain/segment, almost always 0
}

// NewSysfsAccessor returns an accessor rooted at the standard sysfs PCI tree.
func NewSysfsAccessor() *SysfsAccessor {
	return &SysfsAccessor{Root: "/sys/bus/pci/devices"}
}

func (s *SysfsAccessor) path(bdf BDF) string {
	return fmt.Sprintf("%s/%04x:%02x:%02x.%x/config", s.Root, s.Seg, bdf.Bus, bdf.Dev, bdf.Fn)
}

func (s *SysfsAccessor) read(bdf BDF, offset uint16, size uint8) (uint32, error) {
	f, err := os.Open(s.path(bdf))
	if err != nil {
		// Vendor ID reads against a function that doesn't exist must look
		// like "device not present" (0xFFFF), per spec section 4.2.
		if offset == OffVendorID {
			return 0xFFFF, nil
		}
		return 0, err
	}
	defer f.Close()

	dwordOffset := offset &^ 0x3
	byteInDWord := uint8(offset & 0x3)
	var buf [4]byte
	n, err := f.ReadAt(buf[:], int64(dwordOffset))
	if err != nil && n == 0 {
		if offset == OffVendorID {
			return 0xFFFF, nil
		}
		return 0, err
	}
	dword := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	return extractFromDWord(dword, byteInDWord, size), nil
}

func (s *SysfsAccessor) write(bdf BDF, offset uint16, size uint8, value uint32) error {
	f, err := os.OpenFile(s.path(bdf), os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	dwordOffset := offset &^ 0x3
	byteInDWord := uint8(offset & 0x3)

	var cur uint32
	if size != 4 {
		var buf [4]byte
		if _, err := f.ReadAt(buf[:], int64(dwordOffset)); err != nil {
			return err
		}
		cur = uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	}
	merged := mergeIntoDWord(cur, byteInDWord, size, value)

	var out [4]byte
	out[0] = byte(merged)
	out[1] = byte(merged >> 8)
	out[2] = byte(merged >> 16)
	out[3] = byte(merged >> 24)
	_, err = f.WriteAt(out[:], int64(dwordOffset))
	return err
}

func (s *SysfsAccessor) CfgRead8(bdf BDF, offset uint16) (uint8, error) {
	v, err := s.read(bdf, offset, 1)
	return uint8(v), err
}

func (s *SysfsAccessor) CfgRead16(bdf BDF, offset uint16) (uint16, error) {
	v, err := s.read(bdf, offset, 2)
	return uint16(v), err
}

func (s *SysfsAccessor) CfgRead32(bdf BDF, offset uint16) (uint32, error) {
	return s.read(bdf, offset, 4)
}

func (s *SysfsAccessor) CfgWrite8(bdf BDF, offset uint16, v uint8) error {
	return s.write(bdf, offset, 1, uint32(v))
}

func (s *SysfsAccessor) CfgWrite16(bdf BDF, offset uint16, v uint16) error {
	return s.write(bdf, offset, 2, uint32(v))
}

func (s *SysfsAccessor) CfgWrite32(bdf BDF, offset uint16, v uint32) error {
	return s.write(bdf, offset, 4, v)
}

var _ ConfigAccessor = (*SysfsAccessor)(nil)
