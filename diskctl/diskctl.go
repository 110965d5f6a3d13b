// Package diskctl is the single facade spec section 6's external interface
// describes: Init, Identify, Read, Write, Flush, TPMStore, TPMRetrieve. It
// wires platform -> pci -> ahci -> ata for the disk path and
// platform -> acpi -> tpm for the TPM path, the way the teacher's
// virtual_machine.go owns and wires together every device, hypervisor and
// memory piece behind a handful of top-level methods.
package diskctl

import (
	"storagecore/ahci"
	"storagecore/ata"
	"storagecore/config"
	"storagecore/diskerr"
	"storagecore/pci"
	"storagecore/platform"
	"storagecore/tpm"
	"storagecore/trace"
)

// Controller owns the HBA, one working port, and (optionally) a TPM
// device, all opened from a single Config.
type Controller struct {
	cfg  config.Config
	sink trace.Sink

	hba  *ahci.HBA
	port *ahci.Port

	tpmRegion *platform.Region
	tpmDev    *tpm.Device
}

func sinkFor(cfg config.Config) trace.Sink {
	if cfg.Verbose {
		return trace.NewLogSink(nil)
	}
	return trace.NoOp()
}

// ecamWindowSize covers all 256 buses at the conventional single-segment
// ECAM layout (256 buses * 32 devices * 8 functions * 4KiB config space).
const ecamWindowSize = uint64(256) * 32 * 8 * 4096

func newAccessor(cfg config.Config) (accessor pci.ConfigAccessor, closeFn func() error, err error) {
	if cfg.PCIAccess == "ecam" {
		region, err := platform.OpenRegion(pci.DefaultECAMBase, ecamWindowSize, platform.WithDevFile(cfg.MemDevice))
		if err != nil {
			return nil, nil, err
		}
		return pci.NewECAMAccessor(region), region.Close, nil
	}
	return pci.NewSysfsAccessor(), func() error { return nil }, nil
}

// Init implements disk_init: discover the AHCI controller (or use
// cfg.ABAROverride), open the HBA, prepare port 0, and run IDENTIFY.
// When cfg.TPMBaseOverride is set or TPM base discovery (PCI, ACPI, then
// the candidate probe) succeeds, the TPM path is opened as well; a TPM discovery failure is not fatal to disk_init, since
// spec section 4.6 treats the TPM as a peer subsystem, not a dependency of
// the storage path.
func Init(cfg config.Config) (*Controller, error) {
	sink := sinkFor(cfg)
	c := &Controller{cfg: cfg, sink: sink}

	abar := platform.PhysAddr(cfg.ABAROverride)
	if abar == 0 {
		accessor, closeAccessor, err := newAccessor(cfg)
		if err != nil {
			return nil, err
		}
		abar, err = ahci.Discover(accessor)
		closeAccessor()
		if err != nil {
			return nil, err
		}
	}

	hba, err := ahci.Open(abar, sink, platform.WithDevFile(cfg.MemDevice))
	if err != nil {
		return nil, err
	}
	c.hba = hba

	port, err := hba.Port(0)
	if err != nil {
		hba.Close()
		return nil, err
	}
	c.port = port

	if err := port.PreparePort(cfg.PortTimeout); err != nil {
		hba.Close()
		return nil, err
	}

	if _, err := ata.Identify(port, cfg.IdentifyTimeout); err != nil {
		hba.Close()
		return nil, err
	}

	if tpmErr := c.openTPM(); tpmErr != nil {
		trace.Emit(sink, "diskctl", "tpm unavailable, continuing disk-only", map[string]any{"err": tpmErr.Error()})
	}

	trace.Emit(sink, "diskctl", "controller initialized", map[string]any{"abar": abar})
	return c, nil
}

func (c *Controller) openTPM() error {
	base := platform.PhysAddr(c.cfg.TPMBaseOverride)
	if base == 0 {
		lowMem, err := platform.OpenRegion(0, 1<<20, platform.WithDevFile(c.cfg.MemDevice))
		if err != nil {
			return err
		}
		defer lowMem.Close()

		accessor, closeAccessor, err := newAccessor(c.cfg)
		if err != nil {
			return err
		}
		base, err = tpm.DiscoverBase(accessor, lowMem, platform.WithDevFile(c.cfg.MemDevice))
		closeAccessor()
		if err != nil {
			return err
		}
	}

	region, err := platform.OpenRegion(base, 0x1000*2, platform.WithDevFile(c.cfg.MemDevice))
	if err != nil {
		return err
	}
	dev := tpm.Open(region, base, c.sink)
	if err := tpm.Init(dev); err != nil {
		region.Close()
		return err
	}
	c.tpmRegion = region
	c.tpmDev = dev
	return nil
}

// Close releases the HBA and TPM MMIO windows.
func (c *Controller) Close() error {
	var firstErr error
	if c.tpmRegion != nil {
		if err := c.tpmRegion.Close(); err != nil {
			firstErr = err
		}
	}
	if c.hba != nil {
		if err := c.hba.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Identify re-runs IDENTIFY DEVICE and returns the parsed result.
func (c *Controller) Identify() (ata.IdentifyInfo, error) {
	return ata.Identify(c.port, c.cfg.IdentifyTimeout)
}

// Read implements read_sectors, bounded by cfg.DataTimeout.
func (c *Controller) Read(lba uint64, count uint16, buf []byte) error {
	return ata.Read(c.port, lba, count, buf, c.cfg.DataTimeout)
}

// Write implements write_sectors, bounded by cfg.DataTimeout.
func (c *Controller) Write(lba uint64, count uint16, buf []byte) error {
	return ata.Write(c.port, lba, count, buf, c.cfg.DataTimeout)
}

// Flush issues FLUSH CACHE (EXT), bounded by cfg.DataTimeout.
func (c *Controller) Flush() error {
	return ata.FlushCache(c.port, c.cfg.DataTimeout)
}

// TPMStore implements tpm_store. Returns diskerr.NotFound if TPM discovery
// failed during Init.
func (c *Controller) TPMStore(label string, value []byte) error {
	if c.tpmDev == nil {
		return diskerr.New(diskerr.NotFound, "tpm not available on this controller")
	}
	return tpm.Store(c.tpmDev, label, value)
}

// TPMRetrieve implements tpm_retrieve.
func (c *Controller) TPMRetrieve(label string) ([]byte, error) {
	if c.tpmDev == nil {
		return nil, diskerr.New(diskerr.NotFound, "tpm not available on this controller")
	}
	return tpm.Retrieve(c.tpmDev, label)
}

// ResetPort runs the port-reset sequence on the working port, for a caller
// that has observed a DeviceError and wants to retry from a known state.
func (c *Controller) ResetPort() error {
	return c.port.Reset()
}
