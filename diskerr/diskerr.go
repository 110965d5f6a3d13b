// Package diskerr defines the error taxonomy shared by the pci, ahci, ata,
// tpm and blockio packages. Every layer returns its own Kind and does not
// retry a lower layer beyond the reread-after-delay patterns each component
// documents itself.
package diskerr

import "fmt"

// Kind identifies the class of failure a layer reported.
type Kind int

const (
	// NotFound means a discovery step (AHCI HBA, RSDP/ACPI table, TPM base)
	// found nothing, or the TPM is not available on a Controller.
	NotFound Kind = iota
	// BarInvalid means BAR5 was zero or flagged as an I/O space BAR.
	BarInvalid
	// PortNotPresent means SSTS.DET != 3 during port preparation.
	PortNotPresent
	// PortInactive is a warning-grade condition: SSTS.IPM != 1.
	PortInactive
	// PortStartFailed means FRE/ST would not latch.
	PortStartFailed
	// NoFreeSlot means every command slot is busy.
	NoFreeSlot
	// PortBusy means BSY|DRQ never cleared before issue.
	PortBusy
	// TimedOut means a bounded poll exceeded its deadline.
	TimedOut
	// DeviceError means TFD.ERR or TFD.DF was set after CI cleared.
	DeviceError
	// ShortTransfer means PRDBC didn't match the expected byte count.
	ShortTransfer
	// Lba48Unsupported means the access needs LBA48 but the device lacks it.
	Lba48Unsupported
	// TooLarge means the requested sector count exceeds the command limit,
	// or a TPM labeled-store value exceeds the entry size.
	TooLarge
	// InvalidBuffer means the caller's buffer was nil or mis-sized, or a
	// port id was out of range.
	InvalidBuffer
	// TpmLocalityDenied means the TPM never granted the requested locality.
	TpmLocalityDenied
	// TpmProtocolError means the TPM returned a non-zero response code.
	TpmProtocolError
	// Truncated means a string read was longer than the destination buffer.
	Truncated
	// NotDefined means a TPM label has no backing NV index.
	NotDefined
)

var names = map[Kind]string{
	NotFound:          "not found",
	BarInvalid:        "bar invalid",
	PortNotPresent:    "port not present",
	PortInactive:      "port inactive",
	PortStartFailed:   "port start failed",
	NoFreeSlot:        "no free slot",
	PortBusy:          "port busy",
	TimedOut:          "timed out",
	DeviceError:       "device error",
	ShortTransfer:     "short transfer",
	Lba48Unsupported:  "lba48 unsupported",
	TooLarge:          "too large",
	InvalidBuffer:     "invalid buffer",
	TpmLocalityDenied: "tpm locality denied",
	TpmProtocolError:  "tpm protocol error",
	Truncated:         "truncated",
	NotDefined:        "not defined",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return fmt.Sprintf("diskerr.Kind(%d)", int(k))
}

// Error is the concrete error value returned by every layer. Payload fields
// are only populated by the Kind that produces them (TFD/SERR for
// DeviceError, PRDBC for ShortTransfer, RC for TpmProtocolError).
type Error struct {
	Kind Kind
	Msg  string

	TFD   uint32
	SERR  uint32
	PRDBC uint32
	RC    uint32
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return e.Kind.String()
}

// Is lets callers write errors.Is(err, diskerr.Sentinel(diskerr.TimedOut)):
// any *Error target with the same Kind matches, whatever its payload.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New constructs a plain Error of the given kind.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

// Sentinel returns a zero-payload Error usable with errors.Is as the target,
// e.g. errors.Is(err, diskerr.Sentinel(diskerr.TimedOut)).
func Sentinel(k Kind) *Error { return &Error{Kind: k} }

// DeviceErrorf builds a DeviceError payload from a post-completion TFD/SERR
// snapshot.
func DeviceErrorf(tfd, serr uint32) *Error {
	return &Error{Kind: DeviceError, TFD: tfd, SERR: serr, Msg: fmt.Sprintf("tfd=0x%02x serr=0x%08x", tfd, serr)}
}

// ShortTransferf builds a ShortTransfer payload from the PRDBC actually
// transferred.
func ShortTransferf(prdbc uint32) *Error {
	return &Error{Kind: ShortTransfer, PRDBC: prdbc, Msg: fmt.Sprintf("prdbc=%d", prdbc)}
}

// ProtocolErrorf builds a TpmProtocolError payload from a TPM response code.
func ProtocolErrorf(rc uint32) *Error {
	return &Error{Kind: TpmProtocolError, RC: rc, Msg: fmt.Sprintf("rc=0x%x", rc)}
}
