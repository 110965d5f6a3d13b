package tpm

import "storagecore/diskerr"

// maxValueSize bounds a labeled entry's payload. Two bytes of the NV index
// are reserved for a length prefix so Retrieve can report the caller's
// exact value back out of a fixed-size NV index.
const maxValueSize = 256
const nvIndexSize = 2 + maxValueSize

// djbHash is the DJB2 string hash spec section 4.6 names for turning a
// caller-supplied label into an NV index, folded into 16 bits and OR'd with
// the NV index space tag (0x01000000, applied by the command encoders
// rather than here, since an index is a uint16 argument throughout this
// package).
func djbHash(label string) uint16 {
	var h uint32 = 5381
	for i := 0; i < len(label); i++ {
		h = ((h << 5) + h) + uint32(label[i])
	}
	return uint16(h)
}

// Store writes value under label, defining the backing NV index on first
// use. Collisions between labels that hash to the same index silently
// overwrite one another; spec section 9's design notes accept this as the
// cost of a fixed-width hashed index space rather than a directory.
func Store(d *Device, label string, value []byte) error {
	if len(value) > maxValueSize {
		return diskerr.New(diskerr.TooLarge, "value exceeds tpm labeled-store entry size")
	}
	index := djbHash(label)

	defined, err := indexDefined(d, index)
	if err != nil {
		return err
	}
	if !defined {
		if err := defineIndex(d, index); err != nil {
			return err
		}
	}

	payload := make([]byte, nvIndexSize)
	payload[0] = byte(len(value) >> 8)
	payload[1] = byte(len(value))
	copy(payload[2:], value)

	resp := make([]byte, 64)
	if _, err := d.Execute(encodeNVWrite(index, payload), resp); err != nil {
		return err
	}
	rc := responseCode(resp)
	if rc != rcSuccess {
		return diskerr.ProtocolErrorf(rc)
	}
	return nil
}

// Retrieve reads back the value Store last wrote under label. Returns
// diskerr.NotDefined if no index was ever defined for label's hash.
func Retrieve(d *Device, label string) ([]byte, error) {
	index := djbHash(label)

	defined, err := indexDefined(d, index)
	if err != nil {
		return nil, err
	}
	if !defined {
		return nil, diskerr.New(diskerr.NotDefined, "no tpm entry for this label")
	}

	resp := make([]byte, 10+4+nvIndexSize+16)
	if _, err := d.Execute(encodeNVRead(index, nvIndexSize, 0), resp); err != nil {
		return nil, err
	}
	rc := responseCode(resp)
	if rc != rcSuccess {
		return nil, diskerr.ProtocolErrorf(rc)
	}

	payload, err := nvReadData(resp)
	if err != nil {
		return nil, err
	}
	if len(payload) < 2 {
		return nil, diskerr.New(diskerr.TpmProtocolError, "nv_read response too short")
	}
	n := int(payload[0])<<8 | int(payload[1])
	if n > maxValueSize || 2+n > len(payload) {
		return nil, diskerr.New(diskerr.TpmProtocolError, "nv_read length prefix out of range")
	}
	out := make([]byte, n)
	copy(out, payload[2:2+n])
	return out, nil
}

// Delete undefines the NV index backing label, if any.
func Delete(d *Device, label string) error {
	index := djbHash(label)
	defined, err := indexDefined(d, index)
	if err != nil {
		return err
	}
	if !defined {
		return nil
	}
	resp := make([]byte, 64)
	if _, err := d.Execute(encodeNVUndefineSpace(index), resp); err != nil {
		return err
	}
	rc := responseCode(resp)
	if rc != rcSuccess {
		return diskerr.ProtocolErrorf(rc)
	}
	return nil
}

func indexDefined(d *Device, index uint16) (bool, error) {
	resp := make([]byte, 64)
	_, err := d.Execute(encodeNVReadPublic(index), resp)
	if err != nil {
		return false, err
	}
	rc := responseCode(resp)
	if rc == rcSuccess {
		return true, nil
	}
	// TPM_RC_HANDLE (parm-tagged variants included) means the index is
	// undefined; any other failure is a genuine protocol error.
	if rc&0xFF == 0x8B || rc&0xFF == 0x0B {
		return false, nil
	}
	return false, diskerr.ProtocolErrorf(rc)
}

func defineIndex(d *Device, index uint16) error {
	resp := make([]byte, 64)
	if _, err := d.Execute(encodeNVDefineSpace(index, nvIndexSize), resp); err != nil {
		return err
	}
	rc := responseCode(resp)
	if rc != rcSuccess && rc != rcNVDefinedAlready {
		return diskerr.ProtocolErrorf(rc)
	}
	return nil
}

// nvReadData extracts the TPM2B_MAX_NV_BUFFER payload from an NV_Read
// response, read from a fixed offset: the 10-byte header, a 4-byte
// parameterSize field, then the TPM2B's 2-byte size and its data.
func nvReadData(resp []byte) ([]byte, error) {
	const dataOffset = 10 + 4 + 2 // header + parameterSize + TPM2B size
	if len(resp) < dataOffset {
		return nil, diskerr.New(diskerr.TpmProtocolError, "nv_read response truncated")
	}
	size := int(resp[dataOffset-2])<<8 | int(resp[dataOffset-1])
	if dataOffset+size > len(resp) {
		return nil, diskerr.New(diskerr.TpmProtocolError, "nv_read TPM2B size exceeds response")
	}
	return resp[dataOffset : dataOffset+size], nil
}
