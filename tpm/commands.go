package tpm

import "encoding/binary"

// TPM 2.0 command/response header tags (spec section 4.6).
const (
	tagNoSessions uint16 = 0x8001
)

// Command codes used by the labeled key-value layer.
const (
	ccStartup       uint32 = 0x00000144
	ccSelfTest      uint32 = 0x00000143
	ccNVDefineSpace uint32 = 0x0000012A
	ccNVUndefine    uint32 = 0x00000122
	ccNVReadPublic  uint32 = 0x00000169
	ccNVRead        uint32 = 0x0000014E
	ccNVWrite       uint32 = 0x00000137
)

// rcSuccess is TPM_RC_SUCCESS. rcNVDefinedAlready is TPM_RC_NV_DEFINED
// (0x14C), treated as success by NV_DefineSpace per spec section 4.6: an
// index that already exists is not an error for this driver's purposes.
const (
	rcSuccess          uint32 = 0x000
	rcNVDefinedAlready uint32 = 0x14C
)

// responseCode extracts the 4-byte response code at bytes 6..9 of a TPM
// response buffer (header is tag[2] size[4] code[4]), per spec section 4.6.
func responseCode(resp []byte) uint32 {
	if len(resp) < 10 {
		return 0xFFFFFFFF
	}
	return binary.BigEndian.Uint32(resp[6:10])
}

func header(tag uint16, size uint32, cc uint32) []byte {
	buf := make([]byte, 10)
	binary.BigEndian.PutUint16(buf[0:2], tag)
	binary.BigEndian.PutUint32(buf[2:6], size)
	binary.BigEndian.PutUint32(buf[6:10], cc)
	return buf
}

// encodeStartup builds TPM2_Startup(TPM_SU_CLEAR).
func encodeStartup() []byte {
	const suClear uint16 = 0x0000
	buf := header(tagNoSessions, 12, ccStartup)
	su := make([]byte, 2)
	binary.BigEndian.PutUint16(su, suClear)
	return append(buf, su...)
}

// encodeSelfTest builds TPM2_SelfTest(fullTest=YES).
func encodeSelfTest() []byte {
	buf := header(tagNoSessions, 11, ccSelfTest)
	return append(buf, 0x01)
}

// nvAttrAuthRead/nvAttrAuthWrite/nvAttrNoDA are the TPMA_NV bits the
// labeled store sets on every index it defines: owner-authorized
// read/write, and no dictionary-attack lockout tracking for this
// driver's single fixed auth value.
const (
	nvAttrAuthRead  uint32 = 1 << 0
	nvAttrAuthWrite uint32 = 1 << 1
	nvAttrNoDA      uint32 = 1 << 27
)

// encodeNVDefineSpace builds TPM2_NV_DefineSpace for a plain data index of
// dataSize bytes, authorized with a fixed empty-password session the driver
// uses throughout (spec section 4.6 names no multi-user auth model).
func encodeNVDefineSpace(index uint16, dataSize uint16) []byte {
	nvIndexHandle := 0x01000000 | uint32(index)

	payload := []byte{}
	// authHandle: TPM_RH_OWNER.
	authHandle := make([]byte, 4)
	binary.BigEndian.PutUint32(authHandle, 0x40000001)
	payload = append(payload, authHandle...)

	// authorizationArea: size + one password session (handle, nonce, attrs, hmac).
	sess := encodeEmptyPasswordSession()
	sessSize := make([]byte, 4)
	binary.BigEndian.PutUint32(sessSize, uint32(len(sess)))
	payload = append(payload, sessSize...)
	payload = append(payload, sess...)

	// auth for the new index: empty.
	authLen := make([]byte, 2)
	payload = append(payload, authLen...)

	// TPM2B_NV_PUBLIC: publicInfo.
	pub := make([]byte, 0, 14)
	idxBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(idxBuf, nvIndexHandle)
	pub = append(pub, idxBuf...)
	algBuf := make([]byte, 2) // TPM_ALG_SHA256 placeholder nameAlg (0x000B)
	binary.BigEndian.PutUint16(algBuf, 0x000B)
	pub = append(pub, algBuf...)
	attrBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(attrBuf, nvAttrAuthRead|nvAttrAuthWrite|nvAttrNoDA)
	pub = append(pub, attrBuf...)
	authPolicyLen := make([]byte, 2)
	pub = append(pub, authPolicyLen...)
	dataSizeBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(dataSizeBuf, dataSize)
	pub = append(pub, dataSizeBuf...)

	pubSize := make([]byte, 2)
	binary.BigEndian.PutUint16(pubSize, uint16(len(pub)))
	payload = append(payload, pubSize...)
	payload = append(payload, pub...)

	buf := header(tagNoSessions, uint32(10+len(payload)), ccNVDefineSpace)
	return append(buf, payload...)
}

func encodeEmptyPasswordSession() []byte {
	buf := make([]byte, 0, 9)
	handle := make([]byte, 4)
	binary.BigEndian.PutUint32(handle, 0x40000009) // TPM_RS_PW
	buf = append(buf, handle...)
	nonceLen := make([]byte, 2)
	buf = append(buf, nonceLen...)
	buf = append(buf, 0x00) // sessionAttributes
	hmacLen := make([]byte, 2)
	buf = append(buf, hmacLen...)
	return buf
}

// encodeNVUndefineSpace builds TPM2_NV_UndefineSpace for index.
func encodeNVUndefineSpace(index uint16) []byte {
	nvIndexHandle := 0x01000000 | uint32(index)
	payload := []byte{}
	authHandle := make([]byte, 4)
	binary.BigEndian.PutUint32(authHandle, 0x40000001)
	payload = append(payload, authHandle...)
	idxBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(idxBuf, nvIndexHandle)
	payload = append(payload, idxBuf...)

	sess := encodeEmptyPasswordSession()
	sessSize := make([]byte, 4)
	binary.BigEndian.PutUint32(sessSize, uint32(len(sess)))
	payload = append(payload, sessSize...)
	payload = append(payload, sess...)

	buf := header(tagNoSessions, uint32(10+len(payload)), ccNVUndefine)
	return append(buf, payload...)
}

// encodeNVReadPublic builds TPM2_NV_ReadPublic for index.
func encodeNVReadPublic(index uint16) []byte {
	nvIndexHandle := 0x01000000 | uint32(index)
	idxBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(idxBuf, nvIndexHandle)
	buf := header(tagNoSessions, 14, ccNVReadPublic)
	return append(buf, idxBuf...)
}

// encodeNVRead builds TPM2_NV_Read for index, reading size bytes at offset.
func encodeNVRead(index uint16, size, offset uint16) []byte {
	nvIndexHandle := 0x01000000 | uint32(index)
	payload := []byte{}
	authHandle := make([]byte, 4)
	binary.BigEndian.PutUint32(authHandle, nvIndexHandle)
	payload = append(payload, authHandle...)
	idxBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(idxBuf, nvIndexHandle)
	payload = append(payload, idxBuf...)

	sess := encodeEmptyPasswordSession()
	sessSize := make([]byte, 4)
	binary.BigEndian.PutUint32(sessSize, uint32(len(sess)))
	payload = append(payload, sessSize...)
	payload = append(payload, sess...)

	sizeBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(sizeBuf, size)
	payload = append(payload, sizeBuf...)
	offBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(offBuf, offset)
	payload = append(payload, offBuf...)

	buf := header(tagNoSessions, uint32(10+len(payload)), ccNVRead)
	return append(buf, payload...)
}

// encodeNVWrite builds TPM2_NV_Write for index, writing data at offset 0.
func encodeNVWrite(index uint16, data []byte) []byte {
	nvIndexHandle := 0x01000000 | uint32(index)
	payload := []byte{}
	authHandle := make([]byte, 4)
	binary.BigEndian.PutUint32(authHandle, nvIndexHandle)
	payload = append(payload, authHandle...)
	idxBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(idxBuf, nvIndexHandle)
	payload = append(payload, idxBuf...)

	sess := encodeEmptyPasswordSession()
	sessSize := make([]byte, 4)
	binary.BigEndian.PutUint32(sessSize, uint32(len(sess)))
	payload = append(payload, sessSize...)
	payload = append(payload, sess...)

	dataLen := make([]byte, 2)
	binary.BigEndian.PutUint16(dataLen, uint16(len(data)))
	payload = append(payload, dataLen...)
	payload = append(payload, data...)
	offBuf := make([]byte, 2) // offset 0
	payload = append(payload, offBuf...)

	buf := header(tagNoSessions, uint32(10+len(payload)), ccNVWrite)
	return append(buf, payload...)
}
