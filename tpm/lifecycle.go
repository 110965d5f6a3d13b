package tpm

import "storagecore/diskerr"

// Startup issues TPM2_Startup(CLEAR), the first command this driver sends
// after acquiring locality 0 (spec section 4.6).
func Startup(d *Device) error {
	resp := make([]byte, 10)
	if _, err := d.Execute(encodeStartup(), resp); err != nil {
		return err
	}
	if rc := responseCode(resp); rc != rcSuccess {
		return diskerr.ProtocolErrorf(rc)
	}
	return nil
}

// SelfTest issues TPM2_SelfTest(fullTest=YES).
func SelfTest(d *Device) error {
	resp := make([]byte, 10)
	if _, err := d.Execute(encodeSelfTest(), resp); err != nil {
		return err
	}
	if rc := responseCode(resp); rc != rcSuccess {
		return diskerr.ProtocolErrorf(rc)
	}
	return nil
}

// Init acquires locality 0 and runs Startup followed by SelfTest, the
// sequence every caller of the labeled key-value layer is expected to run
// once before the first Store/Retrieve (spec section 4.6).
func Init(d *Device) error {
	if err := d.SetLocality(0); err != nil {
		return err
	}
	if err := Startup(d); err != nil {
		return err
	}
	return SelfTest(d)
}
