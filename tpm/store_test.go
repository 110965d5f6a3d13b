package tpm

import "testing"

func TestNVReadDataExtraction(t *testing.T) {
	payload := []byte{0x00, 0x05, 'h', 'e', 'l', 'l', 'o'}
	resp := make([]byte, 10+4+2+len(payload))
	resp[10+4] = byte(len(payload) >> 8)
	resp[10+4+1] = byte(len(payload))
	copy(resp[10+4+2:], payload)

	got, err := nvReadData(resp)
	if err != nil {
		t.Fatalf("nvReadData: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("nvReadData = %q, want %q", got, payload)
	}
}

func TestNVReadDataTruncated(t *testing.T) {
	if _, err := nvReadData(make([]byte, 4)); err == nil {
		t.Fatalf("nvReadData on truncated response: want error, got nil")
	}
}

func TestStoreValueTooLarge(t *testing.T) {
	err := Store(nil, "label", make([]byte, maxValueSize+1))
	if err == nil {
		t.Fatalf("Store with oversized value: want error, got nil")
	}
}
