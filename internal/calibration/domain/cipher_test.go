package calibration

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := DeriveKey("device-auth-key")
	payload := []byte(`{"calibration_from":"2026-03-09T06:00:00Z","calibration_to":"2026-03-09T08:00:00Z"}`)

	sealed, err := Encrypt(key, payload)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	opened, err := Decrypt(key, sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(opened, payload) {
		t.Fatalf("expected round trip, got %q", opened)
	}
}

func TestEncrypt_RandomIVChangesCiphertext(t *testing.T) {
	key := DeriveKey("device-auth-key")
	payload := []byte("same payload")

	first, err := Encrypt(key, payload)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	second, err := Encrypt(key, payload)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct ciphertexts for repeated payload")
	}
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	sealed, err := Encrypt(DeriveKey("key-a"), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(DeriveKey("key-b"), sealed); err == nil {
		t.Fatalf("expected padding error with wrong key")
	}
}

func TestDecrypt_RejectsTruncatedCiphertext(t *testing.T) {
	key := DeriveKey("key")
	if _, err := Decrypt(key, base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Fatalf("expected invalid length error")
	}
	if _, err := Decrypt(key, strings.Repeat("!", 8)); err == nil {
		t.Fatalf("expected base64 error")
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	if !bytes.Equal(DeriveKey("abc"), DeriveKey("abc")) {
		t.Fatalf("expected deterministic derivation")
	}
	if bytes.Equal(DeriveKey("abc"), DeriveKey("abd")) {
		t.Fatalf("expected distinct keys for distinct auth keys")
	}
	if len(DeriveKey("abc")) != 32 {
		t.Fatalf("expected 32-byte key")
	}
}
