package security

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name        string
		key         []byte
		wantErr     bool
		wantEnabled bool
	}{
		{name: "nil key disables", key: nil, wantEnabled: false},
		{name: "empty key disables", key: []byte{}, wantEnabled: false},
		{name: "32 byte key", key: make([]byte, 32), wantEnabled: true},
		{name: "short key", key: make([]byte, 16), wantErr: true},
		{name: "long key", key: make([]byte, 64), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && enc.IsEnabled() != tt.wantEnabled {
				t.Errorf("IsEnabled() = %v, want %v", enc.IsEnabled(), tt.wantEnabled)
			}
		})
	}
}

func TestEncryptor_SealOpen(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	plaintext := []byte(`{"id":"jti-1","client_id":"app-1"}`)
	sealed, err := enc.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Contains(sealed, []byte("jti-1")) {
		t.Error("sealed output contains plaintext")
	}

	again, _ := enc.Seal(plaintext)
	if bytes.Equal(sealed, again) {
		t.Error("two seals of the same plaintext must differ (random nonce)")
	}

	opened, err := enc.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %q, want %q", opened, plaintext)
	}
}

func TestEncryptor_OpenRejectsTampering(t *testing.T) {
	enc, _ := NewEncryptor(make([]byte, 32))
	sealed, _ := enc.Seal([]byte("record"))
	sealed[len(sealed)-1] ^= 0xff

	if _, err := enc.Open(sealed); err == nil {
		t.Error("Open() accepted a tampered ciphertext")
	}
	if _, err := enc.Open([]byte{1, 2}); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("Open(short) error = %v, want ErrCiphertextTooShort", err)
	}
}

func TestEncryptor_DisabledPassThrough(t *testing.T) {
	enc, _ := NewEncryptor(nil)
	sealed, err := enc.Seal([]byte("plain"))
	if err != nil || string(sealed) != "plain" {
		t.Errorf("Seal() = %q, %v", sealed, err)
	}
	var nilEnc *Encryptor
	if nilEnc.IsEnabled() {
		t.Error("nil encryptor reports enabled")
	}
}

func TestKeyFromBase64(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	got, err := KeyFromBase64(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("KeyFromBase64() error = %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Error("decoded key mismatch")
	}

	if _, err := KeyFromBase64("not base64!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := KeyFromBase64(base64.StdEncoding.EncodeToString(key[:10])); err == nil {
		t.Error("expected error for short key")
	}
}
