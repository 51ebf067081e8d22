package dfcrypto

import (
	"bytes"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}

	msg := []byte("datafold mutation payload")
	sig := kp.Sign(msg)

	if err := Verify(kp.Public, msg, sig); err != nil {
		t.Fatalf("Verify() error = %v, want nil", err)
	}

	flipped := append([]byte(nil), sig...)
	flipped[0] ^= 0xFF
	if err := Verify(kp.Public, msg, flipped); err == nil {
		t.Fatal("Verify() with flipped signature bit succeeded, want error")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"short", []byte("hello, atom")},
		{"binary", bytes.Repeat([]byte{0xAB, 0xCD}, 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nonce, ciphertext, err := Seal(key, tt.plaintext)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			got, err := Open(key, nonce, ciphertext)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Fatalf("Open() = %v, want %v", got, tt.plaintext)
			}
		})
	}
}

func TestOpenWrongKeyFails(t *testing.T) {
	var key1, key2 [32]byte
	key2[0] = 1

	nonce, ciphertext, err := Seal(key1, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := Open(key2, nonce, ciphertext); err == nil {
		t.Fatal("Open() with wrong key succeeded, want error")
	}
}

func TestSealRejectsOversizedPlaintext(t *testing.T) {
	var key [32]byte
	oversized := make([]byte, MaxPlaintextSize+1)
	if _, _, err := Seal(key, oversized); err != ErrPlaintextTooLarge {
		t.Fatalf("Seal() error = %v, want ErrPlaintextTooLarge", err)
	}
}

func TestDeriveMasterKeyDeterministic(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}
	params := KDFParams{MemoryCostKiB: 8 * 1024, TimeCost: 1, Parallelism: 1}

	k1 := DeriveMasterKey("hunter2", salt, params)
	k2 := DeriveMasterKey("hunter2", salt, params)
	if k1 != k2 {
		t.Fatal("DeriveMasterKey() not deterministic for the same passphrase+salt")
	}

	var otherSalt [16]byte
	copy(otherSalt[:], salt[:])
	otherSalt[0] ^= 0xFF
	k3 := DeriveMasterKey("hunter2", otherSalt, params)
	if k1 == k3 {
		t.Fatal("DeriveMasterKey() produced identical keys for different salts")
	}
}
