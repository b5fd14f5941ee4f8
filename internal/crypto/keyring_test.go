package crypto

import (
	"encoding/base64"
	"testing"
)

func TestSealOpen(t *testing.T) {
	keys := map[string][]byte{
		"k1": mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="),
	}
	kr, err := NewKeyring("k1", keys)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	raw, err := kr.Seal([]byte(`{"email":"visitor@example.com"}`))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if raw == `{"email":"visitor@example.com"}` {
		t.Fatal("seal returned plaintext")
	}

	out, err := kr.Open(raw)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(out) != `{"email":"visitor@example.com"}` {
		t.Fatalf("expected original plaintext, got %q", out)
	}
}

func TestRotationOpensOldEnvelopes(t *testing.T) {
	oldKey := mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	newKey := mustKey(t, "AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE=")

	oldRing, err := NewKeyring("old", map[string][]byte{"old": oldKey})
	if err != nil {
		t.Fatalf("old keyring: %v", err)
	}
	oldCipher, err := oldRing.Seal([]byte("legacy"))
	if err != nil {
		t.Fatalf("old seal: %v", err)
	}

	rotated, err := NewKeyring("new", map[string][]byte{"old": oldKey, "new": newKey})
	if err != nil {
		t.Fatalf("rotated keyring: %v", err)
	}

	plain, err := rotated.Open(oldCipher)
	if err != nil {
		t.Fatalf("open with old key failed: %v", err)
	}
	if string(plain) != "legacy" {
		t.Fatalf("unexpected plaintext: %q", plain)
	}

	resealed, err := rotated.Reseal(oldCipher)
	if err != nil {
		t.Fatalf("reseal: %v", err)
	}
	again, err := rotated.Open(resealed)
	if err != nil {
		t.Fatalf("open resealed: %v", err)
	}
	if string(again) != "legacy" {
		t.Fatalf("unexpected resealed plaintext: %q", again)
	}
}

func TestNewKeyringValidation(t *testing.T) {
	if _, err := NewKeyring("", nil); err == nil {
		t.Fatal("expected error for empty key id")
	}
	if _, err := NewKeyring("k1", map[string][]byte{"k1": []byte("short")}); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := NewKeyring("missing", map[string][]byte{"k1": make([]byte, 32)}); err == nil {
		t.Fatal("expected error for unknown current key")
	}
}

func mustKey(t *testing.T, b64 string) []byte {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	return raw
}
