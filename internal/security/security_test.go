package security

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	secret := []byte("shared-secret")
	body := []byte(`{"kind":"transaction"}`)

	sig := Sign(secret, body)
	if !Verify(secret, body, sig) {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	secret := []byte("shared-secret")
	sig := Sign(secret, []byte("original"))
	if Verify(secret, []byte("tampered"), sig) {
		t.Fatalf("expected verification to fail for a tampered body")
	}
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	k1 := DeriveKey([]byte("passphrase"), salt)
	k2 := DeriveKey([]byte("passphrase"), salt)
	if string(k1) != string(k2) {
		t.Fatalf("expected DeriveKey to be deterministic for the same passphrase and salt")
	}
	if len(k1) != keySize {
		t.Fatalf("expected key length %d, got %d", keySize, len(k1))
	}
}
