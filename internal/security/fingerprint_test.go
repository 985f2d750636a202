package security

import "testing"

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("some-credential")
	b := Fingerprint("some-credential")
	if a != b {
		t.Errorf("same input gave different fingerprints: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestFingerprint_DistinctInputs(t *testing.T) {
	if Fingerprint("a") == Fingerprint("b") {
		t.Error("distinct inputs should not collide")
	}
}

func TestFingerprintEqual(t *testing.T) {
	fp := Fingerprint("token")
	if !FingerprintEqual(fp, Fingerprint("token")) {
		t.Error("equal fingerprints should compare equal")
	}
	if FingerprintEqual(fp, Fingerprint("other")) {
		t.Error("different fingerprints should not compare equal")
	}
	if FingerprintEqual(fp, "") {
		t.Error("empty should not match")
	}
}
