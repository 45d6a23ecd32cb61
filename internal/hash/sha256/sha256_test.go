package sha256

import "testing"

func TestFingerprint(t *testing.T) {
	t.Parallel()

	got := Fingerprint("hello world")
	if got != "b94d27b9" {
		t.Fatalf("Fingerprint() = %s, want b94d27b9", got)
	}
	if len(got) != FingerprintLen {
		t.Fatalf("expected %d characters, got %d", FingerprintLen, len(got))
	}
	if Fingerprint("hello world!") == got {
		t.Fatalf("expected different credentials to fingerprint differently")
	}
}
