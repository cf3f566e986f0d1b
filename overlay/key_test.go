package overlay

import (
	"crypto/ed25519"
	"strings"
	"testing"
)

func validVLD0Key(t *testing.T) CryptoKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	var k CryptoKey
	copy(k[:], pub)
	return k
}

func TestTypedKeyRoundTrip(t *testing.T) {
	tk := TypedKey{Kind: VLD0, Key: validVLD0Key(t)}

	s := tk.String()
	if s == "" {
		t.Fatal("empty canonical string")
	}

	got, err := ParseTypedKey(s)
	if err != nil {
		t.Fatalf("ParseTypedKey(%q): %v", s, err)
	}
	if got != tk {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, tk)
	}
}

func TestTypedKeyStringIsLowercase(t *testing.T) {
	tk := TypedKey{Kind: VLD0, Key: validVLD0Key(t)}
	s := tk.String()
	if s != strings.ToLower(s) {
		t.Fatalf("expected lowercase canonical form, got %q", s)
	}
}

func TestParseTypedKeyRejectsBadChecksum(t *testing.T) {
	tk := TypedKey{Kind: VLD0, Key: validVLD0Key(t)}
	s := tk.String()

	// Flip a character in the checksum tail to corrupt it. The last
	// character carries 4 checksum bits plus one unused padding bit, so
	// 'a' (0) is replaced by 'c' (2), not 'b' (1), to change a data bit.
	corrupted := []byte(s)
	last := corrupted[len(corrupted)-1]
	if last == 'a' {
		corrupted[len(corrupted)-1] = 'c'
	} else {
		corrupted[len(corrupted)-1] = 'a'
	}

	if _, err := ParseTypedKey(string(corrupted)); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestParseTypedKeyRejectsWrongLength(t *testing.T) {
	if _, err := ParseTypedKey("short"); err == nil {
		t.Fatal("expected length error")
	}
}

func TestParseTypedKeyRejectsInvalidCurvePoint(t *testing.T) {
	// y = 2 (little-endian, sign bit clear) is not the y-coordinate of
	// any point on the curve: (y²-1)/(dy²+1) has no square root mod p.
	key := CryptoKey{0x02}
	tk := TypedKey{Kind: VLD0, Key: key}
	s := tk.String()

	if _, err := ParseTypedKey(s); err == nil {
		t.Fatal("expected invalid curve point error")
	}
}
