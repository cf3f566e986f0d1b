package overlay

import (
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/sha3"
)

const typedKeyChecksumDomain = "duplex-go typed-key checksum"

// String returns the canonical textual form of a TypedKey: a
// checksummed, versioned, base32-encoded address of the shape
// kind(4) | key(32) | checksum(2). This is the "canonical string form
// of a typed key" referenced by the envelope wire contract (origin_dht_key)
// and is what peers exchange out-of-band to name a rendezvous DHT
// record.
func (k TypedKey) String() string {
	payload := make([]byte, 0, 4+32+2)
	var kindBuf [4]byte
	binary.BigEndian.PutUint32(kindBuf[:], uint32(k.Kind))
	payload = append(payload, kindBuf[:]...)
	payload = append(payload, k.Key[:]...)
	payload = append(payload, checksum(k.Kind, k.Key)...)
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(payload))
}

// ParseTypedKey parses the canonical string form produced by
// TypedKey.String, validating its checksum and that the key bytes are
// a well-formed point on the curve backing the crypto kind.
func ParseTypedKey(s string) (TypedKey, error) {
	var tk TypedKey

	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(s))
	if err != nil {
		return tk, fmt.Errorf("overlay: decode typed key: %w", err)
	}
	if len(decoded) != 4+32+2 {
		return tk, fmt.Errorf("overlay: decoded typed key length %d, want %d", len(decoded), 4+32+2)
	}

	kind := CryptoKind(binary.BigEndian.Uint32(decoded[:4]))
	var key CryptoKey
	copy(key[:], decoded[4:36])
	gotChecksum := decoded[36:38]

	want := checksum(kind, key)
	if gotChecksum[0] != want[0] || gotChecksum[1] != want[1] {
		return tk, fmt.Errorf("overlay: typed key checksum mismatch")
	}

	if kind == VLD0 {
		if _, err := new(edwards25519.Point).SetBytes(key[:]); err != nil {
			return tk, fmt.Errorf("overlay: invalid VLD0 key point: %w", err)
		}
	}

	tk.Kind = kind
	tk.Key = key
	return tk, nil
}

func checksum(kind CryptoKind, key CryptoKey) []byte {
	h := sha3.New256()
	h.Write([]byte(typedKeyChecksumDomain))
	var kindBuf [4]byte
	binary.BigEndian.PutUint32(kindBuf[:], uint32(kind))
	h.Write(kindBuf[:])
	h.Write(key[:])
	return h.Sum(nil)[:2]
}
