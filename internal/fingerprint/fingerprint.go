// Package fingerprint derives the truncated, display-friendly identity
// fingerprint shown to users for out-of-band verification, and the small
// amount of key-material stretching Parcel needs beyond a raw SHA-256 digest.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Len is the size in bytes of a displayed fingerprint.
const Len = 16

// Fingerprint is a truncated SHA-256 digest of a client's public identity
// material (its ephemeral X25519 public point).
type Fingerprint [Len]byte

// Of computes the fingerprint of a client's public point.
func Of(publicPoint [32]byte) Fingerprint {
	digest := sha256.Sum256(publicPoint[:])
	var fp Fingerprint
	copy(fp[:], digest[:Len])
	return fp
}

// String renders a fingerprint as colon-separated hex octets, e.g.
// "ab:cd:ef:...".
func (fp Fingerprint) String() string {
	enc := hex.EncodeToString(fp[:])
	parts := make([]string, 0, Len)
	for i := 0; i < len(enc); i += 2 {
		parts = append(parts, enc[i:i+2])
	}
	return strings.Join(parts, ":")
}

// Expand stretches a 32-byte shared secret into 32 bytes of key material
// using HKDF-SHA256 with the given context label as the "info" parameter.
// Used to separate independent keys derived from the same DH output rather
// than reusing raw shared secrets directly.
func Expand(secret [32]byte, label string) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha256.New, secret[:], nil, []byte(label))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, err
	}
	return out, nil
}
