// Package buildid extracts GNU build identifiers from modules and encodes them as hex strings.
package buildid

import "encoding/hex"

// BuildID is a module's build identifier. A nil BuildID means the module has none.
type BuildID []byte

// Absent reports whether the module had no build identifier.
func (id BuildID) Absent() bool {
	return len(id) == 0
}

// String returns the lowercase hex encoding.
func (id BuildID) String() string {
	return Encode(id)
}

// Encode returns two lowercase hex digits per byte, most significant byte first.
func Encode(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	dst := make([]byte, hex.EncodedLen(len(b)))
	hex.Encode(dst, b)
	return string(dst)
}

// Decode reverses Encode.
func Decode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
