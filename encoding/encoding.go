// Package encoding provides the marshaler storekit uses to estimate the footprint of cached
// values and to derive content-hash cache keys.
package encoding

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Marshaler interface specifies encoding to byte array and back to the object.
type Marshaler interface {
	// Encodes any object to byte array.
	Marshal(v any) ([]byte, error)
	// Decodes byte array back to its Object type.
	Unmarshal(data []byte, v any) error
}

// DefaultMarshaler uses the standard JSON encoding.
var DefaultMarshaler Marshaler = NewMarshaler()

// FallbackSize is reported for values the marshaler cannot encode.
const FallbackSize = 1024

type defaultMarshaler struct{}

// NewMarshaler returns the default marshaler which uses golang's json package.
func NewMarshaler() Marshaler {
	return &defaultMarshaler{}
}

// Encodes any object to a byte array.
func (m defaultMarshaler) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decodes a byte array back to its Object type.
func (m defaultMarshaler) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Marshal encodes v with m, passing byte arrays through untouched.
func Marshal(m Marshaler, v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		if b == nil {
			return nil, nil
		}
		return *b, nil
	case string:
		return []byte(b), nil
	}
	return m.Marshal(v)
}

// Size estimates the encoded size of v, falling back to FallbackSize when v can't be encoded.
func Size(m Marshaler, v any) int {
	ba, err := Marshal(m, v)
	if err != nil {
		return FallbackSize
	}
	return len(ba)
}

// ContentKey returns the hex sha256 of the encoded parts, suitable as a cache key for
// artifacts derived from those parts (e.g. a compiled graph keyed by its definition).
func ContentKey(parts ...any) (string, error) {
	h := sha256.New()
	for _, p := range parts {
		ba, err := Marshal(DefaultMarshaler, p)
		if err != nil {
			return "", err
		}
		h.Write(ba)
		// Separator so ("ab","c") and ("a","bc") differ.
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
