package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBOR re-encodes a JSON payload as CBOR using fxamacker/cbor.
// The zero value is NOT ready to use. Construct with NewCBOR or MustCBOR.
//
// Encoding uses CoreDetEncOptions (RFC 8949 Core Deterministic) so the same
// document always yields the same bytes.
type CBOR struct {
	enc cbor.EncMode
}

var _ Codec = CBOR{}

func NewCBOR() (CBOR, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return CBOR{}, err
	}
	return CBOR{enc: em}, nil
}

// MustCBOR is like NewCBOR but panics on error.
// Handy for package-level variables in tests.
func MustCBOR() CBOR {
	c, err := NewCBOR()
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR) Encode(b []byte) ([]byte, error) {
	v, err := decodeJSON(b)
	if err != nil {
		return nil, err
	}
	return c.enc.Marshal(v)
}

func (CBOR) Name() string { return "cbor" }
