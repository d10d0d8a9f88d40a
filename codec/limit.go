package codec

import "fmt"

// Limit wraps another codec to enforce a maximum stored value size.
// If Max <= 0, size limiting is disabled.
//
// Typical use: keep oversized payloads out of a shared cache.
type Limit struct {
	// Inner is the underlying codec being wrapped. It must be set.
	Inner Codec
	// Max is the maximum permitted length (in bytes) of the encoded value.
	Max int
}

func (c Limit) Encode(b []byte) ([]byte, error) {
	out, err := c.Inner.Encode(b)
	if err != nil {
		return nil, err
	}
	if c.Max > 0 && len(out) > c.Max {
		return nil, fmt.Errorf("codec: value too large: %d > %d", len(out), c.Max)
	}
	return out, nil
}

func (c Limit) Name() string { return c.Inner.Name() }
