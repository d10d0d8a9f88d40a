// Package codec rewrites event payloads into the bytes stored in the cache.
//
// Structured codecs (JSON, Msgpack, CBOR, Protobuf) expect the event value to
// be a JSON document and re-encode it; Raw stores the payload untouched.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Codec encodes an event payload for storage. Implementations must be
// deterministic so re-applying a batch writes identical bytes.
type Codec interface {
	Encode(src []byte) ([]byte, error)
	Name() string
}

// ByName returns the codec registered under name ("" => raw).
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "raw", "bytes":
		return Raw{}, nil
	case "json":
		return JSON{}, nil
	case "msgpack":
		return Msgpack{}, nil
	case "cbor":
		return NewCBOR()
	case "protobuf", "proto":
		return Protobuf{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}

// decodeJSON parses src into generic Go values; numbers stay json.Number so
// integers survive re-encoding without float rounding.
func decodeJSON(src []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(src))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("codec: value is not JSON: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("codec: trailing data after JSON value")
	}
	return normalize(v)
}

// normalize turns json.Number into int64, uint64 or float64. Integers that
// do not fit 64 bits are rejected rather than rounded.
func normalize(v any) (any, error) {
	switch vv := v.(type) {
	case json.Number:
		return number(vv)
	case map[string]any:
		for k, e := range vv {
			n, err := normalize(e)
			if err != nil {
				return nil, err
			}
			vv[k] = n
		}
		return vv, nil
	case []any:
		for i, e := range vv {
			n, err := normalize(e)
			if err != nil {
				return nil, err
			}
			vv[i] = n
		}
		return vv, nil
	default:
		return v, nil
	}
}

func number(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u, nil
		}
		return nil, fmt.Errorf("codec: integer %s does not fit 64 bits", s)
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("codec: number %s out of range", s)
	}
	return f, nil
}
