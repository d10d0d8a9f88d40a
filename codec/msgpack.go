package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack re-encodes a JSON payload as MessagePack using vmihailenco/msgpack/v5.
// Map keys are sorted so output is stable across runs.
type Msgpack struct{}

func (Msgpack) Encode(b []byte) ([]byte, error) {
	v, err := decodeJSON(b)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Msgpack) Name() string { return "msgpack" }
