package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Protobuf re-encodes a JSON payload as a google.protobuf.Value message.
// Readers decode it with structpb.Value.
//
// Value carries every number as a double, so integers beyond ±2^53 are
// rejected instead of silently rounded.
type Protobuf struct{}

// maxExactDouble is the largest magnitude below which every integer is exact
// in a float64.
const maxExactDouble = 1 << 53

func (Protobuf) Encode(b []byte) ([]byte, error) {
	v, err := decodeJSON(b)
	if err != nil {
		return nil, err
	}
	if err := exactInDouble(v); err != nil {
		return nil, err
	}
	pv, err := structpb.NewValue(v)
	if err != nil {
		return nil, err
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(pv)
}

func (Protobuf) Name() string { return "protobuf" }

func exactInDouble(v any) error {
	switch vv := v.(type) {
	case int64:
		if vv > maxExactDouble || vv < -maxExactDouble {
			return fmt.Errorf("codec: integer %d is not exact as a protobuf double", vv)
		}
	case uint64:
		if vv > maxExactDouble {
			return fmt.Errorf("codec: integer %d is not exact as a protobuf double", vv)
		}
	case map[string]any:
		for _, e := range vv {
			if err := exactInDouble(e); err != nil {
				return err
			}
		}
	case []any:
		for _, e := range vv {
			if err := exactInDouble(e); err != nil {
				return err
			}
		}
	}
	return nil
}
