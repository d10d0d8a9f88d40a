package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSON validates the payload and stores it compacted.
type JSON struct{}

func (JSON) Encode(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return nil, fmt.Errorf("codec: value is not JSON: %w", err)
	}
	return buf.Bytes(), nil
}

func (JSON) Name() string { return "json" }
