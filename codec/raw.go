package codec

// Raw is the identity codec: the event payload is stored byte for byte.
type Raw struct{}

func (Raw) Encode(b []byte) ([]byte, error) { return b, nil }
func (Raw) Name() string                    { return "raw" }
