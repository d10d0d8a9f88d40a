package session

import "fmt"

// ConnectionError reports that a session could not be established.
// It is fatal to the session; nothing retries it internally.
type ConnectionError struct {
	Mode     Mode
	Endpoint string // the endpoint that failed; empty when unknown
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("session: %s connect to %s failed: %v", e.Mode, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("session: %s connect failed: %v", e.Mode, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// KeysError narrows a command failure to the keys it affected.
// Cluster variants return it when only some slot groups failed.
type KeysError struct {
	Keys [][]byte
	Err  error
}

func (e *KeysError) Error() string {
	return fmt.Sprintf("%d keys failed: %v", len(e.Keys), e.Err)
}

func (e *KeysError) Unwrap() error { return e.Err }
