package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// StorageKey prepends prefix to key. The result never aliases key.
func StorageKey(prefix string, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}

// OffsetKey is the storage key holding the flushed position of a partition.
func OffsetKey(prefix, topic string, partition int32) []byte {
	return []byte(prefix + topic + "." + strconv.FormatInt(int64(partition), 10))
}

// Redact returns a short stable digest of key for logs.
func Redact(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:8])
}
