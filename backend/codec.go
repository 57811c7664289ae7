package backend

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Serialized entry layout shared by the disk and remote backends: an 8-byte
// big-endian expiry in unix milliseconds followed by the msgpack encoding of
// the value. Keeping the expiry in a fixed prefix lets sweeps and eviction
// scans read it without decoding values.

const expiryPrefixLen = 8

// EncodeEntry serializes value together with its absolute expiry.
func EncodeEntry(value any, expiry time.Time) ([]byte, error) {
	body, err := msgpack.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding cache value: %w", err)
	}
	buf := make([]byte, expiryPrefixLen+len(body))
	binary.BigEndian.PutUint64(buf[:expiryPrefixLen], uint64(expiry.UnixMilli()))
	copy(buf[expiryPrefixLen:], body)
	return buf, nil
}

// DecodeExpiry reads the expiry of a serialized entry without decoding the
// value.
func DecodeExpiry(raw []byte) (time.Time, error) {
	if len(raw) < expiryPrefixLen {
		return time.Time{}, fmt.Errorf("cache entry truncated: %d bytes", len(raw))
	}
	ms := int64(binary.BigEndian.Uint64(raw[:expiryPrefixLen]))
	return time.UnixMilli(ms), nil
}

// DecodeEntry deserializes a stored entry into its value and expiry.
func DecodeEntry(raw []byte) (any, time.Time, error) {
	expiry, err := DecodeExpiry(raw)
	if err != nil {
		return nil, time.Time{}, err
	}
	var value any
	if err := msgpack.Unmarshal(raw[expiryPrefixLen:], &value); err != nil {
		return nil, time.Time{}, fmt.Errorf("decoding cache value: %w", err)
	}
	return value, expiry, nil
}

// EncodeValue serializes a bare value for backends whose store tracks expiry
// natively.
func EncodeValue(value any) ([]byte, error) {
	body, err := msgpack.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding cache value: %w", err)
	}
	return body, nil
}

// DecodeValue deserializes a bare value written by EncodeValue.
func DecodeValue(raw []byte) (any, error) {
	var value any
	if err := msgpack.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decoding cache value: %w", err)
	}
	return value, nil
}
