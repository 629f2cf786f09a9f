package bodycache

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrCacheCorrupt is returned when a stored body cannot be decoded. Callers
// treat it as a cache miss.
var ErrCacheCorrupt = errors.New("cached body is corrupt")

// payload is the stored form of a body
type payload struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

func compress(p payload) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(p); err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress body: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(b []byte) (payload, error) {
	var p payload
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	return p, nil
}
