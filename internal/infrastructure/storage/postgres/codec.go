package postgres

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compression names the algorithm of a stored payload.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// defaultCompressThreshold is the payload size from which zstd is used.
const defaultCompressThreshold = 2 * 1024

// Codec compresses metadata payloads and journal snapshots. EncodeAll and
// DecodeAll are safe for concurrent use.
type Codec struct {
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	threshold int
}

// NewCodec creates a codec compressing payloads of at least threshold bytes.
// A threshold <= 0 selects the default.
func NewCodec(threshold int) (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	if threshold <= 0 {
		threshold = defaultCompressThreshold
	}
	return &Codec{encoder: encoder, decoder: decoder, threshold: threshold}, nil
}

// Encode returns the stored form of b and its compression name.
func (c *Codec) Encode(b []byte) ([]byte, string) {
	if len(b) < c.threshold {
		return b, CompressionNone
	}
	return c.encoder.EncodeAll(b, make([]byte, 0, len(b)/2)), CompressionZstd
}

// Decode reverses Encode.
func (c *Codec) Decode(b []byte, algo string) ([]byte, error) {
	switch algo {
	case "", CompressionNone:
		return b, nil
	case CompressionZstd:
		out, err := c.decoder.DecodeAll(b, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress payload: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", algo)
	}
}
