package filedata

import (
	"github.com/klauspost/compress/s2"
)

// CompressionPolicy decides whether a blob is worth compressing at flush
// time: below MinSize the framing overhead isn't worth it, and a result
// that doesn't beat MinRatio of the original size is discarded in favor of
// storing the bytes raw.
type CompressionPolicy struct {
	MinSize  int
	MinRatio float64
}

// DefaultCompressionPolicy: blobs under 512 bytes are never compressed, and
// a compressed result must be at least 10% smaller than the original to be
// kept.
var DefaultCompressionPolicy = CompressionPolicy{
	MinSize:  512,
	MinRatio: 0.9,
}

// compressForFlush returns the bytes to write to disk and whether they are
// s2-compressed, applying policy to decide.
func compressForFlush(data []byte, policy CompressionPolicy) (out []byte, compressed bool) {
	if len(data) < policy.MinSize {
		return data, false
	}
	candidate := s2.Encode(nil, data)
	if float64(len(candidate)) > float64(len(data))*policy.MinRatio {
		return data, false
	}
	return candidate, true
}

func decompressFromDisk(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, err
	}
	return out, nil
}
