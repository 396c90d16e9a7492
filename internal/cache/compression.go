package cache

import (
	"github.com/klauspost/compress/zstd"
)

// A /states/all payload is several megabytes of JSON that compresses well,
// so entries are held zstd compressed. EncodeAll and DecodeAll are safe for
// concurrent use, so one encoder and decoder serve every cache.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

func compress(raw []byte) []byte {
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func decompress(payload []byte) ([]byte, error) {
	return decoder.DecodeAll(payload, nil)
}
