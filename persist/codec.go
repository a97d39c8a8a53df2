package persist

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/alexjoedt/docpub/document"
)

// bodyEncoding is stored with every row so the format can change later.
const bodyEncoding = "json+zstd"

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder
}

func zstdDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return decoder
}

func encodeBody(body document.Document) ([]byte, error) {
	raw, err := body.Serialize()
	if err != nil {
		return nil, err
	}
	return zstdEncoder().EncodeAll(raw, nil), nil
}

func decodeBody(encoding string, data []byte) (document.Document, error) {
	if encoding != bodyEncoding {
		return document.Document{}, fmt.Errorf("unsupported body encoding %q", encoding)
	}
	raw, err := zstdDecoder().DecodeAll(data, nil)
	if err != nil {
		return document.Document{}, fmt.Errorf("decompressing body: %w", err)
	}
	return document.Deserialize(raw)
}
