package hashcodec

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Codec identifies the framing applied to a byte string. It is stored as a
// single tag byte immediately preceding the frame.
type Codec byte

const (
	CodecRaw  Codec = 0x00
	CodecZstd Codec = 0x01
	CodecGzip Codec = 0x02
)

// String returns the codec's lowercase name, for logging.
func (c Codec) String() string {
	switch c {
	case CodecRaw:
		return "raw"
	case CodecZstd:
		return "zstd"
	case CodecGzip:
		return "gzip"
	default:
		return fmt.Sprintf("codec(%#02x)", byte(c))
	}
}

// ErrUnknownCodec is returned by Decompress when the tag byte names no
// supported frame.
var ErrUnknownCodec = errors.New("hashcodec: unknown codec")

// zstdDec is a package-level decoder: concurrent-safe and always available.
var zstdDec *zstd.Decoder

func init() {
	var err error
	zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("hashcodec: init zstd decoder: " + err.Error())
	}
}

// Compress frames b under codec, prefixed with the one-byte codec tag. level
// is interpreted as a zstd.EncoderLevel ordinal for CodecZstd and as a
// compress/flate level for CodecGzip; it is ignored for CodecRaw.
func Compress(b []byte, codec Codec, level int) ([]byte, error) {
	frame, err := frameCompress(b, codec, level)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(frame)+1)
	out = append(out, byte(codec))
	return append(out, frame...), nil
}

// Decompress reads the codec tag byte from the front of b and returns the
// decoded payload.
func Decompress(b []byte) ([]byte, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("hashcodec: truncated codec frame")
	}
	return frameDecompress(b[1:], Codec(b[0]))
}

// frameCompress produces the codec's frame bytes alone, without the leading
// tag byte Compress adds. Used directly by the chunk blob encoder, which
// carries its own codec byte in the blob header.
func frameCompress(b []byte, codec Codec, level int) ([]byte, error) {
	switch codec {
	case CodecRaw:
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil

	case CodecZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
		if err != nil {
			return nil, fmt.Errorf("hashcodec: new zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(b, make([]byte, 0, len(b)/2+64)), nil

	case CodecGzip:
		var buf bytes.Buffer
		gw, err := gzip.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, fmt.Errorf("hashcodec: new gzip writer: %w", err)
		}
		if _, err := gw.Write(b); err != nil {
			gw.Close()
			return nil, fmt.Errorf("hashcodec: gzip write: %w", err)
		}
		if err := gw.Close(); err != nil {
			return nil, fmt.Errorf("hashcodec: gzip close: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}

func frameDecompress(frame []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecRaw:
		out := make([]byte, len(frame))
		copy(out, frame)
		return out, nil

	case CodecZstd:
		out, err := zstdDec.DecodeAll(frame, nil)
		if err != nil {
			return nil, fmt.Errorf("hashcodec: zstd decode: %w", err)
		}
		return out, nil

	case CodecGzip:
		gr, err := gzip.NewReader(bytes.NewReader(frame))
		if err != nil {
			return nil, fmt.Errorf("hashcodec: gzip open: %w", err)
		}
		defer gr.Close()
		out, err := io.ReadAll(gr)
		if err != nil {
			return nil, fmt.Errorf("hashcodec: gzip read: %w", err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}
