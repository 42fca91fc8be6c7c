package grpc

import (
	"errors"
	"io"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
)

// ZstdName is the grpc-encoding identifier for zstd compressed messages.
const ZstdName = "zstd"

func init() {
	encoding.RegisterCompressor(zstdCompressor{})
}

// zstdCompressor lets admin clients request zstd with grpc.UseCompressor(ZstdName).
type zstdCompressor struct{}

// Name reports the identifier advertised in the grpc-encoding header.
func (zstdCompressor) Name() string { return ZstdName }

// Compress wraps w in a zstd encoder.
func (zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
}

// Decompress wraps r in a zstd decoder that releases itself at end of stream.
func (zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	decoder, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &zstdReader{decoder: decoder}, nil
}

type zstdReader struct {
	decoder *zstd.Decoder
	done    bool
}

func (z *zstdReader) Read(p []byte) (int, error) {
	if z.done {
		return 0, io.EOF
	}
	n, err := z.decoder.Read(p)
	if errors.Is(err, io.EOF) {
		//1.- Release decoder resources as soon as the message is drained.
		z.done = true
		z.decoder.Close()
	}
	return n, err
}
