// Package compress provides the payload compression codecs shared by
// the HTTP ingest (decode side) and the HTTP summary exporter (encode
// side).
package compress

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// ErrSizeLimit is returned by DecompressLimit when the decompressed
// payload would exceed the given limit.
var ErrSizeLimit = errors.New("decompressed payload exceeds size limit")

// Supported algorithm names.
const (
	None   = "none"
	Gzip   = "gzip"
	Zstd   = "zstd"
	Zlib   = "zlib"
	Snappy = "snappy"
)

// Codec compresses and decompresses payloads with one algorithm.
type Codec struct {
	algorithm string
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// New creates a Codec for the named algorithm. The empty string means
// no compression.
func New(algorithm string) (*Codec, error) {
	c := &Codec{algorithm: algorithm}

	// zstd coders are expensive to construct, so build them once.
	if algorithm == Zstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		dec, err := zstd.NewReader(nil)
		if err != nil {
			enc.Close()

			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}

		c.encoder = enc
		c.decoder = dec
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// FromContentEncoding creates a Codec matching an HTTP
// Content-Encoding header value. An empty or "identity" encoding
// yields the pass-through codec.
func FromContentEncoding(encoding string) (*Codec, error) {
	switch encoding {
	case "", "identity":
		return New(None)
	case "deflate":
		return New(Zlib)
	case Gzip, Zstd, Snappy:
		return New(encoding)
	}

	return nil, fmt.Errorf("unsupported content encoding: %s", encoding)
}

func (c *Codec) validate() error {
	switch c.algorithm {
	case "", None, Gzip, Zstd, Zlib, Snappy:
		return nil
	}

	return fmt.Errorf("unsupported compression algorithm: %s", c.algorithm)
}

// ContentEncoding returns the Content-Encoding header value for the
// algorithm, or "" for pass-through.
func (c *Codec) ContentEncoding() string {
	switch c.algorithm {
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case Zlib:
		return "deflate"
	case Snappy:
		return "snappy"
	}

	return ""
}

// Compress encodes data with the configured algorithm.
func (c *Codec) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case "", None:
		return data, nil
	case Gzip:
		return writerCompress(data, gzip.NewWriter)
	case Zstd:
		return c.encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
	case Zlib:
		return writerCompress(data, zlib.NewWriter)
	case Snappy:
		return snappy.Encode(nil, data), nil
	}

	return nil, fmt.Errorf("unsupported compression algorithm: %s", c.algorithm)
}

// Decompress decodes data produced by the same algorithm with no
// bound on the output size. Only safe for trusted payloads.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	return c.DecompressLimit(data, -1)
}

// DecompressLimit decodes data produced by the same algorithm,
// returning ErrSizeLimit when the decompressed output would exceed
// limit bytes. A negative limit disables the bound. Decompression is
// streamed so an over-limit payload never materialises in full.
func (c *Codec) DecompressLimit(data []byte, limit int64) ([]byte, error) {
	switch c.algorithm {
	case "", None:
		if limit >= 0 && int64(len(data)) > limit {
			return nil, ErrSizeLimit
		}

		return data, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer r.Close()

		return readLimited(r, limit)
	case Zstd:
		if err := c.decoder.Reset(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("zstd reset: %w", err)
		}

		return readLimited(c.decoder, limit)
	case Zlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib reader: %w", err)
		}
		defer r.Close()

		return readLimited(r, limit)
	case Snappy:
		// Block format carries the decoded length up front, so the
		// bound can be checked before allocating.
		n, err := snappy.DecodedLen(data)
		if err != nil {
			return nil, fmt.Errorf("snappy length: %w", err)
		}

		if limit >= 0 && int64(n) > limit {
			return nil, ErrSizeLimit
		}

		return snappy.Decode(nil, data)
	}

	return nil, fmt.Errorf("unsupported compression algorithm: %s", c.algorithm)
}

// readLimited drains r, failing with ErrSizeLimit once more than
// limit bytes have been produced.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit < 0 {
		return io.ReadAll(r)
	}

	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}

	if int64(len(out)) > limit {
		return nil, ErrSizeLimit
	}

	return out, nil
}

// Close releases the zstd coders, if any.
func (c *Codec) Close() error {
	if c.decoder != nil {
		c.decoder.Close()
	}

	if c.encoder != nil {
		return c.encoder.Close()
	}

	return nil
}

// writerCompress runs data through a streaming compressor constructor
// like gzip.NewWriter or zlib.NewWriter.
func writerCompress[W io.WriteCloser](data []byte, newWriter func(io.Writer) W) ([]byte, error) {
	var buf bytes.Buffer

	w := newWriter(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress write: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress close: %w", err)
	}

	return buf.Bytes(), nil
}
