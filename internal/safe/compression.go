// internal/safe/compression.go
package safe

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// CompressionOptions configures compression behavior
type CompressionOptions struct {
	// Minimum size in bytes before compressing
	MinSize int
	// Compression level (1=fastest, 4=best)
	Level int
	// Payloads above this size are compressed as a stream
	StreamingThreshold int64
}

// DefaultCompressionOptions provides sensible defaults
func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		MinSize:            1024,             // 1KB
		Level:              2,                // Balanced speed/compression
		StreamingThreshold: 50 * 1024 * 1024, // 50MB
	}
}

// Codec compresses payloads with pooled zstd encoders. It is shared by the
// blob store and the smart server's record streams.
type Codec struct {
	opts CompressionOptions

	encoders sync.Pool
	decoders sync.Pool
	bufs     sync.Pool
}

func NewCodec(opts CompressionOptions) (*Codec, error) {
	if opts.Level == 0 {
		opts.Level = DefaultCompressionOptions().Level
	}
	if opts.StreamingThreshold == 0 {
		opts.StreamingThreshold = DefaultCompressionOptions().StreamingThreshold
	}
	level := zstd.EncoderLevelFromZstd(opts.Level)

	// Validate the options once up front
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating test encoder: %w", err)
	}
	enc.Close()

	return &Codec{
		opts: opts,
		encoders: sync.Pool{
			New: func() interface{} {
				enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
				return enc
			},
		},
		decoders: sync.Pool{
			New: func() interface{} {
				dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				return dec
			},
		},
		bufs: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}, nil
}

// Compress returns content compressed, or unchanged when it is below MinSize.
func (c *Codec) Compress(content []byte) ([]byte, bool, error) {
	if len(content) < c.opts.MinSize {
		return content, false, nil
	}

	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)

	if int64(len(content)) > c.opts.StreamingThreshold {
		out, err := c.compressStream(enc, content)
		return out, err == nil, err
	}
	return enc.EncodeAll(content, make([]byte, 0, len(content)/2)), true, nil
}

func (c *Codec) compressStream(enc *zstd.Encoder, content []byte) ([]byte, error) {
	buf := c.bufs.Get().(*bytes.Buffer)
	defer c.bufs.Put(buf)
	buf.Reset()

	enc.Reset(buf)
	if _, err := io.Copy(enc, bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("streaming compression: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalizing compression: %w", err)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Decompress reverses Compress; content without the zstd magic is returned as is.
func (c *Codec) Decompress(content []byte) ([]byte, error) {
	if len(content) < 4 || !bytes.Equal(content[:4], zstdMagic) {
		return content, nil
	}

	dec := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(dec)

	if int64(len(content)) > c.opts.StreamingThreshold {
		return c.decompressStream(dec, content)
	}
	return dec.DecodeAll(content, nil)
}

func (c *Codec) decompressStream(dec *zstd.Decoder, content []byte) ([]byte, error) {
	if err := dec.Reset(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("resetting decoder: %w", err)
	}
	var out bytes.Buffer
	if _, err := io.Copy(&out, dec); err != nil {
		return nil, fmt.Errorf("streaming decompression: %w", err)
	}
	return out.Bytes(), nil
}
