package codec

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/pkg/errors"

	"github.com/saiset-co/sai-cache/types"
)

const (
	AlgorithmGzip    = "gzip"
	AlgorithmDeflate = "deflate"
	AlgorithmBrotli  = "br"
	DefaultLevel     = 6
	DefaultThreshold = 1024
)

type Config struct {
	Algorithm string `json:"algorithm"`
	Level     int    `json:"level"`
	Threshold int    `json:"threshold"`
}

func DefaultConfig() *Config {
	return &Config{
		Algorithm: AlgorithmBrotli,
		Level:     DefaultLevel,
		Threshold: DefaultThreshold,
	}
}

// Codec compresses serialized payloads. It is safe for concurrent use.
type Codec struct {
	config         *Config
	writerPool     sync.Pool
	bufferPool     sync.Pool
	compressFunc   func(w io.Writer, data []byte) error
	decompressFunc func(r io.Reader) (io.ReadCloser, error)
}

func New(config *Config) (*Codec, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	c := &Codec{
		config: config,
		bufferPool: sync.Pool{
			New: func() interface{} { return bytes.NewBuffer(make([]byte, 0, 4096)) },
		},
	}

	switch config.Algorithm {
	case AlgorithmBrotli:
		c.writerPool.New = func() interface{} { return brotli.NewWriterLevel(nil, config.Level) }
		c.compressFunc = c.compressBrotli
		c.decompressFunc = func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(brotli.NewReader(r)), nil
		}
	case AlgorithmGzip:
		c.writerPool.New = func() interface{} {
			w, _ := gzip.NewWriterLevel(nil, config.Level)
			return w
		}
		c.compressFunc = c.compressGzip
		c.decompressFunc = func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		}
	case AlgorithmDeflate:
		c.writerPool.New = func() interface{} {
			w, _ := flate.NewWriter(nil, config.Level)
			return w
		}
		c.compressFunc = c.compressDeflate
		c.decompressFunc = func(r io.Reader) (io.ReadCloser, error) {
			return flate.NewReader(r), nil
		}
	}

	return c, nil
}

func validateConfig(config *Config) error {
	if config.Threshold < 0 {
		return types.Errorf(types.ErrInvalidParameter, "threshold %d must be >= 0", config.Threshold)
	}

	switch config.Algorithm {
	case AlgorithmBrotli:
		if config.Level < brotli.BestSpeed || config.Level > brotli.BestCompression {
			return types.Errorf(types.ErrInvalidParameter, "brotli level %d out of range", config.Level)
		}
	case AlgorithmGzip, AlgorithmDeflate:
		if config.Level < flate.HuffmanOnly || config.Level > flate.BestCompression {
			return types.Errorf(types.ErrInvalidParameter, "%s level %d out of range", config.Algorithm, config.Level)
		}
	default:
		return types.Errorf(types.ErrCodecAlgorithmUnknown, "algorithm: %s", config.Algorithm)
	}

	return nil
}

func (c *Codec) Algorithm() string { return c.config.Algorithm }
func (c *Codec) Threshold() int    { return c.config.Threshold }

// ShouldCompress reports whether a payload of size bytes is stored compressed under policy.
func (c *Codec) ShouldCompress(policy types.CachePolicy, size int) bool {
	return policy.Compress && size > c.config.Threshold
}

func (c *Codec) Compress(data []byte) ([]byte, error) {
	buf := c.getBuffer()
	defer c.putBuffer(buf)

	if err := c.compressFunc(buf, data); err != nil {
		return nil, errors.WithStack(types.Errorf(types.ErrCompressionFailed, "%s compress: %v", c.config.Algorithm, err))
	}

	return append([]byte(nil), buf.Bytes()...), nil
}

func (c *Codec) Decompress(data []byte) ([]byte, error) {
	reader, err := c.decompressFunc(bytes.NewReader(data))
	if err != nil {
		return nil, errors.WithStack(types.Errorf(types.ErrCompressionFailed, "%s decompress: %v", c.config.Algorithm, err))
	}
	defer reader.Close()

	buf := c.getBuffer()
	defer c.putBuffer(buf)

	if _, err := io.Copy(buf, reader); err != nil {
		return nil, errors.WithStack(types.Errorf(types.ErrCompressionFailed, "%s decompress: %v", c.config.Algorithm, err))
	}

	return append([]byte(nil), buf.Bytes()...), nil
}

// Encode applies the compression rule of policy to raw.
func (c *Codec) Encode(policy types.CachePolicy, raw []byte) ([]byte, bool, error) {
	if !c.ShouldCompress(policy, len(raw)) {
		return raw, false, nil
	}

	compressed, err := c.Compress(raw)
	if err != nil {
		return nil, false, err
	}

	return compressed, true, nil
}

func (c *Codec) Decode(payload []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return payload, nil
	}
	return c.Decompress(payload)
}

func (c *Codec) compressBrotli(w io.Writer, data []byte) error {
	writer := c.writerPool.Get().(*brotli.Writer)
	defer c.writerPool.Put(writer)

	writer.Reset(w)
	if _, err := writer.Write(data); err != nil {
		return err
	}
	return writer.Close()
}

func (c *Codec) compressGzip(w io.Writer, data []byte) error {
	writer := c.writerPool.Get().(*gzip.Writer)
	defer c.writerPool.Put(writer)

	writer.Reset(w)
	if _, err := writer.Write(data); err != nil {
		return err
	}
	return writer.Close()
}

func (c *Codec) compressDeflate(w io.Writer, data []byte) error {
	writer := c.writerPool.Get().(*flate.Writer)
	defer c.writerPool.Put(writer)

	writer.Reset(w)
	if _, err := writer.Write(data); err != nil {
		return err
	}
	return writer.Close()
}

func (c *Codec) getBuffer() *bytes.Buffer {
	return c.bufferPool.Get().(*bytes.Buffer)
}

func (c *Codec) putBuffer(buf *bytes.Buffer) {
	buf.Reset()
	if buf.Cap() <= 1<<20 {
		c.bufferPool.Put(buf)
	}
}
