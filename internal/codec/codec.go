// Package codec implements the compression algorithms an object payload can be
// stored with. Every algorithm satisfies Decompress(Compress(x)) == x.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies a compression algorithm. The numeric values are
// persisted with object metadata and must not be reordered.
type Algorithm uint8

const (
	// Unspecified means "use the bucket default". It is never stored.
	Unspecified Algorithm = iota

	// Passthrough stores the payload as is.
	Passthrough

	// Snappy favours speed over ratio (block format).
	Snappy

	// LZ4 uses the LZ4 frame format.
	LZ4

	// Zstd uses zstd at the default speed level.
	Zstd

	// Gzip uses DEFLATE wrapped in a gzip stream.
	Gzip
)

// ErrUnknownAlgorithm is returned for algorithm values or names outside the
// supported set.
var ErrUnknownAlgorithm = errors.New("unknown compression algorithm")

// all lists the supported algorithms ordered by estimated CPU cost, cheapest
// first. Bucket defaults rely on this order.
var all = []Algorithm{Passthrough, Snappy, LZ4, Zstd, Gzip}

// All returns every supported algorithm, cheapest first.
func All() []Algorithm {
	out := make([]Algorithm, len(all))
	copy(out, all)
	return out
}

// String returns the lowercase name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case Unspecified:
		return "unspecified"
	case Passthrough:
		return "passthrough"
	case Snappy:
		return "snappy"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	case Gzip:
		return "gzip"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// Valid reports whether a is a concrete supported algorithm.
func (a Algorithm) Valid() bool {
	return a >= Passthrough && a <= Gzip
}

// Parse parses an algorithm name. Matching is case-insensitive and accepts
// "none" and "identity" as aliases for passthrough.
func Parse(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "passthrough", "none", "identity":
		return Passthrough, nil
	case "snappy":
		return Snappy, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	case "gzip", "deflate":
		return Gzip, nil
	default:
		return Unspecified, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Algorithm) MarshalText() ([]byte, error) {
	if a != Unspecified && !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, uint8(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Algorithm) UnmarshalText(text []byte) error {
	if string(text) == "unspecified" || len(text) == 0 {
		*a = Unspecified
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Compress returns data compressed with a. The input slice is never
// retained by the result.
func (a Algorithm) Compress(data []byte) ([]byte, error) {
	switch a {
	case Passthrough:
		return bytes.Clone(nonNil(data)), nil
	case Snappy:
		return snappy.Encode(nil, data), nil
	case LZ4:
		return compressLZ4(data)
	case Zstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case Gzip:
		return compressGzip(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, a)
	}
}

// Decompress reverses Compress. data must have been produced by the same
// algorithm.
func (a Algorithm) Decompress(data []byte) ([]byte, error) {
	switch a {
	case Passthrough:
		return bytes.Clone(nonNil(data)), nil
	case Snappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("snappy decompress: %w", err)
		}
		return out, nil
	case LZ4:
		return readAll("lz4", lz4.NewReader(bytes.NewReader(data)))
	case Zstd:
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip decompress: %w", err)
		}
		defer func() { _ = r.Close() }()
		return readAll("gzip", r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, a)
	}
}

// zstdEncoder and zstdDecoder are shared; both are safe for concurrent use
// through EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	return buf.Bytes(), nil
}

func compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	return buf.Bytes(), nil
}

func readAll(name string, r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", name, err)
	}
	return out, nil
}

func nonNil(data []byte) []byte {
	if data == nil {
		return []byte{}
	}
	return data
}
