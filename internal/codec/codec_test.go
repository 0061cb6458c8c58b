package codec

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTripInputs() map[string][]byte {
	rng := rand.New(rand.NewSource(42))
	random := make([]byte, 64*1024)
	_, _ = rng.Read(random)

	return map[string][]byte{
		"empty":      {},
		"single":     {0x7f},
		"text":       []byte("the quick brown fox jumps over the lazy dog"),
		"repetitive": bytes.Repeat([]byte("abcd"), 10_000),
		"zeros":      make([]byte, 4096),
		"random":     random,
	}
}

func TestRoundTrip(t *testing.T) {
	for _, algo := range All() {
		for name, input := range roundTripInputs() {
			t.Run(algo.String()+"/"+name, func(t *testing.T) {
				compressed, err := algo.Compress(input)
				require.NoError(t, err)

				out, err := algo.Decompress(compressed)
				require.NoError(t, err)
				assert.True(t, bytes.Equal(input, out), "round trip mismatch for %s", algo)
			})
		}
	}
}

func TestCompressDoesNotAliasInput(t *testing.T) {
	input := []byte("payload")
	out, err := Passthrough.Compress(input)
	require.NoError(t, err)

	out[0] = 'X'
	assert.Equal(t, []byte("payload"), input)
}

func TestCompressionShrinksRepetitiveData(t *testing.T) {
	input := bytes.Repeat([]byte("objectarium "), 2_000)

	for _, algo := range []Algorithm{Snappy, LZ4, Zstd, Gzip} {
		compressed, err := algo.Compress(input)
		require.NoError(t, err)
		assert.Less(t, len(compressed), len(input), "%s should shrink repetitive input", algo)
	}
}

func TestDecompressCorrupted(t *testing.T) {
	garbage := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01, 0x02}

	for _, algo := range []Algorithm{Snappy, LZ4, Zstd, Gzip} {
		_, err := algo.Decompress(garbage)
		assert.Error(t, err, "%s should reject garbage", algo)
	}
}

func TestUnknownAlgorithm(t *testing.T) {
	_, err := Algorithm(200).Compress([]byte("x"))
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)

	_, err = Unspecified.Decompress([]byte("x"))
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Algorithm
	}{
		{"passthrough", Passthrough},
		{"none", Passthrough},
		{"Identity", Passthrough},
		{"snappy", Snappy},
		{"LZ4", LZ4},
		{" zstd ", Zstd},
		{"gzip", Gzip},
		{"deflate", Gzip},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Parse("lzma")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestStringParseSymmetry(t *testing.T) {
	for _, algo := range All() {
		parsed, err := Parse(algo.String())
		require.NoError(t, err)
		assert.Equal(t, algo, parsed)
	}
}

func TestAllIsCopy(t *testing.T) {
	first := All()
	first[0] = Gzip
	assert.Equal(t, Passthrough, All()[0])
}

func TestValid(t *testing.T) {
	assert.False(t, Unspecified.Valid())
	assert.True(t, Passthrough.Valid())
	assert.True(t, Gzip.Valid())
	assert.False(t, Algorithm(42).Valid())
}

func TestJSONText(t *testing.T) {
	data, err := json.Marshal([]Algorithm{Passthrough, Zstd})
	require.NoError(t, err)
	assert.JSONEq(t, `["passthrough","zstd"]`, string(data))

	var decoded []Algorithm
	require.NoError(t, json.Unmarshal([]byte(`["lz4","snappy"]`), &decoded))
	assert.Equal(t, []Algorithm{LZ4, Snappy}, decoded)
}
