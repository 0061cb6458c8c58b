package objectarium

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunnelmesh/objectarium/internal/codec"
	"github.com/tunnelmesh/objectarium/internal/digest"
)

func TestEndToEndScenario(t *testing.T) {
	s := NewState()
	cfg := passthroughBucket("B")
	cfg.Limits.MaxBucketSize = 1000
	b := createBucket(t, s, alice, cfg)

	bytes600 := bytes.Repeat([]byte{0x42}, 600)

	h1 := store(t, s, b, alice, bytes600)
	assert.Equal(t, uint64(600), stat(t, s, b).Size)

	assert.Equal(t, h1, store(t, s, b, alice, bytes600))
	assert.Equal(t, uint64(600), stat(t, s, b).Size)

	res := execute(t, s, Op{Kind: OpPin, Bucket: b, Object: h1, Actor: alice})
	assert.True(t, res.Pin.NewlyPinned)
	assert.Equal(t, uint64(1), pinCount(t, s, b, h1))

	err := executeErr(t, s, Op{Kind: OpForget, Bucket: b, Object: h1, Actor: alice})
	var pinned *PinnedError
	require.ErrorAs(t, err, &pinned)
	assert.Equal(t, uint64(1), pinned.Count)
	assert.Equal(t, uint64(600), stat(t, s, b).Size)

	res = execute(t, s, Op{Kind: OpUnpin, Bucket: b, Object: h1, Actor: alice})
	assert.True(t, res.Unpin.WasPinned)
	assert.Equal(t, uint64(0), pinCount(t, s, b, h1))

	execute(t, s, Op{Kind: OpForget, Bucket: b, Object: h1, Actor: alice})
	assert.Equal(t, uint64(0), stat(t, s, b).Size)

	_, ok := s.Get(b, h1)
	assert.False(t, ok)
	require.NoError(t, s.CheckConservation())
}

func TestStoreIdempotent(t *testing.T) {
	s := NewState()
	b := createBucket(t, s, alice, DefaultBucketConfig("b"))

	for _, content := range [][]byte{{0}, []byte("hello"), bytes.Repeat([]byte("xyz"), 5000)} {
		first := store(t, s, b, alice, content)
		before := stat(t, s, b)
		version := s.Version()

		diff, res, err := s.Execute(Op{Kind: OpStore, Bucket: b, Actor: bob, Data: content, Time: epoch})
		require.NoError(t, err)
		assert.Equal(t, first, res.Store.ID)
		assert.True(t, res.Store.Deduplicated)
		assert.True(t, diff.Empty())
		assert.Equal(t, version, s.Version())
		assert.Equal(t, before, stat(t, s, b))

		o, err := s.Object(b, first)
		require.NoError(t, err)
		assert.Equal(t, alice, o.Owner, "dedup hits never change the owner")
	}
}

func TestStoreObjectRecord(t *testing.T) {
	s := NewState()
	cfg := DefaultBucketConfig("b")
	cfg.AcceptedCompressions = []codec.Algorithm{codec.Zstd, codec.Passthrough}
	cfg.HashAlgorithm = digest.BLAKE3
	b := createBucket(t, s, alice, cfg)

	content := bytes.Repeat([]byte("compress me "), 200)
	id := store(t, s, b, alice, content)
	assert.Equal(t, ObjectID(digest.BLAKE3.Hex(content)), id)

	o, err := s.Object(b, id)
	require.NoError(t, err)
	assert.Equal(t, codec.Zstd, o.Compression, "first accepted algorithm is the default")
	assert.Equal(t, uint64(len(content)), o.Size)
	assert.Less(t, o.CompressedSize, o.Size)
	assert.Equal(t, b, o.Bucket)

	st := stat(t, s, b)
	assert.Equal(t, BucketStat{Size: o.Size, CompressedSize: o.CompressedSize, ObjectCount: 1}, st)
}

func TestStoreExplicitCompression(t *testing.T) {
	s := NewState()
	b := createBucket(t, s, alice, DefaultBucketConfig("b"))

	res := execute(t, s, Op{Kind: OpStore, Bucket: b, Actor: alice, Data: []byte("lz4 please"), Compression: codec.LZ4})
	o, err := s.Object(b, res.Store.ID)
	require.NoError(t, err)
	assert.Equal(t, codec.LZ4, o.Compression)
}

func TestStoreErrors(t *testing.T) {
	s := NewState()
	cfg := DefaultBucketConfig("b")
	cfg.AcceptedCompressions = []codec.Algorithm{codec.Passthrough, codec.Snappy}
	b := createBucket(t, s, alice, cfg)

	err := executeErr(t, s, Op{Kind: OpStore, Bucket: "nope", Actor: alice, Data: []byte("x")})
	assert.ErrorIs(t, err, ErrBucketNotFound)

	err = executeErr(t, s, Op{Kind: OpStore, Bucket: b, Actor: alice, Data: nil})
	assert.ErrorIs(t, err, ErrEmptyContent)

	err = executeErr(t, s, Op{Kind: OpStore, Bucket: b, Actor: "", Data: []byte("x")})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	err = executeErr(t, s, Op{Kind: OpStore, Bucket: b, Actor: alice, Data: []byte("x"), Compression: codec.Gzip})
	var uce *UnsupportedCompressionError
	require.ErrorAs(t, err, &uce)
	assert.Equal(t, codec.Gzip, uce.Requested)
	assert.Equal(t, []codec.Algorithm{codec.Passthrough, codec.Snappy}, uce.Accepted)
	assert.True(t, IsDenied(err))
}

func TestStoreQuotaBoundary(t *testing.T) {
	s := NewState()
	cfg := passthroughBucket("b")
	cfg.Limits.MaxBucketSize = 1000
	b := createBucket(t, s, alice, cfg)

	store(t, s, b, alice, bytes.Repeat([]byte{1}, 600))

	err := executeErr(t, s, Op{Kind: OpStore, Bucket: b, Actor: alice, Data: bytes.Repeat([]byte{2}, 401)})
	var qe *QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, LimitBucketSize, qe.Limit)
	assert.Equal(t, uint64(1000), qe.Max)
	assert.Equal(t, uint64(1001), qe.Attempted)
	assert.Equal(t, uint64(600), stat(t, s, b).Size)

	store(t, s, b, alice, bytes.Repeat([]byte{3}, 400))
	assert.Equal(t, uint64(1000), stat(t, s, b).Size)
}

func TestStoreQuotaUsesRawSize(t *testing.T) {
	s := NewState()
	cfg := DefaultBucketConfig("b")
	cfg.AcceptedCompressions = []codec.Algorithm{codec.Zstd}
	cfg.Limits.MaxBucketSize = 1000
	b := createBucket(t, s, alice, cfg)

	// Compresses to a few bytes but is 1001 bytes raw
	err := executeErr(t, s, Op{Kind: OpStore, Bucket: b, Actor: alice, Data: make([]byte, 1001)})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestStoreObjectLimits(t *testing.T) {
	s := NewState()
	cfg := DefaultBucketConfig("b")
	cfg.Limits = Limits{MaxObjectSize: 10, MaxObjectCount: 2}
	b := createBucket(t, s, alice, cfg)

	var qe *QuotaExceededError
	err := executeErr(t, s, Op{Kind: OpStore, Bucket: b, Actor: alice, Data: make([]byte, 11)})
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, LimitObjectSize, qe.Limit)

	store(t, s, b, alice, []byte("one"))
	store(t, s, b, alice, []byte("two"))
	err = executeErr(t, s, Op{Kind: OpStore, Bucket: b, Actor: alice, Data: []byte("three")})
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, LimitObjectCount, qe.Limit)

	// A dedup hit does not count against the limits
	store(t, s, b, bob, []byte("one"))
}

func TestStoreWithPin(t *testing.T) {
	s := NewState()
	b := createBucket(t, s, alice, DefaultBucketConfig("b"))

	res := execute(t, s, Op{Kind: OpStore, Bucket: b, Actor: alice, Data: []byte("keep"), Pin: true})
	assert.True(t, res.Store.Pinned)
	assert.False(t, res.Store.Deduplicated)
	assert.Equal(t, uint64(1), pinCount(t, s, b, res.Store.ID))

	res = execute(t, s, Op{Kind: OpStore, Bucket: b, Actor: bob, Data: []byte("keep"), Pin: true})
	assert.True(t, res.Store.Deduplicated)
	assert.True(t, res.Store.Pinned)
	assert.Equal(t, uint64(2), pinCount(t, s, b, res.Store.ID))

	res = execute(t, s, Op{Kind: OpStore, Bucket: b, Actor: bob, Data: []byte("keep"), Pin: true})
	assert.False(t, res.Store.Pinned, "already pinned by bob")
	assert.Equal(t, uint64(2), pinCount(t, s, b, res.Store.ID))
}

func TestStoreWithPinRespectsPinLimit(t *testing.T) {
	s := NewState()
	cfg := DefaultBucketConfig("b")
	cfg.Limits.MaxObjectPins = 1
	b := createBucket(t, s, alice, cfg)

	execute(t, s, Op{Kind: OpStore, Bucket: b, Actor: alice, Data: []byte("x"), Pin: true})
	err := executeErr(t, s, Op{Kind: OpStore, Bucket: b, Actor: bob, Data: []byte("x"), Pin: true})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestSameContentInTwoBuckets(t *testing.T) {
	s := NewState()
	b1 := createBucket(t, s, alice, DefaultBucketConfig("one"))
	b2 := createBucket(t, s, alice, DefaultBucketConfig("two"))

	id1 := store(t, s, b1, alice, []byte("shared"))
	id2 := store(t, s, b2, bob, []byte("shared"))
	assert.Equal(t, id1, id2)

	execute(t, s, Op{Kind: OpForget, Bucket: b1, Object: id1, Actor: alice})

	_, ok := s.Get(b1, id1)
	assert.False(t, ok)
	meta, ok := s.Get(b2, id2)
	require.True(t, ok)
	assert.Equal(t, bob, meta.Owner)
}

func TestObjectMetadataJSON(t *testing.T) {
	data, err := json.Marshal(ObjectMetadata{ID: "ab", Owner: alice, IsPinned: true, Size: 3, CompressedSize: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"ab","owner":"alice","is_pinned":true,"size":3,"compressed_size":2}`, string(data))
}
