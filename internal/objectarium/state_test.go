package objectarium

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunnelmesh/objectarium/internal/codec"
	"github.com/tunnelmesh/objectarium/internal/digest"
)

func TestTxIsolation(t *testing.T) {
	s := NewState()
	b := createBucket(t, s, alice, DefaultBucketConfig("b"))
	before := s.Fingerprint()

	tx := s.Begin(epoch)
	res, err := Store(tx, b, alice, []byte("pending"), StoreOptions{Pin: true})
	require.NoError(t, err)

	// Visible inside the transaction only
	_, ok := tx.object(b, res.ID)
	assert.True(t, ok)
	_, ok = s.Get(b, res.ID)
	assert.False(t, ok)
	assert.Equal(t, before, s.Fingerprint())

	diff := tx.Commit()
	assert.Equal(t, s.Version()+1, diff.Version)
	require.NoError(t, s.Apply(diff))

	meta, ok := s.Get(b, res.ID)
	require.True(t, ok)
	assert.True(t, meta.IsPinned)
}

func TestDiffChangesSorted(t *testing.T) {
	s := NewState()
	tx := s.Begin(epoch)
	b, err := CreateBucket(tx, alice, DefaultBucketConfig("b"))
	require.NoError(t, err)
	_, err = Store(tx, b, alice, []byte("x"), StoreOptions{Pin: true})
	require.NoError(t, err)

	diff := tx.Commit()
	kinds := make([]EntryKind, 0, len(diff.Changes))
	for _, c := range diff.Changes {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []EntryKind{EntryBucket, EntryObject, EntryPayload, EntryPin}, kinds)
	require.NoError(t, s.Apply(diff))
	require.NoError(t, s.CheckConservation())
}

func TestApplyVersionMismatch(t *testing.T) {
	s := NewState()
	tx := s.Begin(epoch)
	_, err := CreateBucket(tx, alice, DefaultBucketConfig("b"))
	require.NoError(t, err)
	diff := tx.Commit()

	require.NoError(t, s.Apply(diff))
	assert.ErrorIs(t, s.Apply(diff), ErrVersionMismatch)
}

func TestApplyRejectsUnknownBucket(t *testing.T) {
	s := NewState()
	diff := &Diff{
		Version: 1,
		Changes: []Change{{Kind: EntryPin, Bucket: "ghost", Object: "x", Actor: alice}},
	}

	assert.ErrorIs(t, s.Apply(diff), ErrCorrupted)
	assert.Equal(t, uint64(0), s.Version())
}

func TestExecuteUnknownOp(t *testing.T) {
	s := NewState()
	err := executeErr(t, s, Op{Kind: "rename", Actor: alice})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// randomOps drives a state through a random mix of operations and returns
// the ops that succeeded, checking conservation after every step.
func randomOps(t *testing.T, s *State, seed int64, n int) []Op {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	actors := []Actor{alice, bob, carol}

	cfg := DefaultBucketConfig("fuzz")
	cfg.Limits = Limits{MaxBucketSize: 4096, MaxObjectCount: 12, MaxObjectPins: 2}
	cfg.AcceptedCompressions = []codec.Algorithm{codec.Passthrough, codec.Snappy, codec.Zstd}
	b := NewBucketID(alice, "fuzz")

	ops := []Op{{Kind: OpCreateBucket, Actor: alice, Config: &cfg, Time: epoch}}
	_, _, err := s.Execute(ops[0])
	require.NoError(t, err)

	var known []ObjectID
	for i := range n {
		op := Op{
			Actor: actors[rng.Intn(len(actors))],
			Time:  epoch.Add(time.Duration(i+1) * time.Second),
		}
		op.Bucket = b
		if len(known) > 0 {
			op.Object = known[rng.Intn(len(known))]
		}

		switch r := rng.Intn(10); {
		case r < 4 || len(known) == 0:
			op.Kind = OpStore
			op.Data = []byte(fmt.Sprintf("content-%d", rng.Intn(20)))
			if rng.Intn(3) == 0 {
				op.Data = make([]byte, 200+rng.Intn(800))
				rng.Read(op.Data)
			}
			op.Compression = cfg.AcceptedCompressions[rng.Intn(3)]
			op.Pin = rng.Intn(4) == 0
		case r < 6:
			op.Kind = OpPin
		case r < 8:
			op.Kind = OpUnpin
		case r < 9:
			op.Kind = OpForget
		default:
			op.Kind = OpForceForget
		}

		before := s.Fingerprint()
		_, res, err := s.Execute(op)
		if err != nil {
			assert.Equal(t, before, s.Fingerprint(), "failed %s changed state", op.Kind)
		} else {
			ops = append(ops, op)
			if op.Kind == OpStore {
				known = append(known, res.Store.ID)
			}
		}
		require.NoError(t, s.CheckConservation(), "after op %d (%s)", i, op.Kind)
	}
	return ops
}

func TestConservationUnderRandomOps(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		s := NewState()
		randomOps(t, s, seed, 300)

		info, err := s.Bucket(NewBucketID(alice, "fuzz"))
		require.NoError(t, err)

		var sum BucketStat
		page := Page[ObjectMetadata]{HasNextPage: true}
		for page.HasNextPage {
			page, err = s.List(info.ID, Filter{}, page.Cursor, 30)
			require.NoError(t, err)
			for _, m := range page.Items {
				sum.Size += m.Size
				sum.CompressedSize += m.CompressedSize
				sum.ObjectCount++
			}
		}
		assert.Equal(t, sum, info.Stat)
		assert.LessOrEqual(t, info.Stat.Size, uint64(4096))
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	s := NewState()
	ops := randomOps(t, s, 42, 200)

	replayed, err := Replay(ops)
	require.NoError(t, err)
	assert.Equal(t, s.Fingerprint(), replayed.Fingerprint())
	assert.Equal(t, s.Version(), replayed.Version())
}

func TestResubmittedOpsAreNoOps(t *testing.T) {
	s := NewState()
	b := createBucket(t, s, alice, DefaultBucketConfig("b"))
	id := ObjectID(digest.SHA256.Hex([]byte("x")))
	ops := []Op{
		{Kind: OpStore, Bucket: b, Actor: alice, Data: []byte("x"), Time: epoch},
		{Kind: OpPin, Bucket: b, Actor: bob, Object: id, Time: epoch},
		{Kind: OpUnpin, Bucket: b, Actor: carol, Object: id, Time: epoch},
	}

	for _, op := range ops {
		execute(t, s, op)
	}
	fp := s.Fingerprint()
	version := s.Version()

	for _, op := range ops {
		execute(t, s, op)
	}
	assert.Equal(t, fp, s.Fingerprint())
	assert.Equal(t, version, s.Version())
}

func TestRestoreRoundTrip(t *testing.T) {
	s := NewState()
	randomOps(t, s, 7, 150)

	restored, err := Restore(s.Version(), s.Entries())
	require.NoError(t, err)
	assert.Equal(t, s.Fingerprint(), restored.Fingerprint())
	assert.Equal(t, s.Version(), restored.Version())
	assert.Equal(t, s.Buckets(), restored.Buckets())
}

func TestRestoreRejectsInconsistentEntries(t *testing.T) {
	s := NewState()
	b := createBucket(t, s, alice, DefaultBucketConfig("b"))
	store(t, s, b, alice, []byte("x"))

	var entries []Change
	for _, c := range s.Entries() {
		if c.Kind != EntryPayload {
			entries = append(entries, c)
		}
	}
	_, err := Restore(s.Version(), entries)
	assert.ErrorIs(t, err, ErrCorrupted)
}
