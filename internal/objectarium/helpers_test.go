package objectarium

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tunnelmesh/objectarium/internal/codec"
)

const (
	alice Actor = "alice"
	bob   Actor = "bob"
	carol Actor = "carol"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func execute(t *testing.T, s *State, op Op) Result {
	t.Helper()
	if op.Time.IsZero() {
		op.Time = epoch.Add(time.Duration(s.Version()) * time.Second)
	}
	_, res, err := s.Execute(op)
	require.NoError(t, err)
	return res
}

func executeErr(t *testing.T, s *State, op Op) error {
	t.Helper()
	if op.Time.IsZero() {
		op.Time = epoch
	}
	before := s.Fingerprint()
	version := s.Version()

	diff, _, err := s.Execute(op)
	require.Error(t, err)
	require.Nil(t, diff)
	require.Equal(t, version, s.Version(), "failed op must not bump the version")
	require.Equal(t, before, s.Fingerprint(), "failed op must not change state")
	return err
}

func createBucket(t *testing.T, s *State, owner Actor, cfg BucketConfig) BucketID {
	t.Helper()
	return execute(t, s, Op{Kind: OpCreateBucket, Actor: owner, Config: &cfg}).Bucket
}

// passthroughBucket makes sizes and compressed sizes equal.
func passthroughBucket(name string) BucketConfig {
	cfg := DefaultBucketConfig(name)
	cfg.AcceptedCompressions = []codec.Algorithm{codec.Passthrough}
	return cfg
}

func store(t *testing.T, s *State, bucket BucketID, actor Actor, data []byte) ObjectID {
	t.Helper()
	return execute(t, s, Op{Kind: OpStore, Bucket: bucket, Actor: actor, Data: data}).Store.ID
}

func stat(t *testing.T, s *State, bucket BucketID) BucketStat {
	t.Helper()
	info, err := s.Bucket(bucket)
	require.NoError(t, err)
	return info.Stat
}

func pinCount(t *testing.T, s *State, bucket BucketID, id ObjectID) uint64 {
	t.Helper()
	n, err := s.PinCount(bucket, id)
	require.NoError(t, err)
	return n
}
