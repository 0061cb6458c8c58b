package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunnelmesh/objectarium/internal/objectarium"
	"github.com/tunnelmesh/objectarium/testutil"
)

// cliEnv runs commands against one data directory.
type cliEnv struct {
	t       *testing.T
	dataDir string
}

func newCLIEnv(t *testing.T) *cliEnv {
	return &cliEnv{t: t, dataDir: t.TempDir()}
}

func (e *cliEnv) run(stdin []byte, args ...string) (string, error) {
	e.t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(bytes.NewReader(stdin))
	cmd.SetArgs(append([]string{"--data-dir", e.dataDir, "--no-sync", "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(nil, args...)
	require.NoError(e.t, err, out)
	return out
}

func (e *cliEnv) runJSON(v interface{}, args ...string) {
	e.t.Helper()
	out := e.mustRun(append([]string{"--json"}, args...)...)
	require.NoError(e.t, json.Unmarshal([]byte(out), v), out)
}

func TestCLIObjectLifecycle(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("--actor", "alice", "bucket", "create", "photos", "--compression", "zstd", "--compression", "passthrough")
	assert.Contains(t, out, `Bucket "photos" ready`)

	content := bytes.Repeat([]byte("objectarium "), 200)
	file := testutil.TempFile(t, t.TempDir(), "blob.txt", string(content))

	var stored objectarium.StoreResult
	env.runJSON(&stored, "--actor", "alice", "store", "photos", file, "--pin")
	assert.False(t, stored.Deduplicated)
	assert.True(t, stored.Pinned)
	require.NotEmpty(t, stored.ID)
	id := string(stored.ID)

	// Same content through stdin deduplicates.
	out, err := env.run(content, "--json", "--actor", "bob", "store", "photos", "-")
	require.NoError(t, err)
	var again objectarium.StoreResult
	require.NoError(t, json.Unmarshal([]byte(out), &again))
	assert.True(t, again.Deduplicated)
	assert.Equal(t, stored.ID, again.ID)

	assert.Contains(t, env.mustRun("--actor", "bob", "pin", "photos", id), "Pinned (2 pins)")

	var details objectDetails
	env.runJSON(&details, "get", "photos", id)
	assert.Equal(t, objectarium.Actor("alice"), details.Owner)
	assert.True(t, details.IsPinned)
	assert.Equal(t, uint64(2), details.PinCount)
	assert.Equal(t, uint64(len(content)), details.Size)
	assert.Less(t, details.CompressedSize, details.Size)
	assert.True(t, strings.HasPrefix(details.CID, "b"), "CIDv1 renders in base32")

	assert.Equal(t, string(content), env.mustRun("cat", "photos", id))

	var pins objectarium.Page[objectarium.Actor]
	env.runJSON(&pins, "pins", "photos", id)
	assert.Equal(t, []objectarium.Actor{"alice", "bob"}, pins.Items)

	_, err = env.run(nil, "--actor", "alice", "forget", "photos", id)
	assert.True(t, errors.Is(err, objectarium.ErrPinned))
	assert.Equal(t, 3, exitCode(err))

	assert.Contains(t, env.mustRun("--actor", "alice", "forget", "photos", id, "--force"), "dropped 2 pins")

	_, err = env.run(nil, "cat", "photos", id)
	assert.True(t, errors.Is(err, objectarium.ErrObjectNotFound))
	assert.Equal(t, 4, exitCode(err))

	assert.Contains(t, env.mustRun("verify"), "OK")
}

func TestCLIBucketInfoAndList(t *testing.T) {
	env := newCLIEnv(t)

	env.mustRun("--actor", "alice", "bucket", "create", "docs", "--max-bucket-size", "1KB", "--max-object-pins", "2", "--immutable")

	var info objectarium.BucketInfo
	env.runJSON(&info, "bucket", "info", "docs")
	assert.Equal(t, "docs", info.Config.Name)
	assert.Equal(t, uint64(1024), info.Config.Limits.MaxBucketSize)
	assert.Equal(t, uint64(2), info.Config.Limits.MaxObjectPins)
	assert.False(t, info.Config.Mutable)
	assert.Equal(t, int64(1024), info.Quota.AvailableBytes)

	// By id as well as by name.
	out := env.mustRun("bucket", "info", string(info.ID))
	assert.Contains(t, out, "Owner:")
	assert.Contains(t, out, "alice")

	env.mustRun("--actor", "bob", "bucket", "create", "scratch")
	out = env.mustRun("bucket", "list")
	assert.Contains(t, out, "docs")
	assert.Contains(t, out, "scratch")
	assert.Contains(t, out, "0.0%")

	_, err := env.run(nil, "bucket", "info", "missing")
	assert.True(t, errors.Is(err, objectarium.ErrBucketNotFound))
}

func TestCLIBucketNameAmbiguity(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("--actor", "alice", "bucket", "create", "shared")
	env.mustRun("--actor", "bob", "bucket", "create", "shared")

	_, err := env.run(nil, "bucket", "info", "shared")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")

	out := env.mustRun("--actor", "bob", "bucket", "info", "shared")
	assert.Contains(t, out, "bob")
}

func TestCLIBucketFromFile(t *testing.T) {
	env := newCLIEnv(t)
	path := testutil.TempFile(t, t.TempDir(), "bucket.yaml", `
name: archive
hash_algorithm: blake3
accepted_compression_algorithms: [lz4]
limits:
  max_object_size: 10MB
`)

	env.mustRun("--actor", "carol", "bucket", "create", "--file", path, "--max-object-count", "5")

	var info objectarium.BucketInfo
	env.runJSON(&info, "bucket", "info", "archive")
	assert.Equal(t, "blake3", info.Config.HashAlgorithm.String())
	assert.Equal(t, "lz4", info.Config.DefaultCompression().String())
	assert.Equal(t, uint64(10<<20), info.Config.Limits.MaxObjectSize)
	assert.Equal(t, uint64(5), info.Config.Limits.MaxObjectCount)
}

func TestCLIListPagination(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("--actor", "alice", "bucket", "create", "many")

	for i := range 5 {
		_, err := env.run(testutil.Payload(uint64(i), 64), "--actor", "alice", "store", "many", "-")
		require.NoError(t, err)
	}

	var first objectarium.Page[objectarium.ObjectMetadata]
	env.runJSON(&first, "ls", "many", "--limit", "3")
	require.Len(t, first.Items, 3)
	assert.True(t, first.HasNextPage)

	var second objectarium.Page[objectarium.ObjectMetadata]
	env.runJSON(&second, "ls", "many", "--limit", "3", "--cursor", first.Cursor)
	require.Len(t, second.Items, 2)
	assert.False(t, second.HasNextPage)
	assert.Less(t, string(first.Items[2].ID), string(second.Items[0].ID))

	_, err := env.run(nil, "ls", "many", "--limit", "31")
	assert.True(t, errors.Is(err, objectarium.ErrInvalidPageSize))

	out := env.mustRun("ls", "many", "--pinned")
	assert.Contains(t, out, "No objects found.")
}

func TestCLIRequiresActorForMutations(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(nil, "bucket", "create", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no actor")
}

func TestCLIConfigFileAndMetrics(t *testing.T) {
	dir := t.TempDir()
	metricsPath := filepath.Join(dir, "objectarium.prom")
	cfgPath := testutil.TempFile(t, dir, "objectarium.yaml", "actor: dave\nmetrics_file: "+metricsPath+"\n")

	env := newCLIEnv(t)
	env.mustRun("--config", cfgPath, "bucket", "create", "b")
	_, err := env.run([]byte("hello"), "--config", cfgPath, "store", "b", "-")
	require.NoError(t, err)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `objectarium_operations_total{operation="store",result="allowed"} 1`)
	assert.Contains(t, string(data), "objectarium_objects_total 1")
}

func TestCLIUnknownCompression(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("--actor", "alice", "bucket", "create", "b")
	_, err := env.run([]byte("data"), "--actor", "alice", "store", "b", "-", "--compression", "brotli")
	assert.Error(t, err)
}

func TestCLIVersion(t *testing.T) {
	env := newCLIEnv(t)
	assert.Contains(t, env.mustRun("version"), "objectarium dev")
}
