package objectarium

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/tunnelmesh/objectarium/internal/codec"
	"github.com/tunnelmesh/objectarium/internal/digest"
)

// BucketID identifies a bucket. It is derived from the owner and the bucket
// name, so creating the same bucket twice yields the same id.
type BucketID string

// ObjectID is the lowercase hex content digest of an object's raw bytes.
type ObjectID string

// Actor is an already-authenticated caller identity.
type Actor string

// Pagination defaults.
const (
	DefaultMaxPageSize     uint32 = 30
	DefaultDefaultPageSize uint32 = 10
	// PageSizeLimit is the largest max_page_size a bucket may configure.
	PageSizeLimit uint32 = 1000
)

// bucketNamespace scopes bucket ids (UUIDv5) to this store.
var bucketNamespace = uuid.MustParse("3f0c5a3e-6c1d-5b7e-9a52-0b6f1f4b8d21")

// NewBucketID returns the deterministic id of the bucket named name owned by owner.
func NewBucketID(owner Actor, name string) BucketID {
	return BucketID(uuid.NewSHA1(bucketNamespace, []byte(string(owner)+"\x00"+name)).String())
}

// Limits bound what a bucket may hold. A zero limit is unlimited.
type Limits struct {
	// MaxBucketSize caps the sum of raw object sizes.
	MaxBucketSize uint64 `json:"max_bucket_size,omitempty" yaml:"max_bucket_size,omitempty"`
	// MaxObjectSize caps the raw size of a single object.
	MaxObjectSize uint64 `json:"max_object_size,omitempty" yaml:"max_object_size,omitempty"`
	// MaxObjectCount caps the number of live objects.
	MaxObjectCount uint64 `json:"max_object_count,omitempty" yaml:"max_object_count,omitempty"`
	// MaxObjectPins caps the number of actors pinning one object.
	MaxObjectPins uint64 `json:"max_object_pins,omitempty" yaml:"max_object_pins,omitempty"`
}

// Pagination configures the page sizes of list queries.
type Pagination struct {
	MaxPageSize     uint32 `json:"max_page_size" yaml:"max_page_size"`
	DefaultPageSize uint32 `json:"default_page_size" yaml:"default_page_size"`
}

// pageSize resolves a requested limit; zero selects the default.
func (p Pagination) pageSize(limit uint32) (int, error) {
	if limit == 0 {
		return int(p.DefaultPageSize), nil
	}
	if limit > p.MaxPageSize {
		return 0, fmt.Errorf("%w: %d > %d", ErrInvalidPageSize, limit, p.MaxPageSize)
	}
	return int(limit), nil
}

// BucketConfig is fixed when the bucket is created.
type BucketConfig struct {
	Name          string           `json:"name"`
	HashAlgorithm digest.Algorithm `json:"hash_algorithm"`
	// AcceptedCompressions is ordered; the first entry is the default used
	// when a store does not request one.
	AcceptedCompressions []codec.Algorithm `json:"accepted_compression_algorithms"`
	// Mutable controls whether objects may ever be forgotten.
	Mutable    bool       `json:"mutable"`
	Limits     Limits     `json:"limits"`
	Pagination Pagination `json:"pagination"`
}

// DefaultBucketConfig returns a mutable, unlimited configuration named name.
func DefaultBucketConfig(name string) BucketConfig {
	return BucketConfig{
		Name:    name,
		Mutable: true,
	}
}

// Normalize validates c and fills in defaults. The result is what gets
// persisted.
func (c BucketConfig) Normalize() (BucketConfig, error) {
	out := c
	out.Name = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, c.Name)
	if out.Name == "" {
		return BucketConfig{}, fmt.Errorf("%w: bucket name is empty", ErrInvalidConfig)
	}
	if strings.ContainsRune(out.Name, 0) {
		return BucketConfig{}, fmt.Errorf("%w: bucket name contains NUL", ErrInvalidConfig)
	}

	switch {
	case out.HashAlgorithm == digest.Unspecified:
		out.HashAlgorithm = digest.Default
	case !out.HashAlgorithm.Valid():
		return BucketConfig{}, fmt.Errorf("%w: %s", ErrInvalidConfig, out.HashAlgorithm)
	}

	if len(c.AcceptedCompressions) == 0 {
		out.AcceptedCompressions = codec.All()
	} else {
		out.AcceptedCompressions = slices.Clone(c.AcceptedCompressions)
		for i, algo := range out.AcceptedCompressions {
			if !algo.Valid() {
				return BucketConfig{}, fmt.Errorf("%w: compression %s", ErrInvalidConfig, algo)
			}
			if slices.Contains(out.AcceptedCompressions[:i], algo) {
				return BucketConfig{}, fmt.Errorf("%w: compression %s listed twice", ErrInvalidConfig, algo)
			}
		}
	}

	l := out.Limits
	if l.MaxBucketSize > 0 && l.MaxObjectSize > l.MaxBucketSize {
		return BucketConfig{}, fmt.Errorf("%w: max_object_size %d exceeds max_bucket_size %d",
			ErrInvalidConfig, l.MaxObjectSize, l.MaxBucketSize)
	}

	p := &out.Pagination
	if p.MaxPageSize == 0 {
		p.MaxPageSize = DefaultMaxPageSize
	}
	if p.DefaultPageSize == 0 {
		p.DefaultPageSize = min(DefaultDefaultPageSize, p.MaxPageSize)
	}
	if p.MaxPageSize > PageSizeLimit {
		return BucketConfig{}, fmt.Errorf("%w: max_page_size %d exceeds %d",
			ErrInvalidConfig, p.MaxPageSize, PageSizeLimit)
	}
	if p.DefaultPageSize > p.MaxPageSize {
		return BucketConfig{}, fmt.Errorf("%w: default_page_size %d exceeds max_page_size %d",
			ErrInvalidConfig, p.DefaultPageSize, p.MaxPageSize)
	}

	return out, nil
}

// Equal reports whether two configs are identical.
func (c BucketConfig) Equal(o BucketConfig) bool {
	return c.Name == o.Name &&
		c.HashAlgorithm == o.HashAlgorithm &&
		slices.Equal(c.AcceptedCompressions, o.AcceptedCompressions) &&
		c.Mutable == o.Mutable &&
		c.Limits == o.Limits &&
		c.Pagination == o.Pagination
}

// DefaultCompression returns the algorithm used when a store requests none.
func (c BucketConfig) DefaultCompression() codec.Algorithm {
	if len(c.AcceptedCompressions) == 0 {
		return codec.Passthrough
	}
	return c.AcceptedCompressions[0]
}

// Accepts reports whether algo may be used in this bucket.
func (c BucketConfig) Accepts(algo codec.Algorithm) bool {
	return slices.Contains(c.AcceptedCompressions, algo)
}

// Bucket is an owner-scoped namespace of objects.
type Bucket struct {
	ID        BucketID     `json:"id"`
	Owner     Actor        `json:"owner"`
	Config    BucketConfig `json:"config"`
	CreatedAt time.Time    `json:"created_at"`
}

// BucketStat is derived from the live objects of a bucket.
type BucketStat struct {
	Size           uint64 `json:"size"`
	CompressedSize uint64 `json:"compressed_size"`
	ObjectCount    uint64 `json:"object_count"`
}

func (s BucketStat) add(o Object) BucketStat {
	return BucketStat{
		Size:           s.Size + o.Size,
		CompressedSize: s.CompressedSize + o.CompressedSize,
		ObjectCount:    s.ObjectCount + 1,
	}
}

func (s BucketStat) sub(o Object) BucketStat {
	return BucketStat{
		Size:           s.Size - o.Size,
		CompressedSize: s.CompressedSize - o.CompressedSize,
		ObjectCount:    s.ObjectCount - 1,
	}
}

// BucketInfo is a bucket together with its current stats.
type BucketInfo struct {
	Bucket
	Stat  BucketStat `json:"stat"`
	Quota QuotaUsage `json:"quota"`
	Pins  uint64     `json:"pins"`
}

// CreateBucket registers a bucket owned by owner. Creating a bucket that
// already exists with an identical configuration returns its id; a differing
// configuration fails with ErrBucketExists.
func CreateBucket(tx *Tx, owner Actor, cfg BucketConfig) (BucketID, error) {
	if err := validateActor(owner); err != nil {
		return "", err
	}
	normalized, err := cfg.Normalize()
	if err != nil {
		return "", err
	}

	id := NewBucketID(owner, normalized.Name)
	if existing, ok := tx.bucket(id); ok {
		if existing.Config.Equal(normalized) {
			return id, nil
		}
		return "", fmt.Errorf("%w: %s/%s", ErrBucketExists, owner, normalized.Name)
	}

	tx.putBucket(Bucket{
		ID:        id,
		Owner:     owner,
		Config:    normalized,
		CreatedAt: tx.now,
	})
	tx.emit(Event{Kind: EventBucketCreated, Bucket: id, Actor: owner})
	return id, nil
}

func validateActor(actor Actor) error {
	if actor == "" {
		return fmt.Errorf("%w: actor is empty", ErrInvalidRequest)
	}
	if strings.ContainsRune(string(actor), 0) {
		return fmt.Errorf("%w: actor contains NUL", ErrInvalidRequest)
	}
	return nil
}
