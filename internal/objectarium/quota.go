package objectarium

import "math"

// Quota validates prospective bucket totals against the bucket limits. It
// holds no usage of its own: callers pass the post-mutation view.
type Quota struct {
	Limits Limits
}

// CheckStore verifies that adding an object of size raw bytes to a bucket
// whose current totals are stat stays within every limit.
func (q Quota) CheckStore(stat BucketStat, size uint64) error {
	l := q.Limits
	if l.MaxObjectSize > 0 && size > l.MaxObjectSize {
		return &QuotaExceededError{Limit: LimitObjectSize, Max: l.MaxObjectSize, Attempted: size}
	}
	if l.MaxObjectCount > 0 && stat.ObjectCount+1 > l.MaxObjectCount {
		return &QuotaExceededError{Limit: LimitObjectCount, Max: l.MaxObjectCount, Attempted: stat.ObjectCount + 1}
	}
	if l.MaxBucketSize > 0 {
		total := saturatingAdd(stat.Size, size)
		if total > l.MaxBucketSize {
			return &QuotaExceededError{Limit: LimitBucketSize, Max: l.MaxBucketSize, Attempted: total}
		}
	}
	return nil
}

// CheckPin verifies that one more pinner fits on an object currently pinned
// by count actors.
func (q Quota) CheckPin(count uint64) error {
	if q.Limits.MaxObjectPins > 0 && count+1 > q.Limits.MaxObjectPins {
		return &QuotaExceededError{Limit: LimitObjectPins, Max: q.Limits.MaxObjectPins, Attempted: count + 1}
	}
	return nil
}

// QuotaUsage reports how much of a bucket's limits are used.
type QuotaUsage struct {
	MaxBytes       uint64 `json:"max_bytes"`
	UsedBytes      uint64 `json:"used_bytes"`
	AvailableBytes int64  `json:"available_bytes"` // -1 if unlimited
	MaxObjects     uint64 `json:"max_objects"`
	UsedObjects    uint64 `json:"used_objects"`
}

// Usage returns quota statistics for stat.
func (q Quota) Usage(stat BucketStat) QuotaUsage {
	avail := int64(-1)
	if q.Limits.MaxBucketSize > 0 {
		avail = 0
		if stat.Size < q.Limits.MaxBucketSize {
			remaining := q.Limits.MaxBucketSize - stat.Size
			if remaining > math.MaxInt64 {
				remaining = math.MaxInt64
			}
			avail = int64(remaining)
		}
	}
	return QuotaUsage{
		MaxBytes:       q.Limits.MaxBucketSize,
		UsedBytes:      stat.Size,
		AvailableBytes: avail,
		MaxObjects:     q.Limits.MaxObjectCount,
		UsedObjects:    stat.ObjectCount,
	}
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
