package memory

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"options-flow/internal/domain"
	"options-flow/internal/storage"
)

const bucketShards = 32

// BucketStore is an in-memory implementation of storage.BucketStore.
// Buckets are spread across shards by key; upserts on different keys do not contend.
type BucketStore struct {
	shards [bucketShards]bucketShard
}

type bucketShard struct {
	mu   sync.RWMutex
	data map[domain.BucketKey]*domain.TimeBucket
}

// NewBucketStore creates a new in-memory bucket store.
func NewBucketStore() *BucketStore {
	s := &BucketStore{}
	for i := range s.shards {
		s.shards[i].data = make(map[domain.BucketKey]*domain.TimeBucket)
	}
	return s
}

func (s *BucketStore) shardFor(key domain.BucketKey) *bucketShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.Underlying))
	var buf [8]byte
	v := uint64(key.BucketStart)
	for i := range buf {
		buf[i] = byte(v >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return &s.shards[h.Sum32()%bucketShards]
}

// Upsert finds or creates the bucket and applies delta under the shard lock.
func (s *BucketStore) Upsert(_ context.Context, key domain.BucketKey, delta domain.BucketDelta) error {
	if key.Underlying == "" {
		return storage.ErrInvalidInput
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.data[key]
	if !ok {
		b = &domain.TimeBucket{Underlying: key.Underlying, BucketStart: key.BucketStart}
		sh.data[key] = b
	}
	b.Apply(delta)
	return nil
}

// Range retrieves buckets for an underlying with start in [start, end], ordered ASC.
func (s *BucketStore) Range(_ context.Context, underlying string, start, end int64) ([]*domain.TimeBucket, error) {
	result := s.collect(func(b *domain.TimeBucket) bool {
		return b.Underlying == underlying && b.BucketStart >= start && b.BucketStart <= end
	})
	sortBuckets(result)
	return result, nil
}

// RangeAll retrieves buckets of all underlyings with start in [start, end].
func (s *BucketStore) RangeAll(_ context.Context, start, end int64) ([]*domain.TimeBucket, error) {
	result := s.collect(func(b *domain.TimeBucket) bool {
		return b.BucketStart >= start && b.BucketStart <= end
	})
	sortBuckets(result)
	return result, nil
}

// AtMinute retrieves every bucket starting at minute, ordered by underlying.
func (s *BucketStore) AtMinute(_ context.Context, minute int64) ([]*domain.TimeBucket, error) {
	result := s.collect(func(b *domain.TimeBucket) bool {
		return b.BucketStart == minute
	})
	sortBuckets(result)
	return result, nil
}

// DeleteBefore removes buckets whose start is strictly before cutoff.
func (s *BucketStore) DeleteBefore(_ context.Context, cutoff int64) (int, error) {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k := range sh.data {
			if k.BucketStart < cutoff {
				delete(sh.data, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

func (s *BucketStore) collect(match func(*domain.TimeBucket) bool) []*domain.TimeBucket {
	result := make([]*domain.TimeBucket, 0)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, b := range sh.data {
			if match(b) {
				c := *b
				result = append(result, &c)
			}
		}
		sh.mu.RUnlock()
	}
	return result
}

// sortBuckets orders by (bucket start, underlying) ASC.
func sortBuckets(buckets []*domain.TimeBucket) {
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].BucketStart != buckets[j].BucketStart {
			return buckets[i].BucketStart < buckets[j].BucketStart
		}
		return buckets[i].Underlying < buckets[j].Underlying
	})
}

var _ storage.BucketStore = (*BucketStore)(nil)
