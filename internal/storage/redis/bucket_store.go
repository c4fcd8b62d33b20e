// Package redis implements the bucket store on Redis hashes and sorted sets.
package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"options-flow/internal/domain"
	"options-flow/internal/observability"
	"options-flow/internal/storage"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "flow:"

// premiumScale is the number of decimal places kept for premiums.
// Premiums are stored as integers scaled by 10^premiumScale so HINCRBY stays exact.
const premiumScale = 4

// Keys (prefix p):
//
//	p bucket:<U>:<start>   hash of running sums
//	p buckets:<U>          zset of bucket starts for one underlying
//	p bucket_index         zset of "<U>|<start>" members scored by start
const upsertScript = `
redis.call('HINCRBY', KEYS[1], 'call_premium', ARGV[3])
redis.call('HINCRBY', KEYS[1], 'put_premium', ARGV[4])
redis.call('HINCRBY', KEYS[1], 'call_count', ARGV[5])
redis.call('HINCRBY', KEYS[1], 'put_count', ARGV[6])
redis.call('HINCRBY', KEYS[1], 'call_size', ARGV[7])
redis.call('HINCRBY', KEYS[1], 'put_size', ARGV[8])
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[1], ARGV[2])
return 1
`

// sweepScript derives bucket keys from index members, so it needs a standalone
// (non-cluster) deployment.
const sweepScript = `
local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, m in ipairs(members) do
	local sep = string.find(m, '|', 1, true)
	local u = string.sub(m, 1, sep - 1)
	local start = string.sub(m, sep + 1)
	redis.call('DEL', ARGV[2] .. 'bucket:' .. u .. ':' .. start)
	redis.call('ZREM', ARGV[2] .. 'buckets:' .. u, start)
	redis.call('ZREM', KEYS[1], m)
end
return #members
`

// BucketStore implements storage.BucketStore using Redis.
// Each upsert runs as one Lua script, which Redis executes atomically.
type BucketStore struct {
	client *redis.Client
	prefix string
}

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rdb, nil
}

// NewBucketStore creates a new BucketStore. An empty prefix uses DefaultPrefix.
func NewBucketStore(client *redis.Client, prefix string) *BucketStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &BucketStore{client: client, prefix: prefix}
}

// Compile-time interface check.
var _ storage.BucketStore = (*BucketStore)(nil)

// Upsert finds or creates the bucket and adds delta atomically.
func (s *BucketStore) Upsert(ctx context.Context, key domain.BucketKey, delta domain.BucketDelta) error {
	if key.Underlying == "" || strings.ContainsAny(key.Underlying, "|:") {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	err := s.client.Eval(ctx, upsertScript, s.upsertKeys(key), upsertArgs(key, delta)...).Err()
	observability.RecordDBQuery("redis", "bucket_upsert", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("redis upsert bucket: %w", err)
	}
	return nil
}

// Range retrieves buckets for an underlying with start in [start, end], ordered ASC.
func (s *BucketStore) Range(ctx context.Context, underlying string, start, end int64) ([]*domain.TimeBucket, error) {
	members, err := s.client.ZRangeByScore(ctx, s.underlyingKey(underlying), scoreRange(start, end)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis range buckets: %w", err)
	}

	keys := make([]domain.BucketKey, 0, len(members))
	for _, m := range members {
		bs, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse bucket start %q: %w", m, err)
		}
		keys = append(keys, domain.BucketKey{Underlying: underlying, BucketStart: bs})
	}
	return s.load(ctx, keys)
}

// RangeAll retrieves buckets of all underlyings with start in [start, end].
func (s *BucketStore) RangeAll(ctx context.Context, start, end int64) ([]*domain.TimeBucket, error) {
	return s.fromIndex(ctx, scoreRange(start, end))
}

// AtMinute retrieves every bucket starting at minute, ordered by underlying.
func (s *BucketStore) AtMinute(ctx context.Context, minute int64) ([]*domain.TimeBucket, error) {
	return s.fromIndex(ctx, scoreRange(minute, minute))
}

// DeleteBefore removes buckets whose start is strictly before cutoff.
func (s *BucketStore) DeleteBefore(ctx context.Context, cutoff int64) (int, error) {
	start := time.Now()
	n, err := s.client.Eval(ctx, sweepScript, []string{s.indexKey()}, cutoff, s.prefix).Int()
	observability.RecordDBQuery("redis", "bucket_sweep", time.Since(start).Seconds(), err)
	if err != nil {
		return 0, fmt.Errorf("redis sweep buckets: %w", err)
	}
	return n, nil
}

func (s *BucketStore) fromIndex(ctx context.Context, rng *redis.ZRangeBy) ([]*domain.TimeBucket, error) {
	members, err := s.client.ZRangeByScore(ctx, s.indexKey(), rng).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read bucket index: %w", err)
	}

	keys := make([]domain.BucketKey, 0, len(members))
	for _, m := range members {
		k, err := parseIndexMember(m)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return s.load(ctx, keys)
}

// load fetches bucket hashes in one pipeline and returns them ordered by (start, underlying).
// Keys whose hash vanished between the index read and the fetch are skipped.
func (s *BucketStore) load(ctx context.Context, keys []domain.BucketKey) ([]*domain.TimeBucket, error) {
	buckets := make([]*domain.TimeBucket, 0, len(keys))
	if len(keys) == 0 {
		return buckets, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, s.bucketKey(k))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis load buckets: %w", err)
	}

	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		b, err := decodeBucket(keys[i], fields)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}

	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].BucketStart != buckets[j].BucketStart {
			return buckets[i].BucketStart < buckets[j].BucketStart
		}
		return buckets[i].Underlying < buckets[j].Underlying
	})
	return buckets, nil
}

func (s *BucketStore) bucketKey(k domain.BucketKey) string {
	return fmt.Sprintf("%sbucket:%s:%d", s.prefix, k.Underlying, k.BucketStart)
}

func (s *BucketStore) underlyingKey(underlying string) string {
	return s.prefix + "buckets:" + underlying
}

func (s *BucketStore) indexKey() string {
	return s.prefix + "bucket_index"
}

func (s *BucketStore) upsertKeys(k domain.BucketKey) []string {
	return []string{s.bucketKey(k), s.underlyingKey(k.Underlying), s.indexKey()}
}

func upsertArgs(k domain.BucketKey, d domain.BucketDelta) []interface{} {
	return []interface{}{
		k.BucketStart,
		indexMember(k),
		scalePremium(d.CallPremium),
		scalePremium(d.PutPremium),
		d.CallCount,
		d.PutCount,
		d.CallSize,
		d.PutSize,
	}
}

func indexMember(k domain.BucketKey) string {
	return fmt.Sprintf("%s|%d", k.Underlying, k.BucketStart)
}

func parseIndexMember(m string) (domain.BucketKey, error) {
	u, start, ok := strings.Cut(m, "|")
	if !ok {
		return domain.BucketKey{}, fmt.Errorf("malformed bucket index member %q", m)
	}
	bs, err := strconv.ParseInt(start, 10, 64)
	if err != nil {
		return domain.BucketKey{}, fmt.Errorf("parse bucket index member %q: %w", m, err)
	}
	return domain.BucketKey{Underlying: u, BucketStart: bs}, nil
}

func scoreRange(start, end int64) *redis.ZRangeBy {
	return &redis.ZRangeBy{
		Min: strconv.FormatInt(start, 10),
		Max: strconv.FormatInt(end, 10),
	}
}

func scalePremium(d decimal.Decimal) int64 {
	return d.Round(premiumScale).Shift(premiumScale).IntPart()
}

func unscalePremium(v int64) decimal.Decimal {
	return decimal.New(v, -premiumScale)
}

func decodeBucket(k domain.BucketKey, fields map[string]string) (*domain.TimeBucket, error) {
	ints := make(map[string]int64, 6)
	for _, name := range []string{"call_premium", "put_premium", "call_count", "put_count", "call_size", "put_size"} {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse bucket field %s=%q: %w", name, raw, err)
		}
		ints[name] = v
	}

	return &domain.TimeBucket{
		Underlying:  k.Underlying,
		BucketStart: k.BucketStart,
		CallPremium: unscalePremium(ints["call_premium"]),
		PutPremium:  unscalePremium(ints["put_premium"]),
		CallCount:   ints["call_count"],
		PutCount:    ints["put_count"],
		CallSize:    ints["call_size"],
		PutSize:     ints["put_size"],
	}, nil
}
