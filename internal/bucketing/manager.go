package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"

	"demo-call-service/internal/config"
)

const defaultRateLimitBuckets = 64

// BucketingManager spreads source identifiers over a fixed number of partitions.
type BucketingManager struct {
	rateLimitBuckets int
	hasherPool       sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	buckets := cfg.Bucketing.RateLimitBuckets
	if buckets <= 0 {
		buckets = defaultRateLimitBuckets
	}

	bm := &BucketingManager{rateLimitBuckets: buckets}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// RateLimitBucket returns a consistent bucket in [0, RateLimitBuckets()).
func (bm *BucketingManager) RateLimitBucket(sourceID string) int {
	return bm.getBucket(sourceID, bm.rateLimitBuckets)
}

func (bm *BucketingManager) RateLimitBuckets() int {
	return bm.rateLimitBuckets
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(key))
	return hasher.Sum64()
}
