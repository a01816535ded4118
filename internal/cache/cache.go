package cache

import "context"

// Cache is a small read cache for the job board. Values are encoded by the
// implementation; Get decodes into out.
type Cache interface {
	Put(ctx context.Context, key string, value interface{}, ttlSeconds int) error
	Get(ctx context.Context, key string, out interface{}) error
	GetDefaultTTL() int
	ShutDown(ctx context.Context)
}

// OpenJobsKey is the board cache key for the open jobs listing.
const OpenJobsKey = "board:open_jobs"
