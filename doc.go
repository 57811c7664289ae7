// Package metacache caches metadata records keyed by an external identifier,
// each with its own time-to-live, across interchangeable storage backends:
// an in-process map, a local bbolt file, a MinIO/S3 bucket, and a Redis
// instance or cluster. Every backend implements the same contract (see the
// backend package); the Cache type owns one backend per logical cache name
// and serializes all access to them through a single control loop.
//
// Construct a Cache with a Config mapping logical names to backend
// configurations, importing the backend packages the configuration uses:
//
//	import (
//	    "github.com/mediakit/metacache"
//	    "github.com/mediakit/metacache/backend"
//	    _ "github.com/mediakit/metacache/backend/disk"
//	    _ "github.com/mediakit/metacache/backend/memory"
//	)
//
//	c, err := metacache.New(ctx, metacache.Config{
//	    "videos": {Kind: backend.KindDisk, Options: backend.Options{
//	        "cache_dir": "/var/cache/mediakit",
//	    }},
//	    "sessions": {Kind: backend.KindMemory, Options: nil},
//	})
//
// Lookups return a Response that is exactly one of hit, miss, or error.
// Expired entries are indistinguishable from absent ones, and read-path
// storage failures are reported as misses, so callers can always fall back
// to fetching from the origin. A periodic sweep removes expired entries from
// every backend; its interval is measured from the completion of one sweep
// to the start of the next.
//
// A backend that fails to construct is replaced at startup by a memory
// backend under the same logical name, so a misconfigured or unreachable
// store degrades caching instead of failing the process.
package metacache
