// Package constants defines system-wide constants for the admission service.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Unique ID Layout
// ================================================================================

const (
	// IDEpochMillis is the custom epoch for unique IDs (2020-01-01T00:00:00Z).
	// Changing it invalidates the ordering of every previously issued ID.
	IDEpochMillis int64 = 1577836800000

	// IDWorkerBits is the width of the worker field
	IDWorkerBits = 10

	// IDSequenceBits is the width of the per-millisecond sequence field
	IDSequenceBits = 12

	// IDMaxWorker is the largest worker identifier that fits the layout
	IDMaxWorker = 1<<IDWorkerBits - 1

	// IDMaxSequence is the largest sequence value within one millisecond
	IDMaxSequence = 1<<IDSequenceBits - 1

	// IDWorkerShift is the bit offset of the worker field
	IDWorkerShift = IDSequenceBits

	// IDTimestampShift is the bit offset of the timestamp field
	IDTimestampShift = IDSequenceBits + IDWorkerBits
)

// ================================================================================
// Route Classes
// ================================================================================

// RouteClass names a group of routes sharing one rate-limit policy
type RouteClass string

const (
	// RouteClassDefault covers every route without a more specific class
	RouteClassDefault RouteClass = "default"

	// RouteClassAdmin covers administrative routes
	RouteClassAdmin RouteClass = "admin"

	// RouteClassSession covers session validation routes
	RouteClassSession RouteClass = "session"
)

// ================================================================================
// Rate Limit Defaults
// ================================================================================

const (
	// DefaultRateLimit is the request budget per window for default routes
	DefaultRateLimit = 100

	// DefaultQueueRateLimit is the budget used by queue-style counters
	DefaultQueueRateLimit = 1000

	// DefaultRateLimitWindow is the fixed window length
	DefaultRateLimitWindow = 60 * time.Second

	// DefaultBucketIdleTTL is how long an expired bucket may linger before eviction
	DefaultBucketIdleTTL = 5 * time.Minute

	// DefaultSweepInterval is the period of the background eviction sweep
	DefaultSweepInterval = 30 * time.Second

	// DefaultStoreTimeout bounds every remote store round trip
	DefaultStoreTimeout = 50 * time.Millisecond

	// DefaultRegistryShards is the number of independent registry shards
	DefaultRegistryShards = 64

	// DefaultRateLimitNamespace prefixes remote rate-limit counters
	DefaultRateLimitNamespace = "ratelimit"
)

// FallbackPolicy decides admission when the remote counter store fails
type FallbackPolicy string

const (
	// FallbackOpen admits the request and logs the failure
	FallbackOpen FallbackPolicy = "open"

	// FallbackClosed rejects the request with a store-unavailable error
	FallbackClosed FallbackPolicy = "closed"

	// FallbackLocal decides with the in-process bucket registry
	FallbackLocal FallbackPolicy = "local"
)

// LimiterBackend selects where rate-limit counters live
type LimiterBackend string

const (
	// LimiterBackendLocal keeps counters in the process
	LimiterBackendLocal LimiterBackend = "local"

	// LimiterBackendRedis keeps counters in Redis, shared by all processes
	LimiterBackendRedis LimiterBackend = "redis"
)

// QueueBackend selects the queue store implementation
type QueueBackend string

const (
	QueueBackendMemory QueueBackend = "memory"
	QueueBackendRedis  QueueBackend = "redis"
	QueueBackendSQL    QueueBackend = "sql"
)

// ================================================================================
// Sessions
// ================================================================================

const (
	// SessionKeyPrefix prefixes session queue keys
	SessionKeyPrefix = "session:"

	// DefaultSessionTTL is the lifetime of a session record
	DefaultSessionTTL = 24 * time.Hour
)

// ================================================================================
// HTTP Headers
// ================================================================================

const (
	HeaderRequestID          = "X-Request-ID"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey is the type for context value keys
type ContextKey string

const (
	// ContextKeyRequestID carries the request identifier
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyClientKey carries the client identity used for admission
	ContextKeyClientKey ContextKey = "client_key"
)
