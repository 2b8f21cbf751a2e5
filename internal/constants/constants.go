package constants

import "time"

// API Server Constants
const (
	// DefaultAPIHost is the default API server host
	DefaultAPIHost = "localhost"

	// DefaultAPIPort is the default API server port
	DefaultAPIPort = 8080

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMaxHeaderBytes is the default maximum request header size (1 MB)
	DefaultMaxHeaderBytes = 1 << 20 // 1 MB

	// DefaultRateLimitPerSecond is the default rate limit (requests per second)
	DefaultRateLimitPerSecond = 1000

	// DefaultRateLimitBurst is the default rate limit burst size
	DefaultRateLimitBurst = 2000

	// MaxBlockRange is the largest height range a block listing may request
	MaxBlockRange = 100
)

// API Paths
const (
	// DefaultGraphQLPath is the default GraphQL endpoint path
	DefaultGraphQLPath = "/graphql"
)

// Fetcher Constants
const (
	// DefaultNumWorkers is the default number of fetch workers for a live node
	DefaultNumWorkers = 50

	// SyntheticNumWorkers is the number of fetch workers for the synthetic source
	SyntheticNumWorkers = 1

	// MaxWorkers is the maximum number of workers
	MaxWorkers = 1000

	// DefaultLookahead is how far past the committed height workers may fetch
	DefaultLookahead = 1000

	// DefaultReportInterval is how often the commit sequencer logs throughput and flushes
	DefaultReportInterval = 10 * time.Second
)

// Synthetic Source Constants
const (
	// DefaultSyntheticTxsPerBlock includes the coinbase transaction
	DefaultSyntheticTxsPerBlock = 4

	// DefaultSyntheticBlockInterval is the delay between generated live blocks
	DefaultSyntheticBlockInterval = 2 * time.Second

	// DefaultSyntheticTxInterval is the delay between generated mempool transactions
	DefaultSyntheticTxInterval = 500 * time.Millisecond
)

// Storage Constants
const (
	// DefaultCacheSize is the default cache size in MB for PebbleDB
	DefaultCacheSize = 128 // MB

	// DefaultMaxOpenFiles is the default maximum number of open files for PebbleDB
	DefaultMaxOpenFiles = 1000

	// DefaultWriteBuffer is the default write buffer size in MB for PebbleDB
	DefaultWriteBuffer = 64 // MB
)
