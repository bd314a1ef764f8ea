package billingsvc

import "time"

// Provider names accepted by Config.Provider.
const (
	ProviderStripe = "stripe"
	ProviderPaddle = "paddle"
)

// Cache backends accepted by Config.Cache.
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
	CacheNone   = "none"
)

type Config struct {
	Provider string `env:"BILLING_PROVIDER" envDefault:"stripe"`

	Cache           string        `env:"BILLING_CACHE" envDefault:"redis"`
	CacheKeyPrefix  string        `env:"BILLING_CACHE_PREFIX" envDefault:"billing"`
	MemoryCacheSize int           `env:"BILLING_MEMORY_CACHE_SIZE" envDefault:"10000"`
	MemoryCacheTTL  time.Duration `env:"BILLING_MEMORY_CACHE_TTL" envDefault:"0s"`

	// LastKnownFallback serves the store's last-known snapshot when the
	// provider is unreachable instead of None.
	LastKnownFallback bool `env:"BILLING_LAST_KNOWN_FALLBACK" envDefault:"false"`

	ResyncAttempts    int           `env:"BILLING_RESYNC_ATTEMPTS" envDefault:"3"`
	ResyncConcurrency int           `env:"BILLING_RESYNC_CONCURRENCY" envDefault:"4"`
	ResyncQueueSize   int           `env:"BILLING_RESYNC_QUEUE_SIZE" envDefault:"256"`
	ResyncBaseDelay   time.Duration `env:"BILLING_RESYNC_BASE_DELAY" envDefault:"1s"`
	ResyncMaxDelay    time.Duration `env:"BILLING_RESYNC_MAX_DELAY" envDefault:"30s"`

	WebhookMaxBodyBytes int64 `env:"BILLING_WEBHOOK_MAX_BODY_BYTES" envDefault:"1048576"`
}
