package cache

import (
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "tiercache/common/errors"
	"tiercache/common/logging"
	"tiercache/config"
	redisclient "tiercache/redis"
)

// Options holds everything needed to construct a Coordinator. Zero-valued
// fields fall back to the documented defaults; only Redis is required.
type Options struct {
	// Redis is the client backing the L2 tier. Required.
	Redis *redis.Client

	// Logger receives structured engine logs. Defaults to the global logger.
	Logger logging.Logger

	// OnAlert is invoked when a metrics threshold is breached. Optional.
	OnAlert func(Alert)

	L1MaxSize     int           // default 1000
	L1DefaultTTL  time.Duration // default 5m
	SweepInterval time.Duration // default 1m

	L2DefaultTTL time.Duration // default 30m
	L2KeyPrefix  string        // default "cache:"
	L2MaxRetries int           // default 2
	L2RetryDelay time.Duration // default 50ms
	L2Timeout    time.Duration // default 500ms

	MetricsInterval time.Duration // default 1m
	Thresholds      Thresholds    // default DefaultThresholds()
}

// OptionsFromConfig maps a loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config, client *redis.Client) Options {
	return Options{
		Redis:           client,
		L1MaxSize:       cfg.L1MaxSize,
		L1DefaultTTL:    time.Duration(cfg.L1DefaultTTLSeconds) * time.Second,
		SweepInterval:   time.Duration(cfg.L1SweepIntervalSeconds) * time.Second,
		L2DefaultTTL:    time.Duration(cfg.L2DefaultTTLSeconds) * time.Second,
		L2KeyPrefix:     cfg.L2KeyPrefix,
		L2MaxRetries:    cfg.L2MaxRetries,
		L2RetryDelay:    time.Duration(cfg.L2RetryDelayMs) * time.Millisecond,
		L2Timeout:       time.Duration(cfg.L2TimeoutMs) * time.Millisecond,
		MetricsInterval: time.Duration(cfg.MetricsIntervalSeconds) * time.Second,
	}
}

func (o *Options) applyDefaults() {
	if o.Logger == nil {
		o.Logger = logging.GetGlobalLogger()
	}
	if o.L1MaxSize == 0 {
		o.L1MaxSize = 1000
	}
	if o.L1DefaultTTL == 0 {
		o.L1DefaultTTL = 5 * time.Minute
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = time.Minute
	}
	if o.L2DefaultTTL == 0 {
		o.L2DefaultTTL = 30 * time.Minute
	}
	if o.L2KeyPrefix == "" {
		o.L2KeyPrefix = "cache:"
	}
	if o.L2MaxRetries == 0 {
		o.L2MaxRetries = 2
	}
	if o.L2RetryDelay == 0 {
		o.L2RetryDelay = 50 * time.Millisecond
	}
	if o.L2Timeout == 0 {
		o.L2Timeout = 500 * time.Millisecond
	}
	if o.MetricsInterval == 0 {
		o.MetricsInterval = time.Minute
	}
	if o.Thresholds == (Thresholds{}) {
		o.Thresholds = DefaultThresholds()
	}
}

// New constructs a Coordinator and starts its background tasks.
func New(opts Options) (*Coordinator, error) {
	if opts.Redis == nil {
		return nil, apperrors.ConfigError("redis client is required")
	}
	opts.applyDefaults()
	if opts.L1MaxSize < 1 {
		return nil, apperrors.ConfigError("l1 max size must be positive")
	}

	// The rolling window covers roughly 24h of collection cycles.
	windowSize := int((24 * time.Hour) / opts.MetricsInterval)
	if windowSize < 1 {
		windowSize = 1
	}

	c := &Coordinator{
		l1: NewL1Store(opts.L1MaxSize),
		l2: NewL2Store(opts.Redis, L2Options{
			KeyPrefix:  opts.L2KeyPrefix,
			DefaultTTL: opts.L2DefaultTTL,
			Timeout:    opts.L2Timeout,
			MaxRetries: opts.L2MaxRetries,
			RetryDelay: opts.L2RetryDelay,
			Logger:     opts.Logger,
		}),
		metrics:         NewMetricsCollector(windowSize, opts.Thresholds, opts.OnAlert, opts.Logger),
		log:             opts.Logger,
		l1DefaultTTL:    opts.L1DefaultTTL,
		l2DefaultTTL:    opts.L2DefaultTTL,
		sweepInterval:   opts.SweepInterval,
		metricsInterval: opts.MetricsInterval,
		stopCh:          make(chan struct{}),
	}
	c.broker = NewInvalidationBroker(c.l1, c.l2, opts.Logger)
	c.warmup = newWarmupScheduler(c, opts.Logger)

	c.wg.Add(2)
	go c.runSweepLoop()
	go c.runMetricsLoop()

	c.log.Info("cache coordinator started",
		logging.Int("l1_max_size", opts.L1MaxSize),
		logging.Duration("l1_default_ttl", opts.L1DefaultTTL),
		logging.Duration("l2_default_ttl", opts.L2DefaultTTL),
		logging.String("l2_key_prefix", opts.L2KeyPrefix),
	)
	return c, nil
}

// MustNew constructs a Coordinator or panics.
func MustNew(opts Options) *Coordinator {
	c, err := New(opts)
	if err != nil {
		panic(err)
	}
	return c
}

// NewFromConfig validates cfg, opens a Redis connection, and constructs a
// Coordinator that owns that connection (Close releases it).
func NewFromConfig(cfg *config.Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.ConfigError(err.Error())
	}

	client, err := redisclient.NewClient(&redisclient.Config{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		return nil, apperrors.StoreUnavailableError("failed to connect to l2 backend", err)
	}

	opts := OptionsFromConfig(cfg, client.Raw())
	c, err := New(opts)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	c.ownedClient = client
	return c, nil
}
