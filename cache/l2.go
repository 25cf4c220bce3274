package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "tiercache/common/errors"
	"tiercache/common/logging"
)

// L2Store is the shared distributed tier, backed by a TTL-capable Redis
// keyspace. Values are JSON-encoded together with their tags, and every tag
// is mirrored into a set-typed index key so invalidation never scans the
// keyspace.
//
// Index updates are additive (SADD/SREM) so concurrent writers in other
// processes cannot lose each other's memberships, and index keys carry a TTL
// at least as long as the entry TTL so stale members self-expire.
type L2Store struct {
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	log        logging.Logger
}

// L2Options configures an L2Store.
type L2Options struct {
	KeyPrefix  string
	DefaultTTL time.Duration
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Logger     logging.Logger
}

type l2Payload struct {
	Value interface{} `json:"value"`
	Tags  []string    `json:"tags,omitempty"`
}

// NewL2Store creates an L2 store over the given Redis client.
func NewL2Store(client *redis.Client, opts L2Options) *L2Store {
	log := opts.Logger
	if log == nil {
		log = logging.GetGlobalLogger()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &L2Store{
		client:     client,
		keyPrefix:  opts.KeyPrefix,
		defaultTTL: opts.DefaultTTL,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		log:        log,
	}
}

func (s *L2Store) dataKey(key string) string {
	return s.keyPrefix + key
}

func (s *L2Store) tagKey(tag string) string {
	return s.keyPrefix + "tag:" + tag
}

// Get returns the value and tags stored under key. A missing key is not an
// error; network and decode failures are.
func (s *L2Store) Get(ctx context.Context, key string) (value interface{}, tags []string, found bool, err error) {
	var raw string
	err = s.withRetry(ctx, func(callCtx context.Context) error {
		var opErr error
		raw, opErr = s.client.Get(callCtx, s.dataKey(key)).Result()
		return opErr
	})
	if stderrors.Is(err, redis.Nil) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, apperrors.StoreUnavailableError("l2 get failed", err).WithContext("key", key)
	}

	var payload l2Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, nil, false, apperrors.SerializationError("l2 value cannot be decoded", err).WithContext("key", key)
	}
	return payload.Value, payload.Tags, true, nil
}

// SetWithTTL stores the value under key with the given TTL and registers the
// key in every tag's index set within the same pipeline.
func (s *L2Store) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error {
	data, err := json.Marshal(l2Payload{Value: value, Tags: tags})
	if err != nil {
		return apperrors.SerializationError("l2 value cannot be encoded", err).WithContext("key", key)
	}

	err = s.withRetry(ctx, func(callCtx context.Context) error {
		pipe := s.client.TxPipeline()
		pipe.Set(callCtx, s.dataKey(key), data, ttl)
		for _, tag := range tags {
			pipe.SAdd(callCtx, s.tagKey(tag), key)
		}
		if _, opErr := pipe.Exec(callCtx); opErr != nil {
			return opErr
		}
		return s.extendIndexTTLs(callCtx, tags, ttl)
	})
	if err != nil {
		return apperrors.StoreUnavailableError("l2 set failed", err).WithContext("key", key)
	}
	return nil
}

// SetNX stores the value only if key is absent. Returns whether the write
// was applied.
func (s *L2Store) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) (bool, error) {
	data, err := json.Marshal(l2Payload{Value: value, Tags: tags})
	if err != nil {
		return false, apperrors.SerializationError("l2 value cannot be encoded", err).WithContext("key", key)
	}

	var acquired bool
	err = s.withRetry(ctx, func(callCtx context.Context) error {
		var opErr error
		acquired, opErr = s.client.SetNX(callCtx, s.dataKey(key), data, ttl).Result()
		if opErr != nil || !acquired {
			return opErr
		}
		pipe := s.client.TxPipeline()
		for _, tag := range tags {
			pipe.SAdd(callCtx, s.tagKey(tag), key)
		}
		if _, opErr := pipe.Exec(callCtx); opErr != nil {
			return opErr
		}
		return s.extendIndexTTLs(callCtx, tags, ttl)
	})
	if err != nil {
		return false, apperrors.StoreUnavailableError("l2 setnx failed", err).WithContext("key", key)
	}
	return acquired, nil
}

// Delete removes key and, as part of the same operation, its memberships in
// every tag index set. Deleting an absent key is not an error.
func (s *L2Store) Delete(ctx context.Context, key string) error {
	err := s.withRetry(ctx, func(callCtx context.Context) error {
		raw, opErr := s.client.Get(callCtx, s.dataKey(key)).Result()
		var tags []string
		switch {
		case stderrors.Is(opErr, redis.Nil):
			// Already gone; still issue the DEL below so a value written
			// concurrently without tags cannot survive the invalidation.
		case opErr != nil:
			return opErr
		default:
			var payload l2Payload
			if jsonErr := json.Unmarshal([]byte(raw), &payload); jsonErr == nil {
				tags = payload.Tags
			}
		}

		pipe := s.client.TxPipeline()
		pipe.Del(callCtx, s.dataKey(key))
		for _, tag := range tags {
			pipe.SRem(callCtx, s.tagKey(tag), key)
		}
		_, opErr = pipe.Exec(callCtx)
		return opErr
	})
	if err != nil {
		return apperrors.StoreUnavailableError("l2 delete failed", err).WithContext("key", key)
	}
	return nil
}

// KeysWithTag returns the members of tag's index set. Members may include
// keys whose entries have already expired; callers tolerate deletes of
// missing keys instead.
func (s *L2Store) KeysWithTag(ctx context.Context, tag string) ([]string, error) {
	var keys []string
	err := s.withRetry(ctx, func(callCtx context.Context) error {
		var opErr error
		keys, opErr = s.client.SMembers(callCtx, s.tagKey(tag)).Result()
		return opErr
	})
	if err != nil {
		return nil, apperrors.StoreUnavailableError("l2 tag lookup failed", err).WithContext("tag", tag)
	}
	return keys, nil
}

// Exists reports whether key is present.
func (s *L2Store) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := s.withRetry(ctx, func(callCtx context.Context) error {
		var opErr error
		n, opErr = s.client.Exists(callCtx, s.dataKey(key)).Result()
		return opErr
	})
	if err != nil {
		return false, apperrors.StoreUnavailableError("l2 exists failed", err).WithContext("key", key)
	}
	return n > 0, nil
}

// Flush removes every key under this store's prefix, data and index alike.
// The scan is bounded to the engine's own namespace; it is an administrative
// operation, never part of the request path.
func (s *L2Store) Flush(ctx context.Context) error {
	err := s.withRetry(ctx, func(callCtx context.Context) error {
		iter := s.client.Scan(callCtx, 0, s.keyPrefix+"*", 0).Iterator()
		var keys []string
		for iter.Next(callCtx) {
			keys = append(keys, iter.Val())
		}
		if opErr := iter.Err(); opErr != nil {
			return opErr
		}
		if len(keys) > 0 {
			return s.client.Del(callCtx, keys...).Err()
		}
		return nil
	})
	if err != nil {
		return apperrors.StoreUnavailableError("l2 flush failed", err)
	}
	return nil
}

// extendIndexTTLs makes sure each tag index key outlives the entries it
// points at. TTLs are only ever extended; shortening would drop members of
// longer-lived entries written by other processes.
func (s *L2Store) extendIndexTTLs(ctx context.Context, tags []string, entryTTL time.Duration) error {
	indexTTL := entryTTL
	if indexTTL < s.defaultTTL {
		indexTTL = s.defaultTTL
	}

	for _, tag := range tags {
		cur, err := s.client.TTL(ctx, s.tagKey(tag)).Result()
		if err != nil {
			return err
		}
		switch {
		case cur == -2 || cur == -2*time.Second:
			// The set vanished in between; a later write recreates it.
		case cur < 0:
			// Freshly created set with no expiry yet.
			err = s.client.Expire(ctx, s.tagKey(tag), indexTTL).Err()
		case cur < indexTTL:
			err = s.client.Expire(ctx, s.tagKey(tag), indexTTL).Err()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// withRetry runs op with a per-attempt timeout, retrying transient failures
// up to maxRetries times. redis.Nil is a result, not a failure, and is
// returned immediately.
func (s *L2Store) withRetry(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
			s.log.Debug("retrying l2 operation", logging.Int("attempt", attempt))
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if s.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		}
		err = op(callCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil || stderrors.Is(err, redis.Nil) {
			return err
		}
	}
	return err
}
