package cache

import (
	"context"
	"sort"

	apperrors "tiercache/common/errors"
	"tiercache/common/logging"
)

// InvalidationBroker applies invalidation requests, by key or by tag set, to
// both tiers. It does not subscribe to any event transport itself; external
// dispatchers call it (or the function returned by Handler) on relevant
// domain events.
type InvalidationBroker struct {
	l1  *L1Store
	l2  *L2Store
	log logging.Logger
}

// NewInvalidationBroker creates a broker over the two tiers.
func NewInvalidationBroker(l1 *L1Store, l2 *L2Store, log logging.Logger) *InvalidationBroker {
	if log == nil {
		log = logging.GetGlobalLogger()
	}
	return &InvalidationBroker{l1: l1, l2: l2, log: log}
}

// InvalidateByTags deletes every key indexed under any of the tags from both
// tiers. The key set is the deduplicated union of both tiers' tag indexes;
// tag memberships are removed as part of each key's deletion, never as a
// separate step.
//
// Invalidation is best-effort: a failed L2 delete does not stop the
// remaining keys, and the returned error reports the keys that could not be
// removed so the caller may retry them.
func (b *InvalidationBroker) InvalidateByTags(ctx context.Context, tags ...string) error {
	keys := make(map[string]struct{})
	var lookupFailedTags []string

	for _, tag := range tags {
		for _, key := range b.l1.KeysWithTag(tag) {
			keys[key] = struct{}{}
		}

		l2Keys, err := b.l2.KeysWithTag(ctx, tag)
		if err != nil {
			// Keys under this tag that live only in L2 cannot be found right
			// now; they self-expire there, and the tag is reported so the
			// caller can retry the invalidation.
			lookupFailedTags = append(lookupFailedTags, tag)
			b.log.Warn("l2 tag index lookup failed",
				logging.String("tag", tag),
				logging.Err(err),
			)
			continue
		}
		for _, key := range l2Keys {
			keys[key] = struct{}{}
		}
	}

	var failedKeys []string
	var lastErr error
	for key := range keys {
		b.l1.Delete(key)
		if err := b.l2.Delete(ctx, key); err != nil {
			failedKeys = append(failedKeys, key)
			lastErr = err
			b.log.Warn("l2 delete failed during invalidation",
				logging.String("key", key),
				logging.Err(err),
			)
		}
	}

	if len(failedKeys) == 0 && len(lookupFailedTags) == 0 {
		b.log.Info("tags invalidated",
			logging.Strings("tags", tags),
			logging.Int("keys", len(keys)),
		)
		return nil
	}

	sort.Strings(failedKeys)
	err := apperrors.PartialInvalidationError(failedKeys, lastErr)
	if len(lookupFailedTags) > 0 {
		sort.Strings(lookupFailedTags)
		err = err.WithContext("unresolved_tags", lookupFailedTags)
	}
	return err
}

// Invalidate removes a single key from both tiers.
func (b *InvalidationBroker) Invalidate(ctx context.Context, key string) error {
	b.l1.Delete(key)
	return b.l2.Delete(ctx, key)
}

// Handler returns a plain function matching the shape event dispatchers
// expect, decoupling the cache from any particular event framework.
func (b *InvalidationBroker) Handler() func(context.Context, []string) error {
	return func(ctx context.Context, tags []string) error {
		return b.InvalidateByTags(ctx, tags...)
	}
}
