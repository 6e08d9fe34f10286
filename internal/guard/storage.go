// File: internal/guard/storage.go
package guard

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Scrubber is one client-side storage tier that can be swept for autosaved
// drafts. Each tier implements the same enumerate/filter/delete contract so
// new store types plug in without touching the enforcement controller.
type Scrubber interface {
	// Name identifies the tier in logs ("localStorage", "sessionStorage", ...).
	Name() string
	// Keys enumerates every key currently present in the tier.
	Keys(ctx context.Context) ([]string, error)
	// Remove deletes one entry.
	Remove(ctx context.Context, key string) error
}

// MatchesDraftKey reports whether a storage key looks like an autosaved
// draft, by substring match against the configured vocabulary.
func MatchesDraftKey(key string, vocab []string) bool {
	lower := strings.ToLower(key)
	for _, word := range vocab {
		if word != "" && strings.Contains(lower, strings.ToLower(word)) {
			return true
		}
	}
	return false
}

// ScrubStores sweeps every tier for draft-like keys and removes them. Each
// tier, and each key within a tier, is fault-isolated: a failure clearing
// one entry never prevents scrubbing the rest, or the redirect that follows.
// It returns the number of entries removed.
func ScrubStores(ctx context.Context, stores []Scrubber, vocab []string, logger *zap.Logger) int {
	if logger == nil {
		logger = zap.NewNop()
	}
	removed := 0
	for _, store := range stores {
		keys, err := store.Keys(ctx)
		if err != nil {
			logger.Warn("Storage tier unavailable during scrub; skipping.",
				zap.String("store", store.Name()), zap.Error(err))
			continue
		}
		for _, key := range keys {
			if !MatchesDraftKey(key, vocab) {
				continue
			}
			if err := store.Remove(ctx, key); err != nil {
				logger.Warn("Failed to remove draft entry; continuing.",
					zap.String("store", store.Name()), zap.String("key", key), zap.Error(err))
				continue
			}
			removed++
		}
	}
	return removed
}
