package counter

import (
	"context"
	"strconv"
	"strings"

	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
)

const (
	processedKey = "webhook:counters:processed"
	duplicateKey = "webhook:counters:duplicate"
	ignoredKey   = "webhook:counters:ignored"
	failedKey    = "webhook:counters:failed"
)

var outcomeKeys = map[string]string{
	"processed": processedKey,
	"duplicate": duplicateKey,
	"ignored":   ignoredKey,
	"failed":    failedKey,
}

// AddOutcome increments the per-provider counter for a delivery outcome in
// Redis. Counting is best effort; callers drop the error.
func AddOutcome(provider, outcome string) error {
	key, ok := outcomeKeys[strings.ToLower(strings.TrimSpace(outcome))]
	if !ok {
		return nil
	}
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, key, strings.ToLower(strings.TrimSpace(provider)), 1).Err()
}

// Totals returns the per-provider counts for every outcome.
func Totals() (map[string]map[string]int64, error) {
	ctx := context.Background()
	rdb := cache.GetClient()

	out := make(map[string]map[string]int64, len(outcomeKeys))
	for outcome, key := range outcomeKeys {
		data, err := rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		counts := make(map[string]int64, len(data))
		for provider, raw := range data {
			n, perr := strconv.ParseInt(raw, 10, 64)
			if perr != nil {
				continue
			}
			counts[provider] = n
		}
		out[outcome] = counts
	}
	return out, nil
}
