package track

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parcelhub/backend-tracking/internal/carrier"
)

// Cache keeps recent tracking results in Redis so bursts of lookups for the
// same number do not hammer the carrier API. Errors degrade to cache misses.
type Cache struct {
	Client *redis.Client
	TTL    time.Duration
}

func (c Cache) key(tag carrier.Tag, trackingNumber string) string {
	return fmt.Sprintf("track:result:%s:%s", tag, trackingNumber)
}

// Get returns a cached result and whether it was present.
func (c Cache) Get(ctx context.Context, tag carrier.Tag, trackingNumber string) (carrier.Result, bool) {
	if c.Client == nil {
		return carrier.Result{}, false
	}
	raw, err := c.Client.Get(ctx, c.key(tag, trackingNumber)).Bytes()
	if err != nil {
		return carrier.Result{}, false
	}
	var result carrier.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return carrier.Result{}, false
	}
	return result, true
}

// Put stores the result for the configured TTL.
func (c Cache) Put(ctx context.Context, result carrier.Result) {
	if c.Client == nil || c.TTL <= 0 {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = c.Client.Set(ctx, c.key(result.Carrier, result.TrackingNumber), raw, c.TTL).Err()
}
