// README: Offer log backed by Redis sets; remembers which drivers were offered a ride.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"rebeca/internal/types"
)

const (
	offeredKeyFmt   = "dispatch:%s:ride:%s:offered"
	offeredAtKeyFmt = "dispatch:%s:ride:%s:offered_at"
	// Rides resolve well within a day; the keys only serve support lookups.
	DefaultOfferTTL = 24 * time.Hour
)

type OfferLog struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewOfferLog(client *redis.Client, ttl time.Duration) *OfferLog {
	if ttl <= 0 {
		ttl = DefaultOfferTTL
	}
	return &OfferLog{redis: client, ttl: ttl}
}

// Record adds driverIDs to the set of drivers offered rideID and stamps the
// first offer time.
func (l *OfferLog) Record(ctx context.Context, tenantID, rideID types.ID, driverIDs []types.ID, at time.Time) error {
	if len(driverIDs) == 0 {
		return nil
	}
	members := make([]interface{}, len(driverIDs))
	for i, d := range driverIDs {
		members[i] = string(d)
	}
	key := offeredKey(tenantID, rideID)
	pipe := l.redis.TxPipeline()
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, l.ttl)
	pipe.SetNX(ctx, offeredAtKey(tenantID, rideID), at.UTC().Format(time.RFC3339), l.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Offered returns the drivers offered rideID, sorted by id.
func (l *OfferLog) Offered(ctx context.Context, tenantID, rideID types.ID) ([]types.ID, error) {
	members, err := l.redis.SMembers(ctx, offeredKey(tenantID, rideID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	out := make([]types.ID, len(members))
	for i, m := range members {
		out[i] = types.ID(m)
	}
	return out, nil
}

// OfferedAt returns when rideID was first offered, and whether it was.
func (l *OfferLog) OfferedAt(ctx context.Context, tenantID, rideID types.ID) (time.Time, bool, error) {
	val, err := l.redis.Get(ctx, offeredAtKey(tenantID, rideID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func offeredKey(tenantID, rideID types.ID) string {
	return fmt.Sprintf(offeredKeyFmt, tenantID, rideID)
}

func offeredAtKey(tenantID, rideID types.ID) string {
	return fmt.Sprintf(offeredAtKeyFmt, tenantID, rideID)
}
