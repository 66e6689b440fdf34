package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/mmcloughlin/geohash"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisMirror maintains an observational copy of rider positions in Redis
// GEO for ops tooling. Dispatch never reads it; the in-process presence
// registry stays authoritative.
type RedisMirror struct {
	client *redis.Client
	geoKey string
}

func NewRedisMirror(addr, password, geoKey string) *RedisMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisMirror{client: c, geoKey: geoKey}
}

// NewRedisMirrorWithClient wraps an existing client, mainly for tests.
func NewRedisMirrorWithClient(c *redis.Client, geoKey string) *RedisMirror {
	return &RedisMirror{client: c, geoKey: geoKey}
}

func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Upsert writes the rider's position plus a metadata hash keyed by rider ID.
// The geohash cell lets dashboards bucket riders without GEO queries.
func (m *RedisMirror) Upsert(ctx context.Context, ev models.RiderLocationEvent) error {
	if _, err := m.client.GeoAdd(ctx, m.geoKey, &redis.GeoLocation{
		Longitude: ev.Loc.Lon,
		Latitude:  ev.Loc.Lat,
		Name:      ev.RiderID,
	}).Result(); err != nil {
		return err
	}
	cell := geohash.EncodeWithPrecision(ev.Loc.Lat, ev.Loc.Lon, 7)
	return m.client.HSet(ctx, metaKey(ev.RiderID), map[string]interface{}{
		"vehicle_class": ev.VehicleClass,
		"heading_deg":   strconv.FormatFloat(ev.HeadingDeg, 'f', 1, 64),
		"geohash":       cell,
		"updated":       ev.RecordedAt.Format(time.RFC3339),
	}).Err()
}

// Remove drops a rider from the mirror when they go off duty.
func (m *RedisMirror) Remove(ctx context.Context, riderID string) error {
	if err := m.client.ZRem(ctx, m.geoKey, riderID).Err(); err != nil {
		return err
	}
	return m.client.Del(ctx, metaKey(riderID)).Err()
}

func (m *RedisMirror) Close() error { return m.client.Close() }

func metaKey(riderID string) string { return "rider:meta:" + riderID }
