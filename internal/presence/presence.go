package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Record is the value stored at presence:{tenantId}:user:{userId}.
type Record struct {
	Status     string    `json:"status"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Tracker keeps TTL-based online/last-seen state per tenant. A user is
// online exactly as long as the TTL'd record exists; there is no separate
// flag that could drift from the TTL state.
type Tracker struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger

	now func() time.Time
}

func NewTracker(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.L()
	}
	return &Tracker{rdb: rdb, ttl: ttl, log: log, now: time.Now}
}

func userKey(tenantID, userID string) string {
	return fmt.Sprintf("presence:%s:user:%s", tenantID, userID)
}

func onlineKey(tenantID string) string {
	return fmt.Sprintf("presence:%s:online", tenantID)
}

// Join creates or refreshes the user's presence record and registers them in
// the tenant's last-seen-ordered online set.
func (t *Tracker) Join(ctx context.Context, tenantID, userID string) error {
	now := t.now().UTC()
	payload, err := json.Marshal(Record{Status: "online", LastSeenAt: now})
	if err != nil {
		return err
	}

	pipe := t.rdb.TxPipeline()
	pipe.Set(ctx, userKey(tenantID, userID), payload, t.ttl)
	pipe.ZAdd(ctx, onlineKey(tenantID), redis.Z{
		Score:  float64(now.Unix()),
		Member: userID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence join %s/%s: %w", tenantID, userID, err)
	}
	return nil
}

// Heartbeat extends the record's TTL and bumps the last-seen score. A
// heartbeat for an already-expired user amounts to a fresh Join.
func (t *Tracker) Heartbeat(ctx context.Context, tenantID, userID string) error {
	return t.Join(ctx, tenantID, userID)
}

// Leave removes the user immediately instead of waiting for TTL expiry.
func (t *Tracker) Leave(ctx context.Context, tenantID, userID string) error {
	pipe := t.rdb.TxPipeline()
	pipe.Del(ctx, userKey(tenantID, userID))
	pipe.ZRem(ctx, onlineKey(tenantID), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence leave %s/%s: %w", tenantID, userID, err)
	}
	return nil
}

// ListOnline returns the tenant's currently-online users, oldest heartbeat
// first. The online set can hold members whose record already expired (the
// set itself has no per-member TTL); those are filtered out here and pruned
// from the set as a side effect.
func (t *Tracker) ListOnline(ctx context.Context, tenantID string) ([]string, error) {
	members, err := t.rdb.ZRange(ctx, onlineKey(tenantID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list %s: %w", tenantID, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := t.rdb.Pipeline()
	checks := make([]*redis.IntCmd, len(members))
	for i, userID := range members {
		checks[i] = pipe.Exists(ctx, userKey(tenantID, userID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("presence list %s: %w", tenantID, err)
	}

	online := make([]string, 0, len(members))
	var stale []any
	for i, userID := range members {
		if checks[i].Val() > 0 {
			online = append(online, userID)
		} else {
			stale = append(stale, userID)
		}
	}
	if len(stale) > 0 {
		if err := t.rdb.ZRem(ctx, onlineKey(tenantID), stale...).Err(); err != nil {
			t.log.Warn("presence.prune_failed",
				zap.String("tenant", tenantID), zap.Error(err))
		}
	}
	return online, nil
}

// Get returns the stored record, or nil when the user is offline.
func (t *Tracker) Get(ctx context.Context, tenantID, userID string) (*Record, error) {
	raw, err := t.rdb.Get(ctx, userKey(tenantID, userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("presence record %s/%s: %w", tenantID, userID, err)
	}
	return &rec, nil
}
