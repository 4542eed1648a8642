package presencewatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run listens to key-expiry events and eagerly prunes users whose presence
// record timed out from their tenant's online set, so dashboards don't wait
// for the next ListOnline sweep. Run must be started once at service boot.
//
// Correctness never depends on this: ListOnline filters expired members
// itself, and keyspace notifications are best-effort.
func Run(ctx context.Context, sub, cmd *redis.Client, log *zap.Logger) {
	if log == nil {
		log = zap.L()
	}
	_ = cmd.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err()
	ps := sub.PSubscribe(ctx, "__keyevent@*__:expired")
	for {
		select {
		case <-ctx.Done():
			_ = ps.Close()
			return
		case m := <-ps.Channel():
			tenantID, userID, ok := parsePresenceKey(m.Payload)
			if !ok {
				continue
			}
			onlineKey := fmt.Sprintf("presence:%s:online", tenantID)
			if err := cmd.ZRem(ctx, onlineKey, userID).Err(); err != nil {
				log.Warn("presencewatcher.prune", zap.String("key", m.Payload), zap.Error(err))
			}
		}
	}
}

// parsePresenceKey extracts (tenantId, userId) from presence:{t}:user:{u}.
func parsePresenceKey(key string) (tenantID, userID string, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != "presence" || parts[2] != "user" {
		return "", "", false
	}
	return parts[1], parts[3], true
}
