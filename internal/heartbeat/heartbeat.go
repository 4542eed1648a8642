package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Counters is the slice of the gateway the heartbeat reads its metrics from.
type Counters interface {
	SocketCount() int
	RoomCount() int
}

// AlertStats reports how many alerts this instance has seen acknowledged.
type AlertStats interface {
	AcknowledgedCount() int
}

// Metrics is the value stored at server:{serverId}:heartbeat. Liveness/ops
// visibility only; nothing depends on it for correctness.
type Metrics struct {
	ServerID           string    `json:"serverId"`
	Goroutines         int       `json:"goroutines"`
	Sockets            int       `json:"sockets"`
	Rooms              int       `json:"rooms"`
	AcknowledgedAlerts int       `json:"acknowledgedAlerts"`
	LastBeatAt         time.Time `json:"lastBeatAt"`
}

// Beater periodically writes this instance's heartbeat with a TTL of three
// intervals, so a crashed instance disappears from ops views on its own.
type Beater struct {
	rdb      *redis.Client
	serverID string
	interval time.Duration
	counters Counters
	alerts   AlertStats
	log      *zap.Logger

	now func() time.Time
}

func New(rdb *redis.Client, serverID string, counters Counters, alerts AlertStats, interval time.Duration, log *zap.Logger) *Beater {
	if log == nil {
		log = zap.L()
	}
	return &Beater{
		rdb:      rdb,
		serverID: serverID,
		interval: interval,
		counters: counters,
		alerts:   alerts,
		log:      log,
		now:      time.Now,
	}
}

func Key(serverID string) string {
	return fmt.Sprintf("server:%s:heartbeat", serverID)
}

// Beat writes one heartbeat sample.
func (b *Beater) Beat(ctx context.Context) error {
	m := Metrics{
		ServerID:   b.serverID,
		Goroutines: runtime.NumGoroutine(),
		LastBeatAt: b.now().UTC(),
	}
	if b.counters != nil {
		m.Sockets = b.counters.SocketCount()
		m.Rooms = b.counters.RoomCount()
	}
	if b.alerts != nil {
		m.AcknowledgedAlerts = b.alerts.AcknowledgedCount()
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.rdb.Set(ctx, Key(b.serverID), string(payload), 3*b.interval).Err()
}

// Run beats on a ticker until ctx is done. Run must be started once at
// service boot.
func (b *Beater) Run(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		if err := b.Beat(ctx); err != nil {
			b.log.Warn("heartbeat.beat", zap.Error(err))
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := b.Beat(ctx); err != nil {
					b.log.Warn("heartbeat.beat", zap.Error(err))
				}
			}
		}
	}()
}
