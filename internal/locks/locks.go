package locks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Record is the value stored under a lock key while it is held.
type Record struct {
	HolderID   string    `json:"holderId"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Manager arbitrates mutually-exclusive, TTL-bounded locks on documents and
// document elements. A denied acquisition is a normal outcome, not an error;
// callers decide whether to retry or tell the user someone else is editing.
// Crashed holders recover automatically through TTL expiry: there is no
// queueing and no liveness handshake beyond explicit Renew calls.
type Manager struct {
	rdb        *redis.Client
	defaultTTL time.Duration
	maxTTL     time.Duration
	log        *zap.Logger
}

// renewScript extends the TTL only when the presented token still matches the
// stored record, so a holder that already lost the lock cannot resurrect it.
var renewScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then return 0 end
local rec = cjson.decode(raw)
if rec.token ~= ARGV[1] then return 0 end
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

// releaseScript deletes the lock only for the current holder's token; a stale
// token leaves the lock held by its rightful owner.
var releaseScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then return 0 end
local rec = cjson.decode(raw)
if rec.token ~= ARGV[1] then return 0 end
redis.call("DEL", KEYS[1])
return 1
`)

func NewManager(rdb *redis.Client, defaultTTL, maxTTL time.Duration, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.L()
	}
	return &Manager{rdb: rdb, defaultTTL: defaultTTL, maxTTL: maxTTL, log: log}
}

// DocumentScope builds the lock key for a whole document.
func DocumentScope(documentID string) string {
	return fmt.Sprintf("document:%s:lock", documentID)
}

// ElementScope builds the lock key for a single element within a document.
func ElementScope(documentID, elementID string) string {
	return fmt.Sprintf("document:%s:element:%s:lock", documentID, elementID)
}

func (m *Manager) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return m.defaultTTL
	}
	if m.maxTTL > 0 && ttl > m.maxTTL {
		return m.maxTTL
	}
	return ttl
}

// Acquire attempts to take the lock at scope. On success it returns a fresh
// opaque token required for Renew and Release. ok=false means the scope is
// currently held by someone else whose TTL has not yet expired.
func (m *Manager) Acquire(ctx context.Context, scope, holderID string, ttl time.Duration) (token string, ok bool, err error) {
	ttl = m.clampTTL(ttl)
	token = uuid.NewString()

	payload, err := json.Marshal(Record{
		HolderID:   holderID,
		Token:      token,
		AcquiredAt: time.Now().UTC(),
	})
	if err != nil {
		return "", false, err
	}

	// Atomic "set if not held"; an expired previous holder is simply an
	// absent key, so TTL recovery needs no extra handling here.
	ok, err = m.rdb.SetNX(ctx, scope, payload, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lock acquire %s: %w", scope, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Renew extends the TTL for the holder presenting the original token.
func (m *Manager) Renew(ctx context.Context, scope, token string, ttl time.Duration) (bool, error) {
	ttl = m.clampTTL(ttl)
	res, err := renewScript.Run(ctx, m.rdb, []string{scope},
		token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("lock renew %s: %w", scope, err)
	}
	return res == 1, nil
}

// Release frees the lock if token matches the current holder's. A stale or
// wrong token is denied and leaves the lock held.
func (m *Manager) Release(ctx context.Context, scope, token string) (bool, error) {
	res, err := releaseScript.Run(ctx, m.rdb, []string{scope}, token).Int()
	if err != nil {
		return false, fmt.Errorf("lock release %s: %w", scope, err)
	}
	return res == 1, nil
}

// Inspect returns the current record, or nil when the scope is unlocked.
// Intended for dashboards; correctness never depends on it.
func (m *Manager) Inspect(ctx context.Context, scope string) (*Record, error) {
	raw, err := m.rdb.Get(ctx, scope).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("lock record %s: %w", scope, err)
	}
	return &rec, nil
}
