package connmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Manager owns the two long-lived Redis connections the service runs on: a
// command client for ordinary operations and a dedicated subscriber client.
// A client in subscribe mode cannot issue regular commands, so the split is
// mandatory, not an optimization.
type Manager struct {
	addr     string
	attempts int
	step     time.Duration
	cap      time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	cmd     *redis.Client
	sub     *redis.Client
	healthy bool
}

type Options struct {
	Host            string
	Port            uint16
	ConnectAttempts int
	BackoffStep     time.Duration
	BackoffCap      time.Duration
}

func New(opts Options, log *zap.Logger) *Manager {
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = 10
	}
	if opts.BackoffStep <= 0 {
		opts.BackoffStep = 200 * time.Millisecond
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 2 * time.Second
	}
	if log == nil {
		log = zap.L()
	}
	return &Manager{
		addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		attempts: opts.ConnectAttempts,
		step:     opts.BackoffStep,
		cap:      opts.BackoffCap,
		log:      log,
	}
}

func (m *Manager) newClient() *redis.Client {
	maxPool := runtime.NumCPU() * 8
	if maxPool > 512 {
		maxPool = 512
	}
	return redis.NewClient(&redis.Options{
		Addr:     m.addr,
		PoolSize: maxPool,
	})
}

// Command returns the client for ordinary commands, creating it if Close was
// called (or Connect never was).
func (m *Manager) Command() *redis.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd == nil {
		m.cmd = m.newClient()
	}
	return m.cmd
}

// Subscriber returns the client reserved for SUBSCRIBE traffic.
func (m *Manager) Subscriber() *redis.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub == nil {
		m.sub = m.newClient()
	}
	return m.sub
}

// BackoffDelay returns the wait before retry n (1-based): min(n*step, cap).
func (m *Manager) BackoffDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * m.step
	if d > m.cap {
		d = m.cap
	}
	return d
}

// Connect verifies both connections, retrying with capped backoff. After the
// configured number of consecutive failures the manager reports unhealthy and
// returns the last error; a later Connect call starts fresh.
func (m *Manager) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.Command().Ping(pingCtx).Err()
		if err == nil {
			err = m.Subscriber().Ping(pingCtx).Err()
		}
		cancel()

		if err == nil {
			m.setHealthy(true)
			return nil
		}
		lastErr = err
		m.log.Warn("redis.connect_failed",
			zap.Int("attempt", attempt), zap.Error(err))

		if attempt == m.attempts {
			break
		}
		select {
		case <-ctx.Done():
			m.setHealthy(false)
			return ctx.Err()
		case <-time.After(m.BackoffDelay(attempt)):
		}
	}
	m.setHealthy(false)
	return fmt.Errorf("redis connection failed after %d attempts: %w", m.attempts, lastErr)
}

func (m *Manager) setHealthy(v bool) {
	m.mu.Lock()
	m.healthy = v
	m.mu.Unlock()
}

// Healthy reports whether the last connect/ping cycle succeeded.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// Watch pings on a ticker and re-runs the connect retry policy on failure, so
// transient broker outages flip Healthy instead of hanging callers.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err := m.Command().Ping(pingCtx).Err()
				cancel()
				if err == nil {
					m.setHealthy(true)
					continue
				}
				m.log.Warn("redis.watch_ping_failed", zap.Error(err))
				if IsRecoverable(err) {
					_ = m.Connect(ctx)
				} else {
					m.setHealthy(false)
				}
			}
		}
	}()
}

// Close quits both connections and drops the references so a later
// Command/Subscriber call builds fresh clients. Supports test isolation and
// restart after a permanent failure.
func (m *Manager) Close() error {
	m.mu.Lock()
	cmd, sub := m.cmd, m.sub
	m.cmd, m.sub = nil, nil
	m.healthy = false
	m.mu.Unlock()

	var errs []error
	if cmd != nil {
		if err := cmd.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsRecoverable classifies errors that warrant a reconnect attempt (timeouts,
// resets, replica handover) versus ones that are fatal for the operation.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"READONLY", "LOADING", "connection reset", "connection refused", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
