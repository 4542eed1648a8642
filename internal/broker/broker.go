package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"realtimesvc/internal/redis/connmgr"
)

// Handler receives every message published on a channel. The payload is
// guaranteed to be valid JSON; malformed frames are dropped before dispatch.
type Handler func(channel string, payload json.RawMessage)

// Broker fans broker channel messages out to any number of in-process
// handlers while holding **exactly one** underlying Redis subscription per
// channel, no matter how many local consumers register.
//
// Delivery is best-effort pub/sub: every process connected at publish time
// sees the message once, a disconnected process never sees it. There is no
// durable log behind this on purpose.
type Broker struct {
	mgr *connmgr.Manager
	log *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]*channelSub // channel ➜ the one Redis subscription + its local handlers
	nextID uint64
	closed bool
}

// channelSub is one confirmed Redis subscription plus its local fan-out set.
type channelSub struct {
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	handlers map[uint64]Handler
}

// Subscription is the handle returned by Subscribe. Close is idempotent and
// safe to call from inside the subscription's own handler.
type Subscription struct {
	b       *Broker
	channel string
	id      uint64
	once    sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.remove(s.channel, s.id)
	})
}

// New builds the broker. Subscriptions are opened per channel on first use;
// the context bounds the broker's lifetime.
func New(ctx context.Context, mgr *connmgr.Manager, log *zap.Logger) *Broker {
	if log == nil {
		log = zap.L()
	}
	brokerCtx, cancel := context.WithCancel(ctx)
	return &Broker{
		mgr:    mgr,
		log:    log,
		ctx:    brokerCtx,
		cancel: cancel,
		subs:   make(map[string]*channelSub),
	}
}

// Subscribe registers handler for channel. The first handler for a channel
// issues the single underlying SUBSCRIBE and waits for the broker's
// confirmation before returning, so a message published right after
// Subscribe returns is already covered. Later handlers only join the local
// fan-out set.
func (b *Broker) Subscribe(channel string, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("broker: nil handler for channel %s", channel)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broker: closed")
	}

	cs, ok := b.subs[channel]
	if !ok {
		ps := b.mgr.Subscriber().Subscribe(b.ctx, channel)

		// Consume the subscription confirmation so the SUBSCRIBE is
		// effective on the wire before Subscribe returns.
		confirmCtx, confirmCancel := context.WithTimeout(b.ctx, 5*time.Second)
		_, err := ps.Receive(confirmCtx)
		confirmCancel()
		if err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("broker: subscribe %s: %w", channel, err)
		}

		subCtx, subCancel := context.WithCancel(b.ctx)
		cs = &channelSub{
			pubsub:   ps,
			cancel:   subCancel,
			handlers: make(map[uint64]Handler),
		}
		b.subs[channel] = cs

		go b.receive(subCtx, channel, ps.Channel())
	}

	b.nextID++
	id := b.nextID
	cs.handlers[id] = handler

	return &Subscription{b: b, channel: channel, id: id}, nil
}

func (b *Broker) remove(channel string, id uint64) {
	b.mu.Lock()
	cs, ok := b.subs[channel]
	if !ok {
		b.mu.Unlock()
		return
	}
	if _, ok := cs.handlers[id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(cs.handlers, id)
	if len(cs.handlers) > 0 {
		b.mu.Unlock()
		return
	}
	delete(b.subs, channel)
	b.mu.Unlock()

	// Last local handler gone ➜ tear the Redis subscription down, outside
	// the lock so this stays safe from inside a handler.
	cs.cancel()
	if err := cs.pubsub.Close(); err != nil {
		b.log.Warn("broker.unsubscribe_failed",
			zap.String("channel", channel), zap.Error(err))
	}
}

// Publish serializes v to JSON and publishes it on channel via the command
// connection. Failures are returned to the caller, never swallowed.
func (b *Broker) Publish(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("broker: marshal for %s: %w", channel, err)
	}
	if err := b.mgr.Command().Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("broker: publish %s: %w", channel, err)
	}
	return nil
}

func (b *Broker) receive(ctx context.Context, channel string, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			b.dispatch(channel, []byte(m.Payload))
		}
	}
}

func (b *Broker) dispatch(channel string, payload []byte) {
	if !json.Valid(payload) {
		b.log.Warn("broker.parse_failed", zap.String("channel", channel))
		return
	}

	// Snapshot under the lock, invoke outside it, so a handler may safely
	// close its own subscription without deadlocking.
	b.mu.Lock()
	var handlers []Handler
	if cs, ok := b.subs[channel]; ok {
		handlers = make([]Handler, 0, len(cs.handlers))
		for _, h := range cs.handlers {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		b.invoke(channel, h, json.RawMessage(payload))
	}
}

// invoke isolates handler failures so one broken handler cannot prevent
// delivery to the others.
func (b *Broker) invoke(channel string, h Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("broker.handler_panic",
				zap.String("channel", channel), zap.Any("panic", r))
		}
	}()
	h(channel, payload)
}

// Close tears every channel subscription down. Idempotent.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*channelSub)
	b.mu.Unlock()

	b.cancel()
	for channel, cs := range subs {
		cs.cancel()
		if err := cs.pubsub.Close(); err != nil {
			b.log.Warn("broker.close_failed",
				zap.String("channel", channel), zap.Error(err))
		}
	}
	return nil
}
