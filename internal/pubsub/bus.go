// Package pubsub bridges message delivery across server instances over
// Redis pub/sub. It is the Go rendering of the original service's redis.cpp:
// two broker connections, one for PUBLISH and one dedicated to SUBSCRIBE,
// because a subscribed connection blocks on read and must not be shared
// with synchronous publish traffic.
package pubsub

import (
	"context"
	"log"
	"strconv"
	"sync"

	"github.com/go-redis/redis/v8"
)

// Bus wraps two Redis connections: one used only for PUBLISH, one whose
// PubSub sits in a long-lived receive loop drained by a dedicated goroutine.
type Bus struct {
	pub *redis.Client
	sub *redis.PubSub

	mu       sync.Mutex // serializes Subscribe/Unsubscribe against the shared PubSub
	onMsg    func(channel int64, payload string)
	onMsgMu  sync.RWMutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// New dials both Redis connections and starts the receive loop. The
// subscribe connection is opened with zero channels; channels are added
// later via Subscribe.
func New(addr, password string, db int) (*Bus, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	pub := redis.NewClient(opts)
	subCli := redis.NewClient(opts)

	ctx, cancel := context.WithCancel(context.Background())
	if err := pub.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, err
	}
	if err := subCli.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, err
	}

	b := &Bus{
		pub:    pub,
		sub:    subCli.Subscribe(ctx /* no channels yet */),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go b.loop(ctx)
	log.Println("pubsub: connected to redis")
	return b, nil
}

// loop drains the subscribe connection on its own goroutine and invokes the
// registered handler for every message delivered on a subscribed channel.
// This is the direct analogue of observer_channel_message in the original
// redis.cpp.
func (b *Bus) loop(ctx context.Context) {
	defer close(b.done)
	ch := b.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			channel, err := strconv.ParseInt(msg.Channel, 10, 64)
			if err != nil {
				log.Printf("pubsub: non-numeric channel %q, dropping", msg.Channel)
				continue
			}
			b.onMsgMu.RLock()
			handler := b.onMsg
			b.onMsgMu.RUnlock()
			if handler != nil {
				handler(channel, msg.Payload)
			}
		}
	}
}

// SetOnMessage registers the callback invoked for every message received on
// a subscribed channel.
func (b *Bus) SetOnMessage(handler func(channel int64, payload string)) {
	b.onMsgMu.Lock()
	b.onMsg = handler
	b.onMsgMu.Unlock()
}

// Subscribe subscribes the receive loop to channel. Returns once the
// SUBSCRIBE command has been sent; the broker's own confirmation arrives
// asynchronously on the same channel the receive loop already drains.
func (b *Bus) Subscribe(ctx context.Context, channel int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sub.Subscribe(ctx, strconv.FormatInt(channel, 10))
}

// Unsubscribe is the symmetric counterpart to Subscribe.
func (b *Bus) Unsubscribe(ctx context.Context, channel int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sub.Unsubscribe(ctx, strconv.FormatInt(channel, 10))
}

// Publish sends payload to channel. Returns true if the broker accepted the
// command, false on any error (connection down, etc). A failure is logged
// and not retried.
func (b *Bus) Publish(ctx context.Context, channel int64, payload string) bool {
	err := b.pub.Publish(ctx, strconv.FormatInt(channel, 10), payload).Err()
	if err != nil {
		log.Printf("pubsub: publish to channel %d failed: %v", channel, err)
		return false
	}
	return true
}

// Close tears down both connections and stops the receive loop.
func (b *Bus) Close() error {
	b.cancel()
	<-b.done
	b.sub.Close()
	return b.pub.Close()
}
