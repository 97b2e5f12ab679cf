package broadcast

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasktogether-api/domain"
)

const channelPrefix = "taskTogether.chat."

// ChannelName returns the pub/sub channel carrying chat for a group.
func ChannelName(groupID string) string {
	return channelPrefix + groupID
}

type envelope struct {
	Type    string             `json:"type"`
	Origin  string             `json:"origin"`
	GroupID string             `json:"groupId"`
	Message domain.ChatMessage `json:"message"`
}

// Broadcaster fans chat messages out to other execution contexts through one
// Redis pub/sub channel per group. Delivery is at-most-once, unordered and
// unacknowledged; a context never receives its own publishes. The payload is
// a refresh signal only — receivers are expected to re-read the document
// store for the authoritative chat list.
type Broadcaster struct {
	rc     *redis.Client
	origin string
	logger *log.Logger

	// ctx outlives any single listener; receive loops run on it so a cached
	// subscription survives its first caller disconnecting.
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	chans map[string]*groupChannel
}

type groupChannel struct {
	sub *redis.PubSub

	mu       sync.Mutex
	handlers map[int]func(domain.ChatMessage)
	nextID   int
}

// New creates a Broadcaster with a fresh origin identity.
func New(rc *redis.Client, logger *log.Logger) *Broadcaster {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broadcaster{
		rc:     rc,
		origin: uuid.NewString(),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		chans:  map[string]*groupChannel{},
	}
}

// Publish sends the message on the group's channel. Subscribers in the same
// Broadcaster instance will not see it.
func (b *Broadcaster) Publish(ctx context.Context, groupID string, msg domain.ChatMessage) error {
	env := envelope{Type: "chat", Origin: b.origin, GroupID: groupID, Message: msg}
	data, err := sonic.Marshal(env)
	if err != nil {
		return err
	}
	return b.rc.Publish(ctx, ChannelName(groupID), data).Err()
}

// Listen attaches a handler to the group's channel, subscribing lazily on
// first use. The subscription itself is cached for the lifetime of the
// Broadcaster; the returned function detaches just this handler.
func (b *Broadcaster) Listen(ctx context.Context, groupID string, handler func(domain.ChatMessage)) (func(), error) {
	gc, err := b.channel(ctx, groupID)
	if err != nil {
		return nil, err
	}

	gc.mu.Lock()
	id := gc.nextID
	gc.nextID++
	gc.handlers[id] = handler
	gc.mu.Unlock()

	return func() {
		gc.mu.Lock()
		delete(gc.handlers, id)
		gc.mu.Unlock()
	}, nil
}

func (b *Broadcaster) channel(ctx context.Context, groupID string) (*groupChannel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gc, ok := b.chans[groupID]; ok {
		return gc, nil
	}

	sub := b.rc.Subscribe(b.ctx, ChannelName(groupID))
	// Wait for the subscription confirmation so messages published right
	// after Listen returns are not lost. The caller's ctx bounds only this
	// handshake; the subscription itself belongs to the Broadcaster.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	gc := &groupChannel{sub: sub, handlers: map[int]func(domain.ChatMessage){}}
	b.chans[groupID] = gc
	go b.receive(b.ctx, gc)
	return gc, nil
}

func (b *Broadcaster) receive(ctx context.Context, gc *groupChannel) {
	ch := gc.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := sonic.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.WithError(err).Warn("dropping malformed broadcast payload")
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			gc.mu.Lock()
			handlers := make([]func(domain.ChatMessage), 0, len(gc.handlers))
			for _, h := range gc.handlers {
				handlers = append(handlers, h)
			}
			gc.mu.Unlock()
			for _, h := range handlers {
				h(env.Message)
			}
		}
	}
}

// Close stops the receive loops and tears down every cached subscription.
func (b *Broadcaster) Close() error {
	b.cancel()
	b.mu.Lock()
	defer b.mu.Unlock()
	var first error
	for id, gc := range b.chans {
		if err := gc.sub.Close(); err != nil && first == nil {
			first = err
		}
		delete(b.chans, id)
	}
	return first
}
