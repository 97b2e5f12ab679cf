package broadcast

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasktogether-api/domain"
)

func newTestPair(t *testing.T) (*Broadcaster, *Broadcaster, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = clientA.Close() })
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = clientB.Close() })

	a := New(clientA, log.New())
	t.Cleanup(func() { _ = a.Close() })
	b := New(clientB, log.New())
	t.Cleanup(func() { _ = b.Close() })
	return a, b, clientA
}

func waitFor(t *testing.T, ch <-chan domain.ChatMessage) domain.ChatMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for broadcast")
		return domain.ChatMessage{}
	}
}

func expectNothing(t *testing.T, ch <-chan domain.ChatMessage) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected delivery: %#v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishReachesOtherContextOnly(t *testing.T) {
	a, b, _ := newTestPair(t)
	ctx := context.Background()

	recvA := make(chan domain.ChatMessage, 4)
	if _, err := a.Listen(ctx, "g1", func(m domain.ChatMessage) { recvA <- m }); err != nil {
		t.Fatalf("listen a: %v", err)
	}
	recvB := make(chan domain.ChatMessage, 4)
	if _, err := b.Listen(ctx, "g1", func(m domain.ChatMessage) { recvB <- m }); err != nil {
		t.Fatalf("listen b: %v", err)
	}

	msg := domain.ChatMessage{ID: "m1", UserID: "u1", Text: "hello", Ts: 1756400000000}
	if err := a.Publish(ctx, "g1", msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := waitFor(t, recvB)
	if got != msg {
		t.Fatalf("unexpected message: %#v", got)
	}
	// Exactly once on the other side, never back to the publisher.
	expectNothing(t, recvB)
	expectNothing(t, recvA)
}

func TestChannelsAreScopedPerGroup(t *testing.T) {
	a, b, _ := newTestPair(t)
	ctx := context.Background()

	recvB := make(chan domain.ChatMessage, 4)
	if _, err := b.Listen(ctx, "g2", func(m domain.ChatMessage) { recvB <- m }); err != nil {
		t.Fatalf("listen: %v", err)
	}

	if err := a.Publish(ctx, "g1", domain.ChatMessage{ID: "m1", Text: "wrong room"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	expectNothing(t, recvB)

	if err := a.Publish(ctx, "g2", domain.ChatMessage{ID: "m2", Text: "right room"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := waitFor(t, recvB); got.ID != "m2" {
		t.Fatalf("unexpected message: %#v", got)
	}
}

func TestSubscriptionSurvivesFirstListenerContext(t *testing.T) {
	a, b, _ := newTestPair(t)

	// The first listener on a group brings the subscription up, then leaves.
	ctx1, cancel1 := context.WithCancel(context.Background())
	if _, err := b.Listen(ctx1, "g1", func(domain.ChatMessage) {}); err != nil {
		t.Fatalf("first listen: %v", err)
	}
	cancel1()

	recvB := make(chan domain.ChatMessage, 4)
	if _, err := b.Listen(context.Background(), "g1", func(m domain.ChatMessage) { recvB <- m }); err != nil {
		t.Fatalf("second listen: %v", err)
	}

	if err := a.Publish(context.Background(), "g1", domain.ChatMessage{ID: "m1", Text: "after leave"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := waitFor(t, recvB); got.ID != "m1" {
		t.Fatalf("unexpected message: %#v", got)
	}
}

func TestListenCancelDetachesHandler(t *testing.T) {
	a, b, _ := newTestPair(t)
	ctx := context.Background()

	recvB := make(chan domain.ChatMessage, 4)
	cancel, err := b.Listen(ctx, "g1", func(m domain.ChatMessage) { recvB <- m })
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cancel()

	if err := a.Publish(ctx, "g1", domain.ChatMessage{ID: "m1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	expectNothing(t, recvB)
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	a, b, clientA := newTestPair(t)
	ctx := context.Background()

	recvB := make(chan domain.ChatMessage, 4)
	if _, err := b.Listen(ctx, "g1", func(m domain.ChatMessage) { recvB <- m }); err != nil {
		t.Fatalf("listen: %v", err)
	}

	if err := clientA.Publish(ctx, ChannelName("g1"), "{garbage").Err(); err != nil {
		t.Fatalf("raw publish: %v", err)
	}
	expectNothing(t, recvB)

	// The subscription is still alive after a bad payload.
	if err := a.Publish(ctx, "g1", domain.ChatMessage{ID: "m1", Text: "still works"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := waitFor(t, recvB); got.ID != "m1" {
		t.Fatalf("unexpected message: %#v", got)
	}
}

func TestChannelName(t *testing.T) {
	if got := ChannelName("abc"); got != "taskTogether.chat.abc" {
		t.Fatalf("unexpected channel name %q", got)
	}
}
