package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T, ttl time.Duration) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDeduper(client, ttl), mr
}

func TestClaimFreshAndReplay(t *testing.T) {
	d, _ := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	id, fresh, err := d.Claim(ctx, "k1", "task-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !fresh || id != "task-a" {
		t.Fatalf("first claim must win: fresh=%v id=%q", fresh, id)
	}

	id, fresh, err = d.Claim(ctx, "k1", "task-b")
	if err != nil {
		t.Fatalf("replay claim: %v", err)
	}
	if fresh {
		t.Fatal("replay must not be fresh")
	}
	if id != "task-a" {
		t.Fatalf("replay must return the original id, got %q", id)
	}
}

func TestClaimKeysAreIndependent(t *testing.T) {
	d, _ := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	if _, _, err := d.Claim(ctx, "k1", "task-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	id, fresh, err := d.Claim(ctx, "k2", "task-b")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !fresh || id != "task-b" {
		t.Fatalf("second key must claim independently: fresh=%v id=%q", fresh, id)
	}
}

func TestReleaseAllowsRetry(t *testing.T) {
	d, _ := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	if _, _, err := d.Claim(ctx, "k1", "task-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := d.Release(ctx, "k1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	id, fresh, err := d.Claim(ctx, "k1", "task-b")
	if err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	if !fresh || id != "task-b" {
		t.Fatalf("released key must be claimable again: fresh=%v id=%q", fresh, id)
	}
}

func TestClaimSetsTTL(t *testing.T) {
	d, mr := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	if _, _, err := d.Claim(ctx, "k1", "task-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ttl := mr.TTL("idem:k1"); ttl != time.Minute {
		t.Fatalf("expected one minute TTL, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	id, fresh, err := d.Claim(ctx, "k1", "task-b")
	if err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
	if !fresh || id != "task-b" {
		t.Fatalf("expired key must be claimable again: fresh=%v id=%q", fresh, id)
	}
}
