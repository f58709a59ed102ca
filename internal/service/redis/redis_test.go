package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"secure_chat/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T, capacity int) (*HistoryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewHistoryCache(NewRedis(rdb), capacity, time.Minute), mr
}

func conversation(n int) []*model.Message {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]*model.Message, n)
	for i := range msgs {
		from, to := "alice", "bob"
		if i%2 == 1 {
			from, to = to, from
		}
		msgs[i] = &model.Message{
			ID:               fmt.Sprintf("m%d", i),
			Sender:           from,
			Recipient:        to,
			EncryptedContent: "Y3Q=",
			IV:               "AAAAAAAAAAAAAAAA",
			Timestamp:        base.Add(time.Duration(i) * time.Second),
		}
	}
	return msgs
}

func ids(msgs []*model.Message) string {
	out := ""
	for _, m := range msgs {
		out += m.ID + " "
	}
	return out
}

func TestHistoryKey_Symmetric(t *testing.T) {
	if historyKey("a", "b") != historyKey("b", "a") {
		t.Fatal("history key depends on argument order")
	}
	if historyKey("a", "b") == historyKey("a", "c") {
		t.Fatal("distinct pairs share a key")
	}
}

func TestHistoryCache_GetBeforeWarm(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, 5)

	msgs, ok, err := c.Get(ctx, "alice", "bob", 5)
	if err != nil || ok || msgs != nil {
		t.Fatalf("cold pair: ok=%v msgs=%v err=%v", ok, msgs, err)
	}
	if v, err := c.Version(ctx, "alice", "bob"); err != nil || v != 0 {
		t.Fatalf("missing version: %d %v", v, err)
	}
}

func TestHistoryCache_WarmCapsAndOrders(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, 3)

	applied, err := c.Warm(ctx, "alice", "bob", 0, conversation(5))
	if err != nil || !applied {
		t.Fatalf("Warm: applied=%v err=%v", applied, err)
	}

	all, ok, err := c.Get(ctx, "bob", "alice", 3)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got := ids(all); got != "m2 m3 m4 " {
		t.Fatalf("want newest three ascending, got %s", got)
	}
	window, _, _ := c.Get(ctx, "alice", "bob", 2)
	if got := ids(window); got != "m3 m4 " {
		t.Fatalf("limit window: %s", got)
	}
	if !all[0].Timestamp.Equal(conversation(5)[2].Timestamp) {
		t.Fatalf("timestamp lost in round trip: %v", all[0].Timestamp)
	}

	key := historyKey("alice", "bob")
	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl not set: %s", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "alice", "bob", 3); ok {
		t.Fatal("list should expire")
	}
}

func TestHistoryCache_InvalidateRefusesStaleWarm(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, 10)

	if _, err := c.Warm(ctx, "alice", "bob", 0, conversation(2)); err != nil {
		t.Fatal(err)
	}

	// a history read takes its version, then a message is stored
	v, err := c.Version(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Invalidate(ctx, "bob", "alice"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "alice", "bob", 10); ok {
		t.Fatal("invalidate should drop the list")
	}

	applied, err := c.Warm(ctx, "alice", "bob", v, conversation(2))
	if err != nil || applied {
		t.Fatalf("stale warm: applied=%v err=%v", applied, err)
	}
	if _, ok, _ := c.Get(ctx, "alice", "bob", 10); ok {
		t.Fatal("stale warm must not create the list")
	}

	current, _ := c.Version(ctx, "alice", "bob")
	if current != v+1 {
		t.Fatalf("version: want %d, got %d", v+1, current)
	}
	if applied, err := c.Warm(ctx, "alice", "bob", current, conversation(3)); err != nil || !applied {
		t.Fatalf("fresh warm: applied=%v err=%v", applied, err)
	}
	got, ok, _ := c.Get(ctx, "alice", "bob", 10)
	if !ok || ids(got) != "m0 m1 m2 " {
		t.Fatalf("fresh warm contents: %s", ids(got))
	}
}

func TestHistoryCache_EmptyWarmStaysCold(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, 10)

	if applied, err := c.Warm(ctx, "alice", "carol", 0, nil); err != nil || !applied {
		t.Fatalf("Warm: applied=%v err=%v", applied, err)
	}
	if _, ok, _ := c.Get(ctx, "alice", "carol", 10); ok {
		t.Fatal("an empty conversation should not be served from cache")
	}
}

func TestHistoryCache_PairsAreIndependent(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, 10)

	c.Warm(ctx, "alice", "bob", 0, conversation(2))
	c.Warm(ctx, "alice", "carol", 0, conversation(1))
	if err := c.Invalidate(ctx, "alice", "carol"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "alice", "bob", 10); !ok {
		t.Fatal("invalidating one pair dropped another")
	}
}

func TestRedisService_Ping(t *testing.T) {
	c, mr := newTestCache(t, 1)
	if err := c.svc.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	mr.Close()
	if err := c.svc.Ping(context.Background()); err == nil {
		t.Fatal("Ping should fail once redis is gone")
	}
}
