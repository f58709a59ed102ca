package hub_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"secure_chat/internal/hub"
	"secure_chat/internal/model"
	"secure_chat/internal/presence"
)

func drain(t *testing.T, c *hub.Conn) []model.Envelope {
	t.Helper()
	var out []model.Envelope
	for {
		select {
		case frame := <-c.Outbox():
			var env model.Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				t.Fatalf("bad frame: %v", err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestHub_EmitReachesEverySession(t *testing.T) {
	h := hub.New()
	phone, laptop, other := hub.NewConn(8), hub.NewConn(8), hub.NewConn(8)
	for _, c := range []*hub.Conn{phone, laptop, other} {
		h.Add(c)
	}

	if first, err := h.Join(phone, "alice", "alice"); err != nil || !first {
		t.Fatalf("Join phone: first=%v err=%v", first, err)
	}
	if first, err := h.Join(laptop, "alice", "alice"); err != nil || first {
		t.Fatalf("Join laptop: first=%v err=%v", first, err)
	}
	if _, err := h.Join(other, "bob", "bob"); err != nil {
		t.Fatalf("Join other: %v", err)
	}

	if err := h.Emit("alice", model.EventReceiveMessage, model.ReceiveMessage{SenderID: "bob"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if n := len(drain(t, phone)); n != 1 {
		t.Fatalf("phone got %d frames", n)
	}
	if n := len(drain(t, laptop)); n != 1 {
		t.Fatalf("laptop got %d frames", n)
	}
	if n := len(drain(t, other)); n != 0 {
		t.Fatalf("bob got %d frames", n)
	}
}

func TestHub_RemoveReportsLastSession(t *testing.T) {
	h := hub.New()
	a, b := hub.NewConn(1), hub.NewConn(1)
	h.Add(a)
	h.Add(b)
	h.Join(a, "alice", "alice")
	h.Join(b, "alice", "alice")

	if _, last := h.Remove(a); last {
		t.Fatal("first removal should not be last")
	}
	if id, last := h.Remove(b); !last || id != "alice" {
		t.Fatalf("want last=true id=alice, got %v %q", last, id)
	}
	if h.Sessions("alice") != 0 {
		t.Fatal("alice still has sessions")
	}
}

func TestHub_JoinTwice(t *testing.T) {
	h := hub.New()
	c := hub.NewConn(1)
	h.Add(c)

	h.Join(c, "alice", "alice")
	if first, err := h.Join(c, "alice", "alice"); err != nil || first {
		t.Fatalf("rejoin same id: first=%v err=%v", first, err)
	}
	if h.Sessions("alice") != 1 {
		t.Fatalf("want 1 session, got %d", h.Sessions("alice"))
	}
	if _, err := h.Join(c, "bob", "bob"); !errors.Is(err, hub.ErrAlreadyJoined) {
		t.Fatalf("want ErrAlreadyJoined, got %v", err)
	}
}

func TestHub_BroadcastExcept(t *testing.T) {
	h := hub.New()
	a, b := hub.NewConn(4), hub.NewConn(4)
	h.Add(a)
	h.Add(b)
	h.Join(a, "alice", "alice")
	h.Join(b, "bob", "bob")

	h.BroadcastExcept("alice", model.EventUserStatusChange, model.UserStatusChange{UserID: "alice", Status: model.StatusOnline})
	if n := len(drain(t, a)); n != 0 {
		t.Fatalf("alice received her own status change")
	}
	got := drain(t, b)
	if len(got) != 1 || got[0].Event != model.EventUserStatusChange {
		t.Fatalf("bob got %v", got)
	}
}

func TestConn_SendAfterClose(t *testing.T) {
	c := hub.NewConn(1)
	c.Close()
	c.Close()
	if c.Send([]byte("x")) {
		t.Fatal("send after close should fail")
	}
}

func TestConn_FullBufferDrops(t *testing.T) {
	c := hub.NewConn(1)
	if !c.Send([]byte("1")) {
		t.Fatal("first send should fit")
	}
	if c.Send([]byte("2")) {
		t.Fatal("second send should be dropped")
	}
}

func TestHub_ReconnectKeepsPresence(t *testing.T) {
	tr := presence.NewTracker(nil)
	h := hub.New(hub.WithPresence(tr))

	old := hub.NewConn(1)
	h.Add(old)
	if _, err := h.Join(old, "alice", "alice"); err != nil {
		t.Fatal(err)
	}
	if !tr.IsOnline("alice") {
		t.Fatal("join should mark alice online")
	}

	// old socket drops, new one joins right after
	if _, last := h.Remove(old); !last {
		t.Fatal("old should be the last session")
	}
	fresh := hub.NewConn(1)
	h.Add(fresh)
	if _, err := h.Join(fresh, "alice", "alice"); err != nil {
		t.Fatal(err)
	}

	if h.Sessions("alice") != 1 || !tr.IsOnline("alice") {
		t.Fatalf("sessions=%d online=%v", h.Sessions("alice"), tr.IsOnline("alice"))
	}
}

func TestHub_ConcurrentSessionsKeepPresence(t *testing.T) {
	var (
		mu     sync.Mutex
		events []bool
	)
	tr := presence.NewTracker(func(_ string, online bool) {
		mu.Lock()
		events = append(events, online)
		mu.Unlock()
	})
	h := hub.New(hub.WithPresence(tr))

	anchor := hub.NewConn(1)
	h.Add(anchor)
	h.Join(anchor, "alice", "alice")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := hub.NewConn(1)
			h.Add(c)
			h.Join(c, "alice", "alice")
			h.Remove(c)
		}()
	}

	// the anchor leaves and rejoins while the others churn
	h.Remove(anchor)
	again := hub.NewConn(1)
	h.Add(again)
	h.Join(again, "alice", "alice")
	wg.Wait()

	if h.Sessions("alice") != 1 || !tr.IsOnline("alice") {
		t.Fatalf("sessions=%d online=%v", h.Sessions("alice"), tr.IsOnline("alice"))
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 || !events[len(events)-1] {
		t.Fatalf("last announced state should be online: %v", events)
	}
	for i := 1; i < len(events); i++ {
		if events[i] == events[i-1] {
			t.Fatalf("repeated status event at %d: %v", i, events)
		}
	}
}
