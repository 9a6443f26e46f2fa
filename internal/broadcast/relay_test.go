package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakePubSub is an in-process stand-in for Redis pub/sub: Publish hands the
// payload directly to every subscriber of the channel, synchronously.
type fakePubSub struct {
	mu   sync.Mutex
	subs map[string][]func(payload []byte)
}

func newFakePubSub() *fakePubSub {
	return &fakePubSub{subs: make(map[string][]func([]byte))}
}

func (f *fakePubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	subs := append([]func([]byte){}, f.subs[channel]...)
	f.mu.Unlock()
	for _, s := range subs {
		s(payload)
	}
	return nil
}

func (f *fakePubSub) Subscribe(ctx context.Context, channel string, onMessage func([]byte)) (func(), error) {
	f.mu.Lock()
	f.subs[channel] = append(f.subs[channel], onMessage)
	idx := len(f.subs[channel]) - 1
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.subs[channel][idx] = func([]byte) {}
	}, nil
}

// newTestClient attaches a client to hub without a live websocket
// connection, so a test can read its send channel directly.
func newTestClient(hub *Hub, matchID, userID string) *Client {
	c := &Client{hub: hub, send: make(chan []byte, 8), matchID: matchID, userID: userID, lastPong: time.Now()}
	hub.Register(c)
	return c
}

func TestRelayAppliesRemoteEnvelopeToHub(t *testing.T) {
	hubB := NewHub()
	defer hubB.Stop()
	client := newTestClient(hubB, "m1", "creator")

	ps := newFakePubSub()
	key := []byte("shared-secret")
	breaker := newRelayBreaker(5, time.Second, zap.NewNop())

	relayB := newRelay(ps, breaker, hubB, key, "instance-b", zap.NewNop())
	if err := relayB.SubscribeAndApply(context.Background(), "m1"); err != nil {
		t.Fatalf("SubscribeAndApply: %v", err)
	}

	relayA := newRelay(ps, breaker, NewHub(), key, "instance-a", zap.NewNop())
	if err := relayA.Publish(context.Background(), channelFor("m1"), []byte(`{"index":1}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-client.send:
		if string(msg) != `{"index":1}` {
			t.Fatalf("unexpected payload delivered: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the relayed envelope to reach the subscribed match's client")
	}
}

func TestRelaySkipsOwnEcho(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()
	client := newTestClient(hub, "m1", "creator")

	ps := newFakePubSub()
	breaker := newRelayBreaker(5, time.Second, zap.NewNop())
	r := newRelay(ps, breaker, hub, []byte("k"), "instance-a", zap.NewNop())
	if err := r.SubscribeAndApply(context.Background(), "m1"); err != nil {
		t.Fatalf("SubscribeAndApply: %v", err)
	}

	if err := r.Publish(context.Background(), channelFor("m1"), []byte(`{"x":1}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-client.send:
		t.Fatalf("expected own echo to be skipped, but hub delivered: %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRelayRejectsForgedEnvelope(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()
	client := newTestClient(hub, "c1", "creator")

	ps := newFakePubSub()
	breaker := newRelayBreaker(5, time.Second, zap.NewNop())

	relayB := newRelay(ps, breaker, hub, []byte("real-key"), "instance-b", zap.NewNop())
	if err := relayB.SubscribeAndApply(context.Background(), "c1"); err != nil {
		t.Fatalf("SubscribeAndApply: %v", err)
	}

	relayA := newRelay(ps, breaker, NewHub(), []byte("attacker-key"), "instance-a", zap.NewNop())
	if err := relayA.Publish(context.Background(), channelFor("c1"), []byte(`{"x":1}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-client.send:
		t.Fatalf("expected forged envelope to be rejected, but hub delivered: %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestIsDuplicateRejectsNonIncreasingSeq(t *testing.T) {
	r := newRelay(newFakePubSub(), newRelayBreaker(5, time.Second, zap.NewNop()), NewHub(), []byte("k"), "self", zap.NewNop())

	if r.isDuplicate("c1", "other", 1) {
		t.Fatal("expected the first seq from a source to not be a duplicate")
	}
	if !r.isDuplicate("c1", "other", 1) {
		t.Fatal("expected a repeated seq to be flagged as a duplicate")
	}
	if r.isDuplicate("c1", "other", 2) {
		t.Fatal("expected a strictly increasing seq to not be a duplicate")
	}
	if !r.isDuplicate("c1", "other", 2) {
		t.Fatal("expected seq 2 replayed again to be a duplicate")
	}
}
