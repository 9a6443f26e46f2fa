package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// pubsub is the minimal Redis capability the relay needs, kept as an
// interface so tests can exercise dedup/sequencing/circuit-breaker logic
// against an in-process fake instead of a live Redis server.
type pubsub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, onMessage func(payload []byte)) (stop func(), err error)
}

// redisPubSub adapts *redis.Client to the pubsub interface. Grounded in
// FOTONPHOTOS-PULSEINTEL's `publisher.RedisPublisher` for the client usage
// shape (context, zap logging, wrapped errors).
type redisPubSub struct {
	rdb *redis.Client
	log *zap.Logger
}

func newRedisPubSub(rdb *redis.Client, log *zap.Logger) *redisPubSub {
	return &redisPubSub{rdb: rdb, log: log}
}

func (r *redisPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.rdb.Publish(ctx, channel, payload).Err()
}

func (r *redisPubSub) Subscribe(ctx context.Context, channel string, onMessage func(payload []byte)) (func(), error) {
	sub := r.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	ch := sub.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				onMessage([]byte(msg.Payload))
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		sub.Close()
	}, nil
}

// relay publishes signed envelopes to every other instance via Redis
// pub/sub and applies incoming envelopes from other instances back into
// the local Hub, deduplicating by (source instance, channel, seq) so an
// instance never re-delivers its own echo and never replays a message it
// has already applied. Wrapped in a circuit breaker so a down Redis
// degrades to local-only delivery instead of blocking every publish.
type relay struct {
	ps         pubsub
	breaker    *relayBreaker
	hub        *Hub
	key        []byte
	instanceID string
	log        *zap.Logger

	seqMu sync.Mutex
	seqs  map[string]int64 // channel -> next seq this instance will assign

	// dedup tracks, per channel and source instance, the highest seq
	// already applied locally. A per-source sequence is monotonic, so an
	// incoming envelope is a duplicate (or stale redelivery) iff its seq
	// is not strictly greater than what's recorded here.
	dedupMu sync.Mutex
	dedup   map[string]map[string]int64 // channel -> sourceInstance -> last applied seq

	stops []func()
}

func newRelay(ps pubsub, breaker *relayBreaker, hub *Hub, key []byte, instanceID string, log *zap.Logger) *relay {
	return &relay{
		ps:         ps,
		breaker:    breaker,
		hub:        hub,
		key:        key,
		instanceID: instanceID,
		log:        log,
		seqs:       make(map[string]int64),
		dedup:      make(map[string]map[string]int64),
	}
}

func (r *relay) nextSeq(channel string) int64 {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	r.seqs[channel]++
	return r.seqs[channel]
}

// Publish signs and relays payload on channel to every other instance,
// through the circuit breaker. The caller is responsible for applying the
// event to the local Hub itself — the relay only reaches other instances.
func (r *relay) Publish(ctx context.Context, channel string, payload []byte) error {
	seq := r.nextSeq(channel)
	env := NewEnvelope(r.key, channel, payload, seq, r.instanceID, time.Now().UTC())
	data, err := marshalEnvelope(env)
	if err != nil {
		return err
	}
	return r.breaker.guard(func() error {
		return r.ps.Publish(ctx, channel, data)
	})
}

// SubscribeAndApply starts relaying incoming envelopes for matchID into the
// local Hub, rejecting unsigned/forged envelopes and this instance's own
// echoes, and skipping anything already applied (dedup). The subscription's
// stop function is kept for Stop.
func (r *relay) SubscribeAndApply(ctx context.Context, matchID string) error {
	channel := channelFor(matchID)
	stop, err := r.ps.Subscribe(ctx, channel, func(payload []byte) {
		env, err := unmarshalEnvelope(payload)
		if err != nil {
			r.log.Warn("dropping malformed relay envelope", zap.Error(err))
			return
		}
		if env.SourceInstance == r.instanceID {
			return // our own publish, already applied locally
		}
		if !env.Verify(r.key) {
			r.log.Warn("dropping relay envelope with invalid MAC", zap.String("channel", env.Channel), zap.String("source", env.SourceInstance))
			return
		}
		if r.isDuplicate(env.Channel, env.SourceInstance, env.Seq) {
			return
		}
		r.hub.BroadcastToMatch(matchID, env.Data)
	})
	if err != nil {
		return err
	}
	r.stops = append(r.stops, stop)
	return nil
}

func (r *relay) isDuplicate(channel, source string, seq int64) bool {
	r.dedupMu.Lock()
	defer r.dedupMu.Unlock()

	bySource, ok := r.dedup[channel]
	if !ok {
		bySource = make(map[string]int64)
		r.dedup[channel] = bySource
	}
	if seq <= bySource[source] {
		return true
	}
	bySource[source] = seq
	return false
}

// Stop unsubscribes from every channel this relay subscribed to.
func (r *relay) Stop() {
	for _, stop := range r.stops {
		stop()
	}
}
