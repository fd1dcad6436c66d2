package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/IBM/sarama"

	"github.com/transitatlas/isochrone-cache/internal/invalidation"
	"github.com/transitatlas/isochrone-cache/internal/model"
)

type fakeResetter struct {
	mu       sync.Mutex
	gotKey   model.CacheKey
	gotIDs   []int64
	gotBoros []string
	err      error
}

func (f *fakeResetter) ResetForRecompute(_ context.Context, key model.CacheKey, ids []int64, boroughs []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotKey, f.gotIDs, f.gotBoros = key, ids, boroughs
	return int64(len(ids)), f.err
}

type fakePurger struct {
	purges int
	err    error
}

func (f *fakePurger) Purge(context.Context) error {
	f.purges++
	return f.err
}

func msgFor(t *testing.T, ev invalidation.Event) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "graph-rebuild", Value: b}
}

func TestProcessOne(t *testing.T) {
	store := &fakeResetter{}
	purger := &fakePurger{}
	c := New(Config{}, nil, store, purger)

	ev := invalidation.Event{
		Op: invalidation.OpRecompute, Mode: "transit", Departure: "10:00:00", DayType: "weekday",
		OriginIDs: []int64{5, 6}, Boroughs: []string{"Bronx"},
	}
	if err := c.ProcessOne(context.Background(), msgFor(t, ev)); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if store.gotKey.Mode != model.ModeTransit || len(store.gotIDs) != 2 || store.gotBoros[0] != "Bronx" {
		t.Fatalf("store call: %+v %v %v", store.gotKey, store.gotIDs, store.gotBoros)
	}
	if purger.purges != 1 {
		t.Fatalf("purges: got %d want 1", purger.purges)
	}
}

func TestProcessOneNoCache(t *testing.T) {
	store := &fakeResetter{}
	c := New(Config{}, nil, store, nil)

	ev := invalidation.Event{Op: invalidation.OpRecompute, Mode: "walk", Departure: "10:00:00", DayType: "sunday"}
	if err := c.ProcessOne(context.Background(), msgFor(t, ev)); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestProcessOneBadPayload(t *testing.T) {
	c := New(Config{}, nil, &fakeResetter{}, nil)
	msg := &sarama.ConsumerMessage{Topic: "graph-rebuild", Value: []byte("not json")}
	err := c.ProcessOne(context.Background(), msg)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !errors.Is(err, errDropEvent) {
		t.Fatalf("decode failures must be classified undeliverable, got %v", err)
	}
}

func TestProcessOneRejectedEvent(t *testing.T) {
	store := &fakeResetter{}
	c := New(Config{}, nil, store, nil)

	ev := invalidation.Event{Op: "unknown", Mode: "transit", Departure: "10:00:00", DayType: "weekday"}
	err := c.ProcessOne(context.Background(), msgFor(t, ev))
	if err == nil {
		t.Fatal("expected rejection")
	}
	if !errors.Is(err, errDropEvent) {
		t.Fatalf("rejected events must be classified undeliverable, got %v", err)
	}
	if store.gotKey != (model.CacheKey{}) {
		t.Fatal("store must not be touched for rejected events")
	}
}

func TestProcessOneResetError(t *testing.T) {
	store := &fakeResetter{err: errors.New("db down")}
	purger := &fakePurger{}
	c := New(Config{}, nil, store, purger)

	ev := invalidation.Event{Op: invalidation.OpRecompute, Mode: "transit", Departure: "10:00:00", DayType: "weekday"}
	err := c.ProcessOne(context.Background(), msgFor(t, ev))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, errDropEvent) {
		t.Fatalf("reset failures are retryable, must not be classified undeliverable: %v", err)
	}
	if purger.purges != 0 {
		t.Fatal("cache must not be purged when the reset failed")
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	if c.SessionTimeout <= 0 || c.Heartbeat <= 0 || c.RebalanceTimeout <= 0 {
		t.Fatalf("defaults not applied: %+v", c)
	}
}
