package event_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quizduel/arena/internal/event"
)

type named string

func (n named) Name() string { return string(n) }

func TestBus_PublishSubscribe(t *testing.T) {
	type received struct {
		mu     sync.Mutex
		events map[string][]event.Event
	}

	tests := map[string]struct {
		subscriptions map[string][]string // subscriber -> event names
		published     []event.Event
		assert        func(t *testing.T, got map[string][]event.Event)
	}{
		"a handler only sees the events it subscribed to": {
			subscriptions: map[string][]string{"s1": {"queue.paired"}},
			published:     []event.Event{named("queue.paired"), named("match.result")},
			assert: func(t *testing.T, got map[string][]event.Event) {
				assert.ElementsMatch(t, []event.Event{named("queue.paired")}, got["s1"])
			},
		},

		"every duplicate publish is dispatched": {
			subscriptions: map[string][]string{"s1": {"match.found"}},
			published:     []event.Event{named("match.found"), named("match.found"), named("match.found")},
			assert: func(t *testing.T, got map[string][]event.Event) {
				assert.Len(t, got["s1"], 3)
			},
		},

		"one event fans out to all subscribers": {
			subscriptions: map[string][]string{
				"s1": {"match.result"},
				"s2": {"match.result"},
				"s3": {"queue.timeout", "match.result"},
			},
			published: []event.Event{named("match.result")},
			assert: func(t *testing.T, got map[string][]event.Event) {
				for _, s := range []string{"s1", "s2", "s3"} {
					assert.ElementsMatch(t, []event.Event{named("match.result")}, got[s], s)
				}
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			r := received{events: make(map[string][]event.Event)}
			b := event.NewBus()

			for sub, names := range tt.subscriptions {
				sub := sub
				for _, n := range names {
					b.Subscribe(n, func(ctx context.Context, e event.Event) error {
						r.mu.Lock()
						r.events[sub] = append(r.events[sub], e)
						r.mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range tt.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, r.events)
		})
	}
}

func TestBus_PanickingHandlerDoesNotPoisonTheBus(t *testing.T) {
	t.Parallel()

	b := event.NewBusSize(4)

	var (
		mu    sync.Mutex
		calls int
	)

	b.Subscribe("e", func(ctx context.Context, e event.Event) error {
		panic("boom")
	})
	b.Subscribe("e", func(ctx context.Context, e event.Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 8; i++ {
		b.Publish(context.Background(), named("e"))
	}
	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 8, calls, "the healthy handler keeps receiving")
}

func TestBus_HandlerErrorsAreIsolated(t *testing.T) {
	t.Parallel()

	b := event.NewBus()

	var (
		mu   sync.Mutex
		seen []string
	)

	b.Subscribe("e", func(ctx context.Context, e event.Event) error {
		return fmt.Errorf("handler failure")
	})
	b.Subscribe("e", func(ctx context.Context, e event.Event) error {
		mu.Lock()
		seen = append(seen, e.Name())
		mu.Unlock()
		return nil
	})

	b.Publish(context.Background(), named("e"))
	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"e"}, seen)
}
