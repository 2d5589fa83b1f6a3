package emulator

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Event topics published by the emulator.
const (
	// TopicPosition carries *ruida.PlotCut values as motion is executed.
	TopicPosition = "position"
	// TopicStatus carries the machine state string on every transition.
	TopicStatus = "status"
	// TopicJob carries JobEvent values as jobs are queued and finished.
	TopicJob = "job"
)

// Subscription is one listener on a topic. Events are delivered on C;
// listeners that fall behind lose events rather than stalling the emulator.
type Subscription struct {
	C <-chan any

	cancel func()
}

// Close removes the subscription. The channel is not closed; a drain loop
// should select on its own done signal.
func (s *Subscription) Close() { s.cancel() }

// pubsub is a topic-keyed subscriber registry.
type pubsub struct {
	topics *xsync.MapOf[string, *xsync.MapOf[uint64, chan any]]
	nextID atomic.Uint64
}

func newPubSub() *pubsub {
	return &pubsub{
		topics: xsync.NewMapOf[string, *xsync.MapOf[uint64, chan any]](),
	}
}

// Subscribe registers a listener with the given delivery buffer.
func (ps *pubsub) Subscribe(topic string, buffer int) *Subscription {
	subs, _ := ps.topics.LoadOrCompute(topic, func() *xsync.MapOf[uint64, chan any] {
		return xsync.NewMapOf[uint64, chan any]()
	})

	id := ps.nextID.Add(1)
	ch := make(chan any, buffer)
	subs.Store(id, ch)

	return &Subscription{
		C:      ch,
		cancel: func() { subs.Delete(id) },
	}
}

// Publish delivers data to every listener on topic without blocking.
func (ps *pubsub) Publish(topic string, data any) {
	subs, ok := ps.topics.Load(topic)
	if !ok {
		return
	}

	subs.Range(func(_ uint64, ch chan any) bool {
		select {
		case ch <- data:
		default:
		}

		return true
	})
}
