package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFiltersByKind(t *testing.T) {
	bus := NewBus()
	haltCh, unsubHalt := bus.Subscribe(4, Halt, Resume)
	allCh, unsubAll := bus.Subscribe(4)
	defer unsubAll()

	bus.Publish(Event{Kind: OrderSubmitted, Order: &OrderPayload{OrderID: "o1"}})
	bus.Publish(Event{Kind: Halt, Mode: &ModePayload{From: "live", To: "halt", Reason: "drawdown"}})

	ev := <-haltCh
	assert.Equal(t, Halt, ev.Kind)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Time.IsZero())
	assert.Len(t, allCh, 2)

	unsubHalt()
	unsubHalt()
	_, open := <-haltCh
	assert.False(t, open)
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	for i := 0; i < 3; i++ {
		bus.Publish(Event{Kind: OrderFilled})
	}
	require.Len(t, ch, 1)
	assert.Equal(t, uint64(2), bus.Dropped())
}

func TestRecorderAndMulti(t *testing.T) {
	r1, r2 := &Recorder{}, &Recorder{}
	m := Multi{r1, r2, Nop{}}
	m.Publish(Event{Kind: OrderAcknowledged})
	m.Publish(Event{Kind: OrderFilled})
	assert.Equal(t, []Kind{OrderAcknowledged, OrderFilled}, r1.Kinds())
	assert.Len(t, r2.Events(), 2)
}
