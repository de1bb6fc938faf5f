package events

import "github.com/kelindar/event"

// SubscribeToChannel forwards events of type T to ch for select-loop
// consumers such as the SSE handlers. Delivery never blocks the publisher:
// when ch is full the event is dropped and counted in [Bus.Dropped].
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			bus.dropped.Add(1)
		}
	})
}
