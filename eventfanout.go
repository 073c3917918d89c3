package pinwire

import (
	"pkt.systems/pinwire/core"
	"pkt.systems/pinwire/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnPinEvent(event schema.PinEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnPinEvent(event)
	}
}

func (f eventFanout) OnAuthEvent(event schema.AuthEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnAuthEvent(event)
	}
}

func (f eventFanout) OnPermissionEvent(event schema.PermissionEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnPermissionEvent(event)
	}
}
