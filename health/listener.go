package health

import "context"

// Listener is a consumer container whose state feeds the listener facet.
type Listener interface {
	ListenerID() string
	GroupID() string
	IsRunning() bool
	// IsInExpectedState is false when the listener stopped without being asked to.
	IsInExpectedState() bool
	IsPaused() bool
}

// ListenerSource returns the current listeners. It is called on every probe.
type ListenerSource func() []Listener

// ListenerState is the per-listener entry reported under "listenerContainers".
type ListenerState struct {
	IsRunning           bool   `json:"isRunning"`
	IsStoppedAbnormally bool   `json:"isStoppedAbnormally"`
	IsPaused            bool   `json:"isPaused"`
	ListenerID          string `json:"listenerId"`
	GroupID             string `json:"groupId"`
}

// ListenerIndicator reports the state of listener containers without touching
// the broker.
type ListenerIndicator struct {
	source ListenerSource
}

func NewListenerIndicator(source ListenerSource) *ListenerIndicator {
	return &ListenerIndicator{source: source}
}

func (l *ListenerIndicator) Health(context.Context) Verdict {
	var listeners []Listener
	if l.source != nil {
		listeners = l.source()
	}
	if len(listeners) == 0 {
		return Unknown()
	}

	status := StatusUp
	states := make([]ListenerState, 0, len(listeners))
	for _, listener := range listeners {
		running := listener.IsRunning()
		ok := listener.IsInExpectedState()
		if !ok {
			status = StatusDown
		}
		states = append(states, ListenerState{
			IsRunning:           running,
			IsStoppedAbnormally: !running && !ok,
			IsPaused:            listener.IsPaused(),
			ListenerID:          listener.ListenerID(),
			GroupID:             listener.GroupID(),
		})
	}
	return Verdict{Status: status}.With("listenerContainers", states)
}
