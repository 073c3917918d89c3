package httpapi

import (
	"context"
	"sort"
	"sync"
	"time"

	"pkt.systems/pinwire/internal/logx"
	"pkt.systems/pinwire/internal/metrics"
	"pkt.systems/pinwire/schema"
	"pkt.systems/pslog"
)

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq        uint64                  `json:"seq"`
	Type       string                  `json:"type"`
	Pin        *schema.PinEvent        `json:"pin,omitempty"`
	Auth       *schema.AuthEvent       `json:"auth,omitempty"`
	Permission *schema.PermissionEvent `json:"permission,omitempty"`
	Timestamp  time.Time               `json:"timestamp"`
}

// Event type values.
const (
	eventTypePin        = "pin"
	eventTypeAuth       = "auth"
	eventTypePermission = "permission"
)

// Hub fans events out to connected surfaces. Pin and permission events go
// only to surfaces showing the event's session; auth events go to everyone.
// A surface that went away is skipped silently; a surface that cannot keep
// up has events dropped with a warning.
type Hub struct {
	metrics  metrics.Recorder
	logger   pslog.Logger
	onChange func(active []schema.SessionID)

	mu          sync.Mutex
	seq         uint64
	history     []StreamEvent
	historySize int
	surfaces    map[*surface]struct{}
}

type surface struct {
	ch      chan StreamEvent
	userID  schema.UserID
	session schema.SessionID
}

// NewHub constructs a hub keeping historySize events for replay.
func NewHub(historySize int, recorder metrics.Recorder, logger pslog.Logger) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Hub{
		metrics:     recorder,
		logger:      logger,
		historySize: historySize,
		surfaces:    make(map[*surface]struct{}),
	}
}

// SetReconcile registers the callback run with the active session set after
// every subscribe or unsubscribe.
func (h *Hub) SetReconcile(fn func(active []schema.SessionID)) {
	h.mu.Lock()
	h.onChange = fn
	h.mu.Unlock()
}

// OnPinEvent implements core.EventSink.
func (h *Hub) OnPinEvent(event schema.PinEvent) {
	ev := event
	h.publish(StreamEvent{
		Type:      eventTypePin,
		Pin:       &ev,
		Timestamp: time.Now(),
	}, event.SessionID)
}

// OnAuthEvent implements core.EventSink.
func (h *Hub) OnAuthEvent(event schema.AuthEvent) {
	ev := event
	h.publish(StreamEvent{
		Type:      eventTypeAuth,
		Auth:      &ev,
		Timestamp: time.Now(),
	}, "")
}

// OnPermissionEvent implements core.EventSink.
func (h *Hub) OnPermissionEvent(event schema.PermissionEvent) {
	ev := event
	h.publish(StreamEvent{
		Type:       eventTypePermission,
		Permission: &ev,
		Timestamp:  time.Now(),
	}, event.SessionID)
}

// Subscribe registers a surface showing sessionID (empty when the surface
// shows no meeting). It returns the event channel, an unsubscribe func, and
// the history events after seq the surface missed. The replay snapshot is
// taken under the same lock that registers the surface, so an event lands
// either in the snapshot or on the channel, never both.
func (h *Hub) Subscribe(userID schema.UserID, sessionID schema.SessionID, after uint64) (<-chan StreamEvent, func(), []StreamEvent) {
	surf := &surface{
		ch:      make(chan StreamEvent, 256),
		userID:  userID,
		session: sessionID,
	}
	h.mu.Lock()
	h.surfaces[surf] = struct{}{}
	count := len(h.surfaces)
	var missed []StreamEvent
	if after > 0 {
		missed = h.replayLocked(sessionID, after)
	}
	h.mu.Unlock()

	h.metrics.SetConnectedSurfaces(count)
	log := logx.WithUser(context.Background(), userID)
	log.Info("hub subscribe", "session", sessionID, "surfaces", count)
	h.notifyChange()

	unsub := func() {
		h.mu.Lock()
		if _, ok := h.surfaces[surf]; !ok {
			h.mu.Unlock()
			return
		}
		// The channel is left open; a publish racing this unsubscribe may
		// still hold a reference, and the reader exits on its own context.
		delete(h.surfaces, surf)
		remaining := len(h.surfaces)
		h.mu.Unlock()
		h.metrics.SetConnectedSurfaces(remaining)
		log.Info("hub unsubscribe", "session", sessionID, "surfaces", remaining)
		h.notifyChange()
	}
	return surf.ch, unsub, missed
}

// ActiveSessions returns the deduplicated set of sessions shown by
// connected surfaces, sorted.
func (h *Hub) ActiveSessions() []schema.SessionID {
	h.mu.Lock()
	seen := make(map[schema.SessionID]struct{})
	for surf := range h.surfaces {
		if surf.session != "" {
			seen[surf.session] = struct{}{}
		}
	}
	h.mu.Unlock()
	active := make([]schema.SessionID, 0, len(seen))
	for id := range seen {
		active = append(active, id)
	}
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
	return active
}

// replayLocked returns events after seq that a surface showing sessionID
// should have seen. Callers hold h.mu.
func (h *Hub) replayLocked(sessionID schema.SessionID, after uint64) []StreamEvent {
	events := make([]StreamEvent, 0, len(h.history))
	for _, event := range h.history {
		if event.Seq <= after {
			continue
		}
		if eventSession(event) != "" && eventSession(event) != sessionID {
			continue
		}
		events = append(events, event)
	}
	return events
}

func eventSession(event StreamEvent) schema.SessionID {
	switch {
	case event.Pin != nil:
		return event.Pin.SessionID
	case event.Permission != nil:
		return event.Permission.SessionID
	default:
		return ""
	}
}

// publish delivers to surfaces showing sessionID, or to all surfaces when
// sessionID is empty.
func (h *Hub) publish(event StreamEvent, sessionID schema.SessionID) {
	h.mu.Lock()
	h.seq++
	event.Seq = h.seq
	h.history = append(h.history, event)
	if len(h.history) > h.historySize {
		h.history = h.history[len(h.history)-h.historySize:]
	}
	targets := make([]*surface, 0, len(h.surfaces))
	for surf := range h.surfaces {
		if sessionID == "" || surf.session == sessionID {
			targets = append(targets, surf)
		}
	}
	h.mu.Unlock()

	dropped := 0
	for _, surf := range targets {
		select {
		case surf.ch <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		for i := 0; i < dropped; i++ {
			h.metrics.RecordStreamDrop()
		}
		h.logger.Warn("hub event dropped", "type", event.Type, "session", sessionID, "dropped", dropped)
	}
}

func (h *Hub) notifyChange() {
	h.mu.Lock()
	fn := h.onChange
	h.mu.Unlock()
	if fn != nil {
		fn(h.ActiveSessions())
	}
}
