// Package memstore is the in-memory pin store engine. It serves single
// process deployments and the test suite, including simulated permission
// revocation.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pkt.systems/pinwire/core"
	"pkt.systems/pinwire/schema"
	"pkt.systems/pslog"
)

const watchBuffer = 64

// Store keeps pins per session and feeds watchers in write order.
type Store struct {
	logger pslog.Logger

	mu       sync.Mutex
	sessions map[schema.SessionID]map[schema.PinID]schema.Pin
	watchers map[schema.SessionID]map[*watcher]struct{}
	denied   map[schema.SessionID]struct{}
	lastTime time.Time
	closed   bool
}

type watcher struct {
	ch chan core.StoreEvent
}

// New constructs an empty store.
func New(logger pslog.Logger) *Store {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Store{
		logger:   logger,
		sessions: make(map[schema.SessionID]map[schema.PinID]schema.Pin),
		watchers: make(map[schema.SessionID]map[*watcher]struct{}),
		denied:   make(map[schema.SessionID]struct{}),
	}
}

// serverNow returns a strictly increasing timestamp so pin order is total
// even within one wall-clock tick. Callers hold the mutex.
func (s *Store) serverNow() time.Time {
	now := time.Now()
	if !now.After(s.lastTime) {
		now = s.lastTime.Add(time.Nanosecond)
	}
	s.lastTime = now
	return now
}

func (s *Store) CreatePin(ctx context.Context, sessionID schema.SessionID, pin schema.Pin) (schema.Pin, error) {
	if err := schema.ValidateSessionID(sessionID); err != nil {
		return schema.Pin{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, denied := s.denied[sessionID]; denied {
		return schema.Pin{}, schema.ErrPermissionDenied
	}
	pin.ID = schema.PinID(uuid.NewString())
	pin.CreatedAt = s.serverNow()
	pins, ok := s.sessions[sessionID]
	if !ok {
		pins = make(map[schema.PinID]schema.Pin)
		s.sessions[sessionID] = pins
	}
	pins[pin.ID] = pin
	s.notifyLocked(sessionID, core.StoreEvent{
		Kind:      core.StoreAdded,
		SessionID: sessionID,
		PinID:     pin.ID,
		Pin:       pin,
	})
	return pin, nil
}

func (s *Store) GetPin(ctx context.Context, sessionID schema.SessionID, pinID schema.PinID) (schema.Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pin, ok := s.sessions[sessionID][pinID]
	if !ok {
		return schema.Pin{}, schema.ErrPinNotFound
	}
	return pin, nil
}

func (s *Store) DeletePin(ctx context.Context, sessionID schema.SessionID, pinID schema.PinID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, denied := s.denied[sessionID]; denied {
		return schema.ErrPermissionDenied
	}
	pins, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if _, ok := pins[pinID]; !ok {
		return nil
	}
	delete(pins, pinID)
	if len(pins) == 0 {
		delete(s.sessions, sessionID)
	}
	s.notifyLocked(sessionID, core.StoreEvent{
		Kind:      core.StoreRemoved,
		SessionID: sessionID,
		PinID:     pinID,
	})
	return nil
}

// Watch opens a feed for the session. Pins already present are replayed as
// added events before any later change, in creation order.
func (s *Store) Watch(ctx context.Context, sessionID schema.SessionID) (<-chan core.StoreEvent, error) {
	if err := schema.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, schema.ErrNotInitialized
	}
	if _, denied := s.denied[sessionID]; denied {
		s.mu.Unlock()
		return nil, schema.ErrPermissionDenied
	}
	replay := s.pinsInOrderLocked(sessionID)
	w := &watcher{ch: make(chan core.StoreEvent, len(replay)+watchBuffer)}
	for _, pin := range replay {
		w.ch <- core.StoreEvent{
			Kind:      core.StoreAdded,
			SessionID: sessionID,
			PinID:     pin.ID,
			Pin:       pin,
		}
	}
	set, ok := s.watchers[sessionID]
	if !ok {
		set = make(map[*watcher]struct{})
		s.watchers[sessionID] = set
	}
	set[w] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.dropWatcher(sessionID, w)
	}()
	return w.ch, nil
}

// DenySession simulates a permission rule change: new reads and writes
// fail and live feeds end with a permission-denied event.
func (s *Store) DenySession(sessionID schema.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied[sessionID] = struct{}{}
	s.notifyLocked(sessionID, core.StoreEvent{
		Kind:      core.StorePermissionDenied,
		SessionID: sessionID,
		Err:       schema.ErrPermissionDenied,
	})
}

// AllowSession lifts a DenySession rule.
func (s *Store) AllowSession(sessionID schema.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.denied, sessionID)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for sessionID, set := range s.watchers {
		for w := range set {
			close(w.ch)
		}
		delete(s.watchers, sessionID)
	}
	return nil
}

func (s *Store) pinsInOrderLocked(sessionID schema.SessionID) []schema.Pin {
	pins := make([]schema.Pin, 0, len(s.sessions[sessionID]))
	for _, pin := range s.sessions[sessionID] {
		pins = append(pins, pin)
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i].CreatedAt.Before(pins[j].CreatedAt) })
	return pins
}

func (s *Store) notifyLocked(sessionID schema.SessionID, event core.StoreEvent) {
	for w := range s.watchers[sessionID] {
		select {
		case w.ch <- event:
		default:
			s.logger.Warn("memstore watcher full, dropping event",
				"session", sessionID, "kind", event.Kind)
		}
	}
}

func (s *Store) dropWatcher(sessionID schema.SessionID, w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.watchers[sessionID]
	if !ok {
		return
	}
	if _, ok := set[w]; !ok {
		return
	}
	delete(set, w)
	if len(set) == 0 {
		delete(s.watchers, sessionID)
	}
	close(w.ch)
}
