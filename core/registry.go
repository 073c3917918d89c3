package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"pkt.systems/pinwire/schema"
)

// subscription is one live store feed. Identity of the pointer is the
// idempotency guard: events forwarded for a replaced or stopped
// subscription are discarded.
type subscription struct {
	cancel context.CancelFunc
}

func (s *service) TrackSessions(ctx context.Context, req schema.TrackSessionsRequest) (schema.TrackSessionsResponse, error) {
	if ctx == nil {
		return schema.TrackSessionsResponse{}, errors.New("missing context")
	}
	if _, err := s.currentIdentity(); err != nil {
		return schema.TrackSessionsResponse{}, err
	}
	desired := make(map[schema.SessionID]struct{}, len(req.Active))
	for _, id := range req.Active {
		if err := schema.ValidateSessionID(id); err != nil {
			return schema.TrackSessionsResponse{}, fmt.Errorf("%w: %q", schema.ErrInvalidSession, id)
		}
		desired[id] = struct{}{}
	}

	s.mu.Lock()
	var toStop []schema.SessionID
	for id := range s.subs {
		if _, keep := desired[id]; !keep {
			toStop = append(toStop, id)
		}
	}
	s.mu.Unlock()

	var resp schema.TrackSessionsResponse
	for _, id := range toStop {
		if s.stopSession(id) {
			resp.Stopped = append(resp.Stopped, id)
		}
	}
	for id := range desired {
		started, err := s.startSession(ctx, id)
		if err != nil {
			return schema.TrackSessionsResponse{}, err
		}
		if started {
			resp.Started = append(resp.Started, id)
		}
	}
	sortSessionIDs(resp.Started)
	sortSessionIDs(resp.Stopped)
	if len(resp.Started) > 0 || len(resp.Stopped) > 0 {
		s.logger.Debug("core subscriptions reconciled",
			"started", len(resp.Started), "stopped", len(resp.Stopped))
	}
	return resp, nil
}

// startSession opens a store feed for the session. Starting an already
// tracked session is a no-op.
func (s *service) startSession(ctx context.Context, id schema.SessionID) (bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, nil
	}
	if _, ok := s.subs[id]; ok {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	watchCtx, cancel := context.WithCancel(context.Background())
	events, err := s.store.Watch(watchCtx, id)
	if err != nil {
		cancel()
		if errors.Is(err, schema.ErrPermissionDenied) {
			s.logger.Warn("store refused session subscription", "session", id, "err", err)
			s.metrics.RecordPermissionError()
			s.enqueue(dispatchEvent{permission: &schema.PermissionEvent{SessionID: id}})
			return false, nil
		}
		return false, err
	}

	sub := &subscription{cancel: cancel}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return false, nil
	}
	if _, ok := s.subs[id]; ok {
		// Lost the race against a concurrent start for the same id.
		s.mu.Unlock()
		cancel()
		return false, nil
	}
	s.subs[id] = sub
	count := len(s.subs)
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.SetActiveSubscriptions(count)
	s.logger.Debug("core subscription started", "session", id)
	go s.forward(id, sub, events)
	return true, nil
}

// stopSession cancels the feed for the session. Stopping an untracked
// session is a silent no-op.
func (s *service) stopSession(id schema.SessionID) bool {
	s.mu.Lock()
	sub, ok := s.subs[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.subs, id)
	count := len(s.subs)
	s.mu.Unlock()

	sub.cancel()
	s.metrics.SetActiveSubscriptions(count)
	s.logger.Debug("core subscription stopped", "session", id)
	return true
}

func (s *service) stopAll() {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for id, sub := range s.subs {
		subs = append(subs, sub)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.cancel()
	}
	if len(subs) > 0 {
		s.metrics.SetActiveSubscriptions(0)
		s.logger.Debug("core subscriptions stopped", "count", len(subs))
	}
}

func (s *service) isCurrent(id schema.SessionID, sub *subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[id] == sub
}

func (s *service) forward(id schema.SessionID, sub *subscription, events <-chan StoreEvent) {
	defer s.wg.Done()
	for ev := range events {
		if !s.isCurrent(id, sub) {
			return
		}
		switch ev.Kind {
		case StoreAdded:
			s.enqueue(dispatchEvent{pin: &schema.PinEvent{
				SessionID: id,
				Kind:      schema.PinAdded,
				PinID:     ev.PinID,
				Pin:       ev.Pin,
			}})
		case StoreRemoved:
			s.enqueue(dispatchEvent{pin: &schema.PinEvent{
				SessionID: id,
				Kind:      schema.PinRemoved,
				PinID:     ev.PinID,
			}})
		case StorePermissionDenied:
			s.logger.Warn("store revoked session access", "session", id, "err", ev.Err)
			s.metrics.RecordPermissionError()
			s.enqueue(dispatchEvent{permission: &schema.PermissionEvent{SessionID: id}})
			s.stopSession(id)
			return
		}
	}
}

func sortSessionIDs(ids []schema.SessionID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
