package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pkt.systems/pinwire/internal/logx"
	"pkt.systems/pinwire/internal/metrics"
	"pkt.systems/pinwire/schema"
)

func (s *service) CreatePin(ctx context.Context, req schema.CreatePinRequest) (schema.CreatePinResponse, error) {
	if ctx == nil {
		return schema.CreatePinResponse{}, errors.New("missing context")
	}
	identity, err := s.currentIdentity()
	if err != nil {
		return schema.CreatePinResponse{}, err
	}
	if err := schema.ValidateSessionID(req.SessionID); err != nil {
		return schema.CreatePinResponse{}, err
	}
	if err := schema.ValidatePinType(req.Type); err != nil {
		return schema.CreatePinResponse{}, err
	}
	direct := req.IsDirect || req.Type == schema.PinDirect || req.TargetUserID != ""
	if direct && strings.TrimSpace(string(req.TargetUserID)) == "" {
		return schema.CreatePinResponse{}, fmt.Errorf("%w: direct pin needs a target user", schema.ErrInvalidRequest)
	}

	log := logx.WithUserSession(ctx, identity.UID, req.SessionID)
	pin := schema.Pin{
		Type:         req.Type,
		CreatedBy:    identity,
		IsDirect:     direct,
		TargetUserID: req.TargetUserID,
	}
	stored, err := s.store.CreatePin(ctx, req.SessionID, pin)
	if err != nil {
		if errors.Is(err, schema.ErrPermissionDenied) {
			s.metrics.RecordPermissionError()
		}
		log.Warn("core pin create failed", "pin_type", req.Type, "err", err)
		return schema.CreatePinResponse{}, err
	}

	ttl := s.cfg.PinTTL
	if stored.IsDirect {
		ttl = s.cfg.DirectPinTTL
	}
	// The expiry timer is registered only once the write has resolved, so
	// a failed create never schedules a deletion.
	s.scheduleExpiry(req.SessionID, stored.ID, ttl)
	s.metrics.RecordPinCreated(string(stored.Type))
	log.Info("core pin created", "pin", stored.ID, "pin_type", stored.Type, "ttl", ttl)
	return schema.CreatePinResponse{PinID: stored.ID}, nil
}

func (s *service) RemovePin(ctx context.Context, req schema.RemovePinRequest) (schema.RemovePinResponse, error) {
	if ctx == nil {
		return schema.RemovePinResponse{}, errors.New("missing context")
	}
	identity, err := s.currentIdentity()
	if err != nil {
		return schema.RemovePinResponse{}, err
	}
	if err := schema.ValidateSessionID(req.SessionID); err != nil {
		return schema.RemovePinResponse{}, err
	}
	log := logx.WithUserSession(ctx, identity.UID, req.SessionID)

	// Ownership is decided by what the store holds now, not by any cached
	// copy of the pin.
	pin, err := s.store.GetPin(ctx, req.SessionID, req.PinID)
	if errors.Is(err, schema.ErrPinNotFound) {
		log.Debug("core pin remove of absent pin", "pin", req.PinID)
		return schema.RemovePinResponse{}, nil
	}
	if err != nil {
		return schema.RemovePinResponse{}, err
	}
	if pin.CreatedBy.UID != identity.UID {
		log.Warn("core pin remove forbidden", "pin", req.PinID, "owner", pin.CreatedBy.UID)
		return schema.RemovePinResponse{}, schema.ErrForbidden
	}
	if err := s.store.DeletePin(ctx, req.SessionID, req.PinID); err != nil {
		if errors.Is(err, schema.ErrPermissionDenied) {
			s.metrics.RecordPermissionError()
		}
		log.Warn("core pin remove failed", "pin", req.PinID, "err", err)
		return schema.RemovePinResponse{}, err
	}
	s.cancelExpiry(req.SessionID, req.PinID)
	s.metrics.RecordPinRemoved(metrics.RemovalExplicit)
	log.Info("core pin removed", "pin", req.PinID)
	return schema.RemovePinResponse{}, nil
}

func (s *service) scheduleExpiry(sessionID schema.SessionID, pinID schema.PinID, ttl time.Duration) {
	key := pinKey{session: sessionID, pin: pinID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if old, ok := s.timers[key]; ok {
		old.Stop()
	}
	s.timers[key] = time.AfterFunc(ttl, func() { s.expirePin(sessionID, pinID) })
}

func (s *service) cancelExpiry(sessionID schema.SessionID, pinID schema.PinID) {
	key := pinKey{session: sessionID, pin: pinID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[key]; ok {
		timer.Stop()
		delete(s.timers, key)
	}
}

func (s *service) expirePin(sessionID schema.SessionID, pinID schema.PinID) {
	key := pinKey{session: sessionID, pin: pinID}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.mu.Unlock()

	ctx := context.Background()
	if _, err := s.store.GetPin(ctx, sessionID, pinID); errors.Is(err, schema.ErrPinNotFound) {
		return
	}
	if err := s.store.DeletePin(ctx, sessionID, pinID); err != nil {
		s.logger.Warn("core pin expiry delete failed",
			"session", sessionID, "pin", pinID, "err", err)
		return
	}
	s.metrics.RecordPinRemoved(metrics.RemovalExpired)
	s.logger.Debug("core pin expired", "session", sessionID, "pin", pinID)
}
