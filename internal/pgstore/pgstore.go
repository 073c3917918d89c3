// Package pgstore is the PostgreSQL pin store engine. Change feeds ride on
// LISTEN/NOTIFY: a row trigger publishes every insert and delete on the
// pin_events channel and the store dispatches notifications to per-session
// watchers in arrival order.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"pkt.systems/pinwire/core"
	"pkt.systems/pinwire/schema"
	"pkt.systems/pslog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	notifyChannel     = "pin_events"
	watchBuffer       = 64
	listenMinInterval = time.Second
	listenMaxInterval = 30 * time.Second
)

// Store is a pin store backed by PostgreSQL.
type Store struct {
	db       *sql.DB
	listener *pq.Listener
	logger   pslog.Logger

	mu       sync.Mutex
	watchers map[schema.SessionID]map[*watcher]struct{}
	closed   bool

	done chan struct{}
}

type watcher struct {
	ch chan core.StoreEvent
}

// RunMigrations applies all pending migrations. Already-current is not an
// error.
func RunMigrations(databaseURL string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// New migrates the schema, opens the pool, and starts listening for pin
// notifications.
func New(databaseURL string, logger pslog.Logger) (*Store, error) {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if err := RunMigrations(databaseURL); err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	listener := pq.NewListener(databaseURL, listenMinInterval, listenMaxInterval,
		func(event pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("pgstore listener event", "event", int(event), "err", err)
			}
		})
	if err := listener.Listen(notifyChannel); err != nil {
		_ = listener.Close()
		_ = db.Close()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}
	s := &Store{
		db:       db,
		listener: listener,
		logger:   logger,
		watchers: make(map[schema.SessionID]map[*watcher]struct{}),
		done:     make(chan struct{}),
	}
	go s.dispatchNotifications()
	return s, nil
}

func (s *Store) CreatePin(ctx context.Context, sessionID schema.SessionID, pin schema.Pin) (schema.Pin, error) {
	if err := schema.ValidateSessionID(sessionID); err != nil {
		return schema.Pin{}, err
	}
	pin.ID = schema.PinID(uuid.NewString())
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO pins (session_id, pin_id, pin_type, created_by_uid,
			created_by_email, created_by_name, is_direct, target_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		sessionID, pin.ID, pin.Type, pin.CreatedBy.UID,
		pin.CreatedBy.Email, pin.CreatedBy.DisplayName, pin.IsDirect, pin.TargetUserID)
	if err := row.Scan(&pin.CreatedAt); err != nil {
		return schema.Pin{}, mapError(err, "insert pin")
	}
	return pin, nil
}

func (s *Store) GetPin(ctx context.Context, sessionID schema.SessionID, pinID schema.PinID) (schema.Pin, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pin_id, pin_type, created_by_uid, created_by_email,
			created_by_name, is_direct, target_user_id, created_at
		FROM pins WHERE session_id = $1 AND pin_id = $2`,
		sessionID, pinID)
	pin, err := scanPin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Pin{}, schema.ErrPinNotFound
	}
	if err != nil {
		return schema.Pin{}, mapError(err, "select pin")
	}
	return pin, nil
}

func (s *Store) DeletePin(ctx context.Context, sessionID schema.SessionID, pinID schema.PinID) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pins WHERE session_id = $1 AND pin_id = $2`,
		sessionID, pinID); err != nil {
		return mapError(err, "delete pin")
	}
	return nil
}

// Watch opens a change feed for the session. Pins already stored are
// replayed as added events in creation order before live notifications.
func (s *Store) Watch(ctx context.Context, sessionID schema.SessionID) (<-chan core.StoreEvent, error) {
	if err := schema.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	// Replay and registration happen under the same mutex the dispatcher
	// takes, so no notification lands between the snapshot and the
	// subscription.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, schema.ErrNotInitialized
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT pin_id, pin_type, created_by_uid, created_by_email,
			created_by_name, is_direct, target_user_id, created_at
		FROM pins WHERE session_id = $1 ORDER BY created_at`,
		sessionID)
	if err != nil {
		return nil, mapError(err, "snapshot session")
	}
	defer rows.Close()

	var replay []schema.Pin
	for rows.Next() {
		pin, err := scanPin(rows)
		if err != nil {
			return nil, mapError(err, "snapshot session")
		}
		replay = append(replay, pin)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "snapshot session")
	}
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

	go func() {
		<-ctx.Done()
		s.dropWatcher(sessionID, w)
	}()
	return w.ch, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for sessionID, set := range s.watchers {
		for w := range set {
			close(w.ch)
		}
		delete(s.watchers, sessionID)
	}
	s.mu.Unlock()

	err := s.listener.Close()
	<-s.done
	if dbErr := s.db.Close(); err == nil {
		err = dbErr
	}
	return err
}

type notification struct {
	SessionID schema.SessionID `json:"session_id"`
	Op        string           `json:"op"`
	PinID     schema.PinID     `json:"pin_id"`
	Pin       schema.Pin       `json:"pin"`
}

func (s *Store) dispatchNotifications() {
	defer close(s.done)
	for n := range s.listener.Notify {
		if n == nil {
			// Connection was re-established; watchers may have missed
			// notifications in between.
			s.logger.Warn("pgstore listener reconnected")
			continue
		}
		var payload notification
		if err := json.Unmarshal([]byte(n.Extra), &payload); err != nil {
			s.logger.Warn("pgstore bad notification payload", "err", err)
			continue
		}
		event := core.StoreEvent{
			SessionID: payload.SessionID,
			PinID:     payload.PinID,
		}
		switch payload.Op {
		case "added":
			event.Kind = core.StoreAdded
			event.Pin = payload.Pin
		case "removed":
			event.Kind = core.StoreRemoved
		default:
			s.logger.Warn("pgstore unknown notification op", "op", payload.Op)
			continue
		}
		s.broadcast(payload.SessionID, event)
	}
}

func (s *Store) broadcast(sessionID schema.SessionID, event core.StoreEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers[sessionID] {
		select {
		case w.ch <- event:
		default:
			s.logger.Warn("pgstore watcher full, dropping event",
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPin(row rowScanner) (schema.Pin, error) {
	var pin schema.Pin
	err := row.Scan(&pin.ID, &pin.Type, &pin.CreatedBy.UID, &pin.CreatedBy.Email,
		&pin.CreatedBy.DisplayName, &pin.IsDirect, &pin.TargetUserID, &pin.CreatedAt)
	return pin, err
}

// mapError folds PostgreSQL privilege failures into the shared permission
// error so callers treat both engines alike.
func mapError(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "insufficient_privilege" {
		return fmt.Errorf("%s: %w", op, schema.ErrPermissionDenied)
	}
	return fmt.Errorf("%s: %w", op, err)
}
