// Package audit reports structure and submission events to the event log.
// Recording is fire-and-forget: callers never see a sink failure.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Event types.
const (
	StructureCreated = "structure.created"
	StructureUpdated = "structure.updated"
	StateChanged     = "assessment.state_changed"
	Deleted          = "assessment.deleted"
	ResponseSubmit   = "response.submitted"
)

type Event struct {
	Type  string
	Key   string // natural key: assessment or attempt id
	Actor string
	Data  any
	At    time.Time
}

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// EventRepo appends events to the event_log table.
type EventRepo struct {
	db     *sql.DB
	siteID string
}

func NewEventRepo(db *sql.DB, siteID string) *EventRepo {
	if siteID == "" {
		siteID = "local"
	}
	return &EventRepo{db: db, siteID: siteID}
}

func (r *EventRepo) Append(ctx context.Context, e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, actor, data, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		r.siteID, e.Type, e.Key, e.Actor, string(data), at.Unix())
	return err
}

// AsyncSink queues events on a buffered channel and writes them from a
// single worker. A full buffer drops the event with a warning.
type AsyncSink struct {
	repo   appender
	queue  chan Event
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

type appender interface {
	Append(ctx context.Context, e Event) error
}

func NewAsyncSink(repo appender, buffer int, logger *slog.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncSink{
		repo:   repo,
		queue:  make(chan Event, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (s *AsyncSink) Record(_ context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case <-s.done:
		s.logger.Warn("audit sink closed, dropping event", "type", e.Type, "key", e.Key)
	case s.queue <- e:
	default:
		s.logger.Warn("audit buffer full, dropping event", "type", e.Type, "key", e.Key)
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (s *AsyncSink) Run(ctx context.Context) error {
	for {
		select {
		case e := <-s.queue:
			s.write(ctx, e)
		case <-ctx.Done():
			s.closeOnce.Do(func() { close(s.done) })
			s.flush()
			return nil
		}
	}
}

func (s *AsyncSink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-s.queue:
			s.write(ctx, e)
		default:
			return
		}
	}
}

func (s *AsyncSink) write(ctx context.Context, e Event) {
	if err := s.repo.Append(ctx, e); err != nil {
		s.logger.Warn("audit append failed", "type", e.Type, "key", e.Key, "err", err)
	}
}
