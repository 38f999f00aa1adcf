package engine

import (
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/eliteGoblin/accountd/internal/domain"
)

// Recorder appends state transitions to the bounded audit log. The
// backing store caps the log at the most recent entries and returns
// them newest first.
type Recorder struct {
	store  domain.EventStore
	clock  domain.Clock
	logger *zap.Logger
}

// NewRecorder creates an event recorder over the given store.
func NewRecorder(store domain.EventStore, clock domain.Clock, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:  store,
		clock:  clock,
		logger: logger,
	}
}

// Record appends one event. A persistence failure is logged and
// returned, but callers on the enforcement path ignore it: a failed
// audit write must never stop a cycle.
func (r *Recorder) Record(kind domain.EventKind, target, message string) (domain.EventRecord, error) {
	record := domain.EventRecord{
		ID:        ulid.Make().String(),
		Kind:      kind,
		Target:    target,
		Timestamp: r.clock(),
		Message:   message,
	}

	if err := r.store.Append(record); err != nil {
		r.logger.Warn("failed to persist event",
			zap.String("kind", string(kind)),
			zap.String("target", target),
			zap.Error(err))
		return record, &domain.PersistenceError{Op: "append event", Err: err}
	}
	return record, nil
}

// List returns events newest first.
func (r *Recorder) List() ([]domain.EventRecord, error) {
	return r.store.Events()
}

// Clear empties the log. Irreversible; the UI layer is responsible
// for confirming with the user first.
func (r *Recorder) Clear() error {
	return r.store.Clear()
}
