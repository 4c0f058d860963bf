// Package audit records who did what to reconciliation data.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Action names an audited operation.
type Action string

const (
	ActionReconciliationStarted   Action = "reconciliation.started"
	ActionDuplicatesReconciled    Action = "reconciliation.duplicates"
	ActionPairReconciled          Action = "reconciliation.pair"
	ActionReconciliationCompleted Action = "reconciliation.completed"
	ActionManualReconcile         Action = "transaction.reconciled"
	ActionManualUnreconcile       Action = "transaction.unreconciled"
	ActionAccountSynced           Action = "account.synced"
	ActionBalanceRefreshed        Action = "account.balance"
	ActionWebhookRegistered       Action = "account.webhook"
)

// Actor identifies the caller behind an operation.
type Actor struct {
	ID   string
	Name string
}

// System is the actor used for webhook-driven and scheduled work.
var System = Actor{ID: "system", Name: "system"}

// IsZero reports whether the actor is unset.
func (a Actor) IsZero() bool {
	return a.ID == ""
}

// Entry is one audit record.
type Entry struct {
	ID       uuid.UUID
	At       time.Time
	Actor    Actor
	Action   Action
	Entity   string
	EntityID int64
	Details  map[string]any
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (e Entry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("audit_id", e.ID.String())
	enc.AddTime("at", e.At)
	enc.AddString("actor", e.Actor.ID)
	enc.AddString("action", string(e.Action))
	enc.AddString("entity", e.Entity)
	enc.AddInt64("entity_id", e.EntityID)
	return enc.AddReflected("details", e.Details)
}

// NewEntry builds an entry with a fresh id and timestamp.
func NewEntry(actor Actor, action Action, entity string, entityID int64, details map[string]any) Entry {
	if actor.IsZero() {
		actor = System
	}
	return Entry{
		ID:       uuid.New(),
		At:       time.Now().UTC(),
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Details:  details,
	}
}

// Recorder accepts audit entries from domain services.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Sink persists entries.
type Sink interface {
	WriteEntry(ctx context.Context, e Entry) error
}

// LogSink writes entries as structured log lines.
type LogSink struct {
	Logger *zap.Logger
}

// WriteEntry implements Sink.
func (s LogSink) WriteEntry(ctx context.Context, e Entry) error {
	s.Logger.Info("audit", zap.Object("entry", e))
	return nil
}

// MultiSink fans an entry out to every sink and joins their errors.
type MultiSink []Sink

// WriteEntry implements Sink.
func (m MultiSink) WriteEntry(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteEntry(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards entries.
type Nop struct{}

// Record does nothing.
func (Nop) Record(ctx context.Context, e Entry) error { return nil }

type actorKey struct{}

// WithActor stores the actor in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored in ctx, or System.
func ActorFrom(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok && !a.IsZero() {
		return a
	}
	return System
}
