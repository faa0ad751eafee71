// Package escalate hands a session over to a human. Escalation freezes
// the execution state, records why, persists the freeze snapshot, and
// optionally notifies reviewers over the message bus. A frozen session
// never resumes automatically.
package escalate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/normagent/normagent/internal/logging"
	"github.com/normagent/normagent/internal/state"
	"github.com/normagent/normagent/internal/telemetry"
)

// SubjectPrefix is where review notifications are published; the session
// ID is appended as the final token.
const SubjectPrefix = "normagent.review."

// Archiver persists the freeze snapshot. Satisfied by checkpoint.Store.
type Archiver interface {
	Save(state.Snapshot) error
}

// Notifier publishes the review notification. Satisfied by *nats.Conn.
type Notifier interface {
	Publish(subject string, data []byte) error
}

// notice is the notification payload reviewers receive.
type notice struct {
	SessionID     string    `json:"session_id"`
	Query         string    `json:"user_query"`
	Reason        string    `json:"reason"`
	StepsExecuted int       `json:"steps_executed"`
	FrozenAt      time.Time `json:"frozen_at"`
}

type Gate struct {
	store  Archiver
	notify Notifier
	log    *logging.Logger
}

// New builds a gate. Both store and notify may be nil; escalation still
// freezes the state without them.
func New(store Archiver, notify Notifier, log *logging.Logger) *Gate {
	if log == nil {
		log = logging.Nop()
	}
	return &Gate{store: store, notify: notify, log: log.WithComponent("escalate")}
}

// Escalate moves st into human review and freezes it. The returned error
// reports a failed transition or a failed freeze record; a failed
// notification is logged but does not fail the escalation.
func (g *Gate) Escalate(ctx context.Context, st *state.State, reason string) error {
	_, span := telemetry.StartSpan(ctx, "escalate.escalate",
		attribute.String("session.id", st.SessionID()),
	)

	if reason == "" {
		reason = "unspecified escalation"
	}

	if err := st.SetStatus(state.StatusHumanReview); err != nil {
		err = fmt.Errorf("escalate: %w", err)
		telemetry.EndSpan(span, err)
		return err
	}
	if err := st.SetReviewReason(reason); err != nil {
		err = fmt.Errorf("escalate: %w", err)
		telemetry.EndSpan(span, err)
		return err
	}
	st.Freeze()

	snap := st.Snapshot()
	var persistErr error
	if g.store != nil {
		if persistErr = g.store.Save(snap); persistErr != nil {
			persistErr = fmt.Errorf("escalate: freeze record not persisted: %w", persistErr)
			g.log.Error("freeze record not persisted", map[string]any{
				"session_id": st.SessionID(),
				"error":      persistErr.Error(),
			})
		}
	}

	g.publish(st, reason, len(snap.History))
	g.log.Escalated(st.SessionID(), reason)

	telemetry.EndSpan(span, persistErr)
	return persistErr
}

func (g *Gate) publish(st *state.State, reason string, steps int) {
	if g.notify == nil {
		return
	}
	payload, err := json.Marshal(notice{
		SessionID:     st.SessionID(),
		Query:         st.Query(),
		Reason:        reason,
		StepsExecuted: steps,
		FrozenAt:      time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := g.notify.Publish(SubjectPrefix+st.SessionID(), payload); err != nil {
		g.log.Warn("review notification not delivered", map[string]any{
			"session_id": st.SessionID(),
			"error":      err.Error(),
		})
	}
}
