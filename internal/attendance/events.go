package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"volunteerportal/internal/model"
	"volunteerportal/internal/queue"
)

// EventMarked is the queue message type published after every attendance mark.
const EventMarked = "attendance.marked"

// MarkedEvent is the body of an EventMarked message.
type MarkedEvent struct {
	SessionID   string    `json:"sessionId"`
	VolunteerID string    `json:"volunteerId"`
	IsPresent   bool      `json:"isPresent"`
	MarkedBy    string    `json:"markedBy"`
	At          time.Time `json:"at"`
}

// EncodeMarked builds the queue message for e.
func EncodeMarked(e MarkedEvent) (queue.Message, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return queue.Message{}, fmt.Errorf("encode %s: %w", EventMarked, err)
	}
	return queue.Message{Type: EventMarked, Body: body}, nil
}

// DecodeMarked parses an EventMarked message.
func DecodeMarked(msg queue.Message) (MarkedEvent, error) {
	if msg.Type != EventMarked {
		return MarkedEvent{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var e MarkedEvent
	if err := json.Unmarshal(msg.Body, &e); err != nil {
		return MarkedEvent{}, fmt.Errorf("decode %s: %w", EventMarked, err)
	}
	if e.VolunteerID == "" {
		return MarkedEvent{}, fmt.Errorf("decode %s: missing volunteerId", EventMarked)
	}
	return e, nil
}

// publishTimeout caps how long a committed mark waits on the event queue.
const publishTimeout = 250 * time.Millisecond

// Event outcomes reported by HandleEvent.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// publishMarked is best effort: the mark is already committed.
func (s *Service) publishMarked(ctx context.Context, e MarkedEvent) {
	if s.events == nil {
		return
	}
	e.At = time.Now().UTC()
	msg, err := EncodeMarked(e)
	if err == nil {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		err = s.events.Publish(pctx, msg)
		cancel()
	}
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", e.SessionID).Msg("publish attendance event")
	}
}

// HandleEvent applies one queue message and returns its outcome. Present
// marks reconcile the volunteer's attended set; everything else is skipped.
func (s *Service) HandleEvent(ctx context.Context, msg queue.Message) string {
	if msg.Type != EventMarked {
		s.log.Debug().Str("type", msg.Type).Msg("ignoring message")
		return OutcomeSkipped
	}
	evt, err := DecodeMarked(msg)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed event")
		return OutcomeFailed
	}
	if !evt.IsPresent {
		return OutcomeSkipped
	}

	err = s.ReconcileAttended(ctx, evt.VolunteerID)
	switch model.KindOf(err) {
	case "":
		s.log.Debug().Str("volunteer_id", evt.VolunteerID).Str("session_id", evt.SessionID).Msg("attended set reconciled")
		return OutcomeOK
	case model.KindNotFound:
		s.log.Info().Str("volunteer_id", evt.VolunteerID).Msg("volunteer removed before reconcile")
		return OutcomeSkipped
	default:
		return OutcomeFailed
	}
}
