package entstore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stripe retries webhook deliveries for days; claims older than the retention
// window are safe to forget.
const (
	inFlightTTL           = 10 * time.Minute
	DefaultEventRetention = 72 * time.Hour
)

// EventClaim is the outcome of claiming a webhook event id for processing.
type EventClaim int

const (
	// ClaimAcquired means the caller owns the event and must process it.
	ClaimAcquired EventClaim = iota
	// ClaimDuplicate means the event was already processed successfully.
	ClaimDuplicate
	// ClaimInFlight means another delivery of the same event is being
	// processed right now.
	ClaimInFlight
)

// ClaimEvent registers a webhook event id for processing. Redeliveries of a
// completed event report ClaimDuplicate; concurrent deliveries report
// ClaimInFlight. Claims abandoned by a crashed processor are reclaimed after
// a TTL so provider retries can eventually succeed.
func (s *Store) ClaimEvent(eventID string) (EventClaim, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return ClaimInFlight, errors.New("event id is required")
	}

	now := s.now().UTC().Unix()
	res, err := s.db.Exec(`INSERT INTO processed_events (event_id, state, started_at)
		VALUES (?, 'in_flight', ?) ON CONFLICT(event_id) DO NOTHING`, eventID, now)
	if err != nil {
		return ClaimInFlight, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return ClaimAcquired, nil
	}

	var state string
	if err := s.db.QueryRow(`SELECT state FROM processed_events WHERE event_id = ?`, eventID).Scan(&state); err != nil {
		return ClaimInFlight, fmt.Errorf("read event claim %s: %w", eventID, err)
	}
	if state == "done" {
		return ClaimDuplicate, nil
	}

	// Break stale in-flight claims (e.g. process crash mid-event).
	cutoff := s.now().UTC().Add(-inFlightTTL).Unix()
	res, err = s.db.Exec(`UPDATE processed_events SET started_at = ?
		WHERE event_id = ? AND state = 'in_flight' AND started_at < ?`, now, eventID, cutoff)
	if err != nil {
		return ClaimInFlight, fmt.Errorf("reclaim event %s: %w", eventID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return ClaimAcquired, nil
	}
	return ClaimInFlight, nil
}

// FinishEvent marks a claimed event as processed so redeliveries short-circuit.
func (s *Store) FinishEvent(eventID string) error {
	_, err := s.db.Exec(`UPDATE processed_events SET state = 'done', handled_at = ?
		WHERE event_id = ?`, s.now().UTC().Unix(), eventID)
	if err != nil {
		return fmt.Errorf("finish event %s: %w", eventID, err)
	}
	return nil
}

// ReleaseEvent drops an unfinished claim after a processing failure so the
// provider's redelivery can retry it.
func (s *Store) ReleaseEvent(eventID string) error {
	_, err := s.db.Exec(`DELETE FROM processed_events WHERE event_id = ? AND state = 'in_flight'`, eventID)
	if err != nil {
		return fmt.Errorf("release event %s: %w", eventID, err)
	}
	return nil
}

// PurgeEventsBefore evicts processed-event rows started before cutoff and
// returns the number of rows removed.
func (s *Store) PurgeEventsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM processed_events WHERE started_at < ?`, cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("purge processed events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
