package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"helpling/internal/domain"
)

// Writer appends change events in the caller's transaction, so an event exists
// if and only if the mutation that produced it committed.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, tx *sqlx.Tx, evtType, entityKind, entityID, actorID string, payload any) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, entityKind, entityID, actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

// Decode unmarshals an event payload into dst.
func Decode(evt domain.Event, dst any) error {
	if evt.Payload == "" {
		return fmt.Errorf("event %d has empty payload", evt.ID)
	}
	if err := json.Unmarshal([]byte(evt.Payload), dst); err != nil {
		return fmt.Errorf("decode event %d payload: %w", evt.ID, err)
	}
	return nil
}
